package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/store/memory"
)

var asset = common.HexToAddress("0xA1")

type recordingObserver struct {
	mu     sync.Mutex
	prices []decimal.Decimal
}

func (r *recordingObserver) Observe(_ common.Address, price, _ decimal.Decimal, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = append(r.prices, price)
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prices)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTickApply(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantErr bool
	}{
		{"tick", `{"type":"tick","asset":"0x00000000000000000000000000000000000000a1","price":"1.05","volume":"100"}`, false},
		{"fee", `{"type":"fee","fee_price":12}`, false},
		{"no asset", `{"type":"tick","price":"1","volume":"1"}`, true},
		{"zero price", `{"type":"tick","asset":"0x00000000000000000000000000000000000000a1","price":"0","volume":"1"}`, true},
		{"unknown", `{"type":"book"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStatic(decimal.NewFromInt(10))
			tick, err := DecodeTick([]byte(tt.msg))
			if err != nil {
				t.Fatal(err)
			}
			if err := tick.Apply(s); (err != nil) != tt.wantErr {
				t.Fatalf("Apply() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatic_UpdateNotifiesObservers(t *testing.T) {
	s := NewStatic(decimal.NewFromInt(10))
	obs := &recordingObserver{}
	s.Subscribe(obs)
	s.Update(asset, decimal.NewFromInt(2), decimal.NewFromInt(5))

	snap, err := s.Snapshot(context.Background(), asset)
	if err != nil || !snap.Price.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("Snapshot() = %+v, %v", snap, err)
	}
	if obs.count() != 1 {
		t.Fatalf("observer saw %d updates", obs.count())
	}
	s.SetFeePrice(decimal.NewFromInt(7))
	if fp, _ := s.FeePrice(context.Background()); !fp.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("FeePrice() = %s", fp)
	}
}

func TestWSClient_StreamsIntoStatic(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub subscribeCommand
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != "subscribe" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tick","asset":"`+asset.Hex()+`","price":"1.5","volume":"9"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"fee","fee_price":"3"}`))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewStatic(decimal.NewFromInt(10))
	c := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), []common.Address{asset}, s, discard())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		fp, _ := s.FeePrice(ctx)
		if fp.Equal(decimal.NewFromInt(3)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fee tick never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, err := s.Snapshot(ctx, asset)
	if err != nil || !snap.Price.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("Snapshot() = %+v, %v", snap, err)
	}
	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("Run() = %v", err)
	}
}

func TestBusFeeder(t *testing.T) {
	bus := memory.NewSignalBus(8)
	s := NewStatic(decimal.NewFromInt(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewBusFeeder(bus, "ch:ticks", s, discard())
	errc := make(chan error, 1)
	go func() { errc <- f.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = bus.Publish(ctx, "ch:ticks", []byte(`{"type":"fee","fee_price":"4"}`))
		if fp, _ := s.FeePrice(ctx); fp.Equal(decimal.NewFromInt(4)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("tick never applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-errc
}
