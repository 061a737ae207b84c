package feed

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Observer receives every price and volume update a feed accepts.
type Observer interface {
	Observe(asset common.Address, price, volume decimal.Decimal, at time.Time)
}

// Static is a settable, in-process MarketFeed. Paper mode and tests drive
// it directly; the websocket client writes into one as updates arrive.
type Static struct {
	mu        sync.RWMutex
	feePrice  decimal.Decimal
	snapshots map[common.Address]domain.MarketSnapshot
	observers []Observer
	now       func() time.Time
}

// NewStatic returns a feed quoting feePrice and no assets.
func NewStatic(feePrice decimal.Decimal) *Static {
	return &Static{
		feePrice:  feePrice,
		snapshots: make(map[common.Address]domain.MarketSnapshot),
		now:       time.Now,
	}
}

// Subscribe registers o for subsequent updates.
func (s *Static) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// SetFeePrice updates the network fee price.
func (s *Static) SetFeePrice(p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feePrice = p
}

// Update records a price and volume observation for asset.
func (s *Static) Update(asset common.Address, price, volume decimal.Decimal) {
	at := s.now()
	s.mu.Lock()
	s.snapshots[asset] = domain.MarketSnapshot{Price: price, Volume: volume, UpdatedAt: at}
	obs := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range obs {
		o.Observe(asset, price, volume, at)
	}
}

// FeePrice implements domain.MarketFeed.
func (s *Static) FeePrice(context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feePrice, nil
}

// Snapshot implements domain.MarketFeed.
func (s *Static) Snapshot(_ context.Context, asset common.Address) (domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[asset]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

// State implements domain.MarketFeed.
func (s *Static) State(context.Context) (domain.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assets := make(map[common.Address]domain.MarketSnapshot, len(s.snapshots))
	for a, snap := range s.snapshots {
		assets[a] = snap
	}
	return domain.MarketState{FeePrice: s.feePrice, Assets: assets}, nil
}

var _ domain.MarketFeed = (*Static)(nil)
