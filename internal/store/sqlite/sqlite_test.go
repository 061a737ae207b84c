package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "flasharb.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAuditStore_ListAndArchiveWindow(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore(openTest(t))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.Append(ctx, domain.AuditRecord{
			Event:     "attempt",
			OpHash:    common.HexToHash("0xab"),
			Outcome:   "succeeded",
			Amount:    decimal.NewFromInt(int64(100 + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recs, err := s.List(ctx, domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || !recs[0].CreatedAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("List = %+v, want newest first", recs)
	}
	if recs[0].ID == 0 || recs[0].ID == recs[1].ID {
		t.Errorf("ids = %d, %d", recs[0].ID, recs[1].ID)
	}
	if !recs[0].Amount.Equal(decimal.NewFromInt(102)) || recs[0].OpHash != common.HexToHash("0xab") {
		t.Errorf("round trip lost fields: %+v", recs[0])
	}

	since := base.Add(time.Hour)
	recs, _ = s.List(ctx, domain.ListOpts{Since: &since})
	if len(recs) != 2 {
		t.Errorf("List since = %d records, want 2", len(recs))
	}

	old, err := s.ListBefore(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("ListBefore: %v", err)
	}
	if len(old) != 2 || !old[0].CreatedAt.Equal(base) {
		t.Fatalf("ListBefore = %+v, want two oldest first", old)
	}
	n, err := s.DeleteBefore(ctx, base.Add(90*time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("DeleteBefore = %d, %v", n, err)
	}
	recs, _ = s.List(ctx, domain.ListOpts{})
	if len(recs) != 1 {
		t.Errorf("after delete %d records, want 1", len(recs))
	}
}

func TestAttemptStore(t *testing.T) {
	ctx := context.Background()
	s := NewAttemptStore(openTest(t))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		err := s.Save(ctx, domain.ExecutionResult{
			AttemptID:  id,
			StrategyID: "cross",
			Status:     domain.AttemptSucceeded,
			Profit:     decimal.NewFromInt(5),
			LegOutputs: []decimal.Decimal{decimal.NewFromInt(105), decimal.NewFromInt(106)},
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	if err := s.Save(ctx, domain.ExecutionResult{AttemptID: "a"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate Save err = %v, want ErrAlreadyExists", err)
	}

	got, err := s.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.AttemptSucceeded || len(got.LegOutputs) != 2 || !got.Profit.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Get = %+v", got)
	}
	if _, err := s.Get(ctx, "zzz"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get missing err = %v, want ErrNotFound", err)
	}

	recent, _ := s.ListRecent(ctx, domain.ListOpts{Limit: 2})
	if len(recent) != 2 || recent[0].AttemptID != "c" || recent[1].AttemptID != "b" {
		t.Errorf("ListRecent = %v", ids(recent))
	}
	old, _ := s.ListBefore(ctx, base.Add(90*time.Second))
	if len(old) != 2 || old[0].AttemptID != "a" {
		t.Errorf("ListBefore = %v", ids(old))
	}
	if n, err := s.DeleteBefore(ctx, base.Add(90*time.Second)); err != nil || n != 2 {
		t.Errorf("DeleteBefore = %d, %v", n, err)
	}
}

func TestStrategyStateStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewStrategyStateStore(openTest(t))

	snap := domain.StrategySnapshot{ID: "cross", Name: "cross"}
	snap.Performance.TotalAttempts = 1
	if err := s.Upsert(ctx, snap); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	snap.Performance.TotalAttempts = 4
	snap.Performance.TotalProfit = decimal.NewFromInt(20)
	if err := s.Upsert(ctx, snap); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	_ = s.Upsert(ctx, domain.StrategySnapshot{ID: "alpha"})

	got, err := s.Get(ctx, "cross")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Performance.TotalAttempts != 4 || !got.Performance.TotalProfit.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Get = %+v", got.Performance)
	}
	all, _ := s.List(ctx)
	if len(all) != 2 || all[0].ID != "alpha" {
		t.Errorf("List = %+v", all)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get missing err = %v", err)
	}
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flasharb.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := NewStrategyStateStore(db).Upsert(ctx, domain.StrategySnapshot{ID: "cross"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	if _, err := NewStrategyStateStore(db).Get(ctx, "cross"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}

func ids(rs []domain.ExecutionResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.AttemptID
	}
	return out
}
