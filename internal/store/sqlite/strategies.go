package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type strategyRow struct {
	ID      string `gorm:"primaryKey"`
	Payload string
}

func (strategyRow) TableName() string { return "strategy_state" }

// StrategyStateStore keeps the latest snapshot per strategy.
type StrategyStateStore struct {
	db *DB
}

// NewStrategyStateStore returns a StrategyStateStore over db.
func NewStrategyStateStore(db *DB) *StrategyStateStore {
	return &StrategyStateStore{db: db}
}

func (s *StrategyStateStore) Upsert(ctx context.Context, snap domain.StrategySnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: encode strategy: %w", err)
	}
	row := strategyRow{ID: snap.ID, Payload: string(payload)}
	err = s.db.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sqlite: upsert strategy %s: %w", snap.ID, err)
	}
	return nil
}

func (s *StrategyStateStore) Get(ctx context.Context, id string) (domain.StrategySnapshot, error) {
	var row strategyRow
	err := s.db.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.StrategySnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StrategySnapshot{}, fmt.Errorf("sqlite: get strategy: %w", err)
	}
	return row.snapshot()
}

func (s *StrategyStateStore) List(ctx context.Context) ([]domain.StrategySnapshot, error) {
	var rows []strategyRow
	if err := s.db.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list strategies: %w", err)
	}
	out := make([]domain.StrategySnapshot, 0, len(rows))
	for _, r := range rows {
		snap, err := r.snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (r strategyRow) snapshot() (domain.StrategySnapshot, error) {
	var snap domain.StrategySnapshot
	if err := json.Unmarshal([]byte(r.Payload), &snap); err != nil {
		return snap, fmt.Errorf("sqlite: decode strategy %s: %w", r.ID, err)
	}
	return snap, nil
}

var _ domain.StrategyStateStore = (*StrategyStateStore)(nil)
