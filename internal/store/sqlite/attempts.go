package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type attemptRow struct {
	AttemptID  string `gorm:"primaryKey"`
	StrategyID string `gorm:"index"`
	Status     string
	StartedNs  int64 `gorm:"index"`
	Payload    string
}

func (attemptRow) TableName() string { return "attempts" }

// AttemptStore persists attempt results by id.
type AttemptStore struct {
	db *DB
}

// NewAttemptStore returns an AttemptStore over db.
func NewAttemptStore(db *DB) *AttemptStore {
	return &AttemptStore{db: db}
}

// Save stores res. Attempt ids are unique.
func (s *AttemptStore) Save(ctx context.Context, res domain.ExecutionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("sqlite: encode attempt: %w", err)
	}
	row := attemptRow{
		AttemptID:  res.AttemptID,
		StrategyID: res.StrategyID,
		Status:     string(res.Status),
		StartedNs:  res.StartedAt.UnixNano(),
		Payload:    string(payload),
	}
	return s.db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&attemptRow{}).Where("attempt_id = ?", res.AttemptID).Count(&n).Error; err != nil {
			return fmt.Errorf("sqlite: save attempt: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("sqlite: attempt %s: %w", res.AttemptID, domain.ErrAlreadyExists)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("sqlite: save attempt: %w", err)
		}
		return nil
	})
}

// Get returns one attempt.
func (s *AttemptStore) Get(ctx context.Context, id string) (domain.ExecutionResult, error) {
	var row attemptRow
	err := s.db.db.WithContext(ctx).First(&row, "attempt_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ExecutionResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("sqlite: get attempt: %w", err)
	}
	return row.result()
}

// ListRecent returns attempts newest first.
func (s *AttemptStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	q := s.db.db.WithContext(ctx).Order("started_ns DESC")
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var rows []attemptRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list attempts: %w", err)
	}
	return decodeAttempts(rows)
}

// ListBefore returns attempts started before the cutoff, oldest first.
func (s *AttemptStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	var rows []attemptRow
	err := s.db.db.WithContext(ctx).
		Where("started_ns < ?", before.UnixNano()).
		Order("started_ns ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite: list attempts before: %w", err)
	}
	return decodeAttempts(rows)
}

// DeleteBefore drops attempts started before the cutoff.
func (s *AttemptStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.db.WithContext(ctx).Where("started_ns < ?", before.UnixNano()).Delete(&attemptRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("sqlite: delete attempts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r attemptRow) result() (domain.ExecutionResult, error) {
	var res domain.ExecutionResult
	if err := json.Unmarshal([]byte(r.Payload), &res); err != nil {
		return res, fmt.Errorf("sqlite: decode attempt %s: %w", r.AttemptID, err)
	}
	return res, nil
}

func decodeAttempts(rows []attemptRow) ([]domain.ExecutionResult, error) {
	out := make([]domain.ExecutionResult, 0, len(rows))
	for _, r := range rows {
		res, err := r.result()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

var _ domain.AttemptStore = (*AttemptStore)(nil)
