package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// auditRow keeps the indexed columns next to the full JSON record.
type auditRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Event     string `gorm:"index"`
	OpHash    string `gorm:"index"`
	CreatedNs int64  `gorm:"index"`
	Payload   string
}

func (auditRow) TableName() string { return "audit_log" }

func (r auditRow) record() (domain.AuditRecord, error) {
	var rec domain.AuditRecord
	if err := json.Unmarshal([]byte(r.Payload), &rec); err != nil {
		return rec, fmt.Errorf("sqlite: decode audit %d: %w", r.ID, err)
	}
	rec.ID = r.ID
	return rec, nil
}

// AuditStore is the append-only audit log.
type AuditStore struct {
	db *DB
}

// NewAuditStore returns an AuditStore over db.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append stores rec, stamping CreatedAt when unset.
func (s *AuditStore) Append(ctx context.Context, rec domain.AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ID = 0
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlite: encode audit: %w", err)
	}
	row := auditRow{
		Event:     rec.Event,
		OpHash:    rec.OpHash.Hex(),
		CreatedNs: rec.CreatedAt.UnixNano(),
		Payload:   string(payload),
	}
	if err := s.db.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("sqlite: append audit: %w", err)
	}
	return nil
}

// List returns records newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditRecord, error) {
	q := s.db.db.WithContext(ctx).Model(&auditRow{})
	if opts.Since != nil {
		q = q.Where("created_ns >= ?", opts.Since.UnixNano())
	}
	if opts.Until != nil {
		q = q.Where("created_ns <= ?", opts.Until.UnixNano())
	}
	q = q.Order("created_ns DESC, id DESC")
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var rows []auditRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list audit: %w", err)
	}
	return decodeAudit(rows)
}

// ListBefore returns records created before the cutoff, oldest first.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditRecord, error) {
	var rows []auditRow
	err := s.db.db.WithContext(ctx).
		Where("created_ns < ?", before.UnixNano()).
		Order("created_ns ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit before: %w", err)
	}
	return decodeAudit(rows)
}

// DeleteBefore drops records created before the cutoff.
func (s *AuditStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.db.WithContext(ctx).Where("created_ns < ?", before.UnixNano()).Delete(&auditRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("sqlite: delete audit: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func decodeAudit(rows []auditRow) ([]domain.AuditRecord, error) {
	out := make([]domain.AuditRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
