package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

const auditColumns = `id, event, op_hash, attempt_id, asset, actor, strategy_id, outcome, class, reason, amount, profit, detail, created_at`

// Append inserts one audit record. The detail map is stored as JSONB.
func (s *AuditStore) Append(ctx context.Context, rec domain.AuditRecord) error {
	var detailJSON []byte
	if len(rec.Detail) > 0 {
		b, err := json.Marshal(rec.Detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal audit detail: %w", err)
		}
		detailJSON = b
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO audit_log (event, op_hash, attempt_id, asset, actor, strategy_id, outcome, class, reason, amount, profit, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.pool.Exec(ctx, query,
		rec.Event, rec.OpHash.Hex(), rec.AttemptID, rec.Asset.Hex(), rec.Actor.Hex(),
		rec.StrategyID, rec.Outcome, string(rec.Class), rec.Reason,
		rec.Amount, rec.Profit, detailJSON, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append audit event %s: %w", rec.Event, err)
	}
	return nil
}

// List returns audit records newest first with pagination and optional
// time filtering.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit records: %w", err)
	}
	return collectAudit(rows)
}

// ListBefore returns every record created before the cutoff, oldest first.
// The archiver uses it to move records to cold storage.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE created_at < $1 ORDER BY created_at, id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectAudit(rows)
}

// DeleteBefore removes archived records.
func (s *AuditStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete audit before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectAudit(rows pgx.Rows) ([]domain.AuditRecord, error) {
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var (
			rec                         domain.AuditRecord
			opHash, asset, actor, class string
			detailJSON                  []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Event, &opHash, &rec.AttemptID, &asset, &actor,
			&rec.StrategyID, &rec.Outcome, &class, &rec.Reason, &rec.Amount, &rec.Profit,
			&detailJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit record: %w", err)
		}
		rec.OpHash = common.HexToHash(opHash)
		rec.Asset = common.HexToAddress(asset)
		rec.Actor = common.HexToAddress(actor)
		rec.Class = domain.ErrorClass(class)
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &rec.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit rows: %w", err)
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
