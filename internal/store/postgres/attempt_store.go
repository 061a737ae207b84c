package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// AttemptStore implements domain.AttemptStore using PostgreSQL.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates a new AttemptStore.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const attemptColumns = `attempt_id, op_hash, strategy_id, bundle_id, caller, asset_in, status, amount, premium, final_balance, profit, fee_cost, class, error, started_at, completed_at`

// Save inserts an attempt and its leg outputs.
func (s *AttemptStore) Save(ctx context.Context, res domain.ExecutionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	bundle := ""
	if (res.BundleID != common.Hash{}) {
		bundle = res.BundleID.Hex()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		res.AttemptID, res.OpHash.Hex(), res.StrategyID, bundle, res.Caller.Hex(), res.AssetIn.Hex(),
		string(res.Status), res.Amount, res.Premium, res.FinalBalance, res.Profit, res.FeeCost,
		string(res.Class), res.Error, res.StartedAt, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert attempt: %w", err)
	}

	for i, out := range res.LegOutputs {
		_, err = tx.Exec(ctx,
			`INSERT INTO attempt_legs (attempt_id, idx, amount_out) VALUES ($1, $2, $3)`,
			res.AttemptID, i, out,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert attempt leg: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Get returns one attempt with its leg outputs.
func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.ExecutionResult, error) {
	res, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE attempt_id = $1`, attemptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, domain.ErrNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get attempt %s: %w", attemptID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT amount_out FROM attempt_legs WHERE attempt_id = $1 ORDER BY idx`, attemptID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get attempt legs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var out decimal.Decimal
		if err := rows.Scan(&out); err != nil {
			return domain.ExecutionResult{}, err
		}
		res.LegOutputs = append(res.LegOutputs, out)
	}
	if err := rows.Err(); err != nil {
		return domain.ExecutionResult{}, err
	}
	return res, nil
}

// ListRecent returns the most recent attempts without leg outputs.
func (s *AttemptStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
		limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts: %w", err)
	}
	return collectAttempts(rows)
}

// ListBefore returns every attempt started before the cutoff, oldest first.
func (s *AttemptStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE started_at < $1 ORDER BY started_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts before: %w", err)
	}
	return collectAttempts(rows)
}

// DeleteBefore removes archived attempts. Legs go with them.
func (s *AttemptStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM attempts WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete attempts before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectAttempts(rows pgx.Rows) ([]domain.ExecutionResult, error) {
	defer rows.Close()
	var out []domain.ExecutionResult
	for rows.Next() {
		res, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attempts rows: %w", err)
	}
	return out, nil
}

func scanAttempt(row pgx.Row) (domain.ExecutionResult, error) {
	var (
		res                                   domain.ExecutionResult
		opHash, bundle, caller, asset, status string
		class                                 string
	)
	err := row.Scan(&res.AttemptID, &opHash, &res.StrategyID, &bundle, &caller, &asset,
		&status, &res.Amount, &res.Premium, &res.FinalBalance, &res.Profit, &res.FeeCost,
		&class, &res.Error, &res.StartedAt, &res.CompletedAt)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	res.OpHash = common.HexToHash(opHash)
	if bundle != "" {
		res.BundleID = common.HexToHash(bundle)
	}
	res.Caller = common.HexToAddress(caller)
	res.AssetIn = common.HexToAddress(asset)
	res.Status = domain.AttemptStatus(status)
	res.Class = domain.ErrorClass(class)
	return res, nil
}

var _ domain.AttemptStore = (*AttemptStore)(nil)
