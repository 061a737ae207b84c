package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// StrategyStateStore implements domain.StrategyStateStore using PostgreSQL.
// Config and performance are stored as JSONB so new counters need no
// migration.
type StrategyStateStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStateStore creates a new StrategyStateStore backed by the given connection pool.
func NewStrategyStateStore(pool *pgxpool.Pool) *StrategyStateStore {
	return &StrategyStateStore{pool: pool}
}

// Get retrieves one strategy snapshot by id.
func (s *StrategyStateStore) Get(ctx context.Context, id string) (domain.StrategySnapshot, error) {
	const query = `SELECT id, name, config, performance, risk_score, updated_at FROM strategy_state WHERE id = $1`
	snap, err := scanStrategy(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StrategySnapshot{}, domain.ErrNotFound
		}
		return domain.StrategySnapshot{}, fmt.Errorf("postgres: get strategy state %s: %w", id, err)
	}
	return snap, nil
}

// Upsert inserts or replaces a strategy snapshot.
func (s *StrategyStateStore) Upsert(ctx context.Context, snap domain.StrategySnapshot) error {
	cfgJSON, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy config %s: %w", snap.ID, err)
	}
	perfJSON, err := json.Marshal(snap.Performance)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy performance %s: %w", snap.ID, err)
	}

	const query = `
		INSERT INTO strategy_state (id, name, config, performance, risk_score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name        = EXCLUDED.name,
			config      = EXCLUDED.config,
			performance = EXCLUDED.performance,
			risk_score  = EXCLUDED.risk_score,
			updated_at  = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query, snap.ID, snap.Name, cfgJSON, perfJSON, snap.RiskScore, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy state %s: %w", snap.ID, err)
	}
	return nil
}

// List returns all strategy snapshots ordered by id.
func (s *StrategyStateStore) List(ctx context.Context) ([]domain.StrategySnapshot, error) {
	const query = `SELECT id, name, config, performance, risk_score, updated_at FROM strategy_state ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategy state: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategySnapshot
	for rows.Next() {
		snap, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy state: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategy state rows: %w", err)
	}
	return out, nil
}

func scanStrategy(row pgx.Row) (domain.StrategySnapshot, error) {
	var snap domain.StrategySnapshot
	var cfgJSON, perfJSON []byte
	if err := row.Scan(&snap.ID, &snap.Name, &cfgJSON, &perfJSON, &snap.RiskScore, &snap.UpdatedAt); err != nil {
		return domain.StrategySnapshot{}, err
	}
	if err := json.Unmarshal(cfgJSON, &snap.Config); err != nil {
		return domain.StrategySnapshot{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(perfJSON, &snap.Performance); err != nil {
		return domain.StrategySnapshot{}, fmt.Errorf("unmarshal performance: %w", err)
	}
	snap.SuccessRateBps = snap.Performance.SuccessRateBps()
	snap.AvgProfit = snap.Performance.AvgProfit()
	return snap, nil
}

var _ domain.StrategyStateStore = (*StrategyStateStore)(nil)
