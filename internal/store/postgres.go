package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS backtest_runs (
    id           UUID PRIMARY KEY,
    strategy     TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    start_date   TIMESTAMPTZ NOT NULL,
    end_date     TIMESTAMPTZ NOT NULL,
    final_value  DOUBLE PRECISION NOT NULL,
    total_return DOUBLE PRECISION NOT NULL,
    result       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS backtest_runs_created_at_idx ON backtest_runs (created_at);
`

type pgRepository struct {
	db *pgxpool.Pool
}

// NewPGRepository 基于连接池的 Postgres 仓储
func NewPGRepository(db *pgxpool.Pool) Repository {
	return &pgRepository{db: db}
}

// Connect 建立连接池并确保表存在
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema 创建 backtest_runs 表
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (r *pgRepository) SaveRun(ctx context.Context, run *types.BacktestResult) error {
	if run == nil || run.ID == "" {
		return errors.New("run has no id")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	const upsertSQL = `
        INSERT INTO backtest_runs (
            id, strategy, created_at,
            start_date, end_date,
            final_value, total_return,
            result
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (id) DO UPDATE SET
            strategy     = EXCLUDED.strategy,
            created_at   = EXCLUDED.created_at,
            start_date   = EXCLUDED.start_date,
            end_date     = EXCLUDED.end_date,
            final_value  = EXCLUDED.final_value,
            total_return = EXCLUDED.total_return,
            result       = EXCLUDED.result
    `
	_, err = r.db.Exec(
		ctx, upsertSQL,
		run.ID,
		run.Strategy,
		run.CreatedAt,
		run.StartDate,
		run.EndDate,
		run.FinalValue,
		run.TotalReturn,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

func (r *pgRepository) GetRun(ctx context.Context, id string) (*types.BacktestResult, error) {
	// 主键是 UUID, 不合法的 id 不可能存在
	key, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var payload []byte
	err = r.db.QueryRow(ctx, `SELECT result FROM backtest_runs WHERE id = $1`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	var run types.BacktestResult
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &run, nil
}

func (r *pgRepository) ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, error) {
	limit, offset = normalizePage(limit, offset)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
        SELECT id::text, strategy, created_at, start_date, end_date, final_value, total_return
        FROM backtest_runs
        ORDER BY created_at, id
        LIMIT $1 OFFSET $2
    `, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunSummary, 0)
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.ID, &s.Strategy, &s.CreatedAt, &s.StartDate, &s.EndDate, &s.FinalValue, &s.TotalReturn); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
