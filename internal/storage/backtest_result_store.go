package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantloop/enginecore/internal/backtest"
)

// BacktestRecord is one stored backtest run: the raw simulator Result plus
// the pre-rendered JSON report, so the reporting API can serve either without
// recomputing performance metrics on every read.
type BacktestRecord struct {
	ID         string
	RecipeName string
	Symbol     string
	CreatedAt  time.Time
	Result     backtest.Result
	ReportJSON []byte
}

// BacktestResultStore persists BacktestRecords.
type BacktestResultStore struct {
	pool PoolInterface
}

// NewBacktestResultStore creates a BacktestResultStore backed by pool.
func NewBacktestResultStore(pool PoolInterface) *BacktestResultStore {
	return &BacktestResultStore{pool: pool}
}

// Save inserts rec, assigning a new ID if rec.ID is empty, and returns the
// stored ID.
func (s *BacktestResultStore) Save(ctx context.Context, rec *BacktestRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return "", fmt.Errorf("marshaling backtest result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO backtest_results (id, recipe_name, symbol, result_json, report_json, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, rec.ID, rec.RecipeName, rec.Symbol, resultJSON, rec.ReportJSON)
	if err != nil {
		return "", fmt.Errorf("saving backtest result %s: %w", rec.ID, err)
	}

	return rec.ID, nil
}

// Get fetches the record with the given id.
func (s *BacktestResultStore) Get(ctx context.Context, id string) (*BacktestRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, recipe_name, symbol, result_json, report_json, created_at
		FROM backtest_results WHERE id = $1
	`, id)

	rec, err := scanBacktestRecord(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("backtest result %s not found", id)
		}
		return nil, fmt.Errorf("fetching backtest result %s: %w", id, err)
	}
	return rec, nil
}

// List returns stored records ordered by created_at descending, most recent
// first, paged by limit/offset.
func (s *BacktestResultStore) List(ctx context.Context, limit, offset int) ([]*BacktestRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recipe_name, symbol, result_json, report_json, created_at
		FROM backtest_results
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing backtest results: %w", err)
	}
	defer rows.Close()

	var out []*BacktestRecord
	for rows.Next() {
		rec, err := scanBacktestRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning backtest result row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating backtest result rows: %w", err)
	}
	return out, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBacktestRecord(row scanner) (*BacktestRecord, error) {
	var rec BacktestRecord
	var resultJSON []byte
	if err := row.Scan(&rec.ID, &rec.RecipeName, &rec.Symbol, &resultJSON, &rec.ReportJSON, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
		return nil, fmt.Errorf("unmarshaling stored result: %w", err)
	}
	return &rec, nil
}
