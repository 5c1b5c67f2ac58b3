package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/quantloop/enginecore/internal/candle"
	"github.com/quantloop/enginecore/internal/recipe"
)

// DBPool is the subset of pgxpool.Pool's surface JobManager needs, so tests
// can substitute pgxmock without a real database.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// JobStatus is the lifecycle state of an asynchronously run backtest.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one tracked backtest run: a recipe name plus a candle window,
// followed through to a persisted Result.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	RecipeName     string     `json:"recipe_name"`
	Symbol         string     `json:"symbol"`
	Status         JobStatus  `json:"status"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	InitialCapital float64    `json:"initial_capital"`
	Result         *Result    `json:"result,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// JobManager tracks asynchronous backtest jobs in Postgres and runs them
// against the in-process Simulator.
type JobManager struct {
	db DBPool
	mu sync.RWMutex
}

// NewJobManager constructs a JobManager backed by db, accepting any DBPool
// (a real pgxpool.Pool in production, pgxmock in tests).
func NewJobManager(db DBPool) *JobManager {
	return &JobManager{db: db}
}

// NewJobManagerWithPool constructs a JobManager from a concrete pgxpool.Pool.
func NewJobManagerWithPool(db *pgxpool.Pool) *JobManager {
	return &JobManager{db: db}
}

// CreateJob validates and persists a new pending job.
func (m *JobManager) CreateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Status = JobStatusPending

	if err := validateJob(job); err != nil {
		return fmt.Errorf("invalid job configuration: %w", err)
	}

	query := `
		INSERT INTO backtest_jobs (
			id, recipe_name, symbol, status, start_date, end_date,
			initial_capital, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := m.db.Exec(ctx, query,
		job.ID, job.RecipeName, job.Symbol, job.Status, job.StartDate, job.EndDate,
		job.InitialCapital, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert backtest job: %w", err)
	}

	log.Info().Str("job_id", job.ID.String()).Str("recipe", job.RecipeName).Msg("created backtest job")
	return nil
}

func validateJob(job *Job) error {
	if job.RecipeName == "" {
		return fmt.Errorf("recipe_name is required")
	}
	if job.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !job.EndDate.After(job.StartDate) {
		return fmt.Errorf("end_date must be after start_date")
	}
	if job.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive")
	}
	return nil
}

// RunJob executes the job synchronously against r and candles, persisting
// the outcome: the job is marked running, then completed with its Result or
// failed with the simulator's error.
func (m *JobManager) RunJob(ctx context.Context, job *Job, r *recipe.Recipe, candles []candle.Candle, cfg Config) error {
	if err := m.UpdateJobStatus(ctx, job.ID, JobStatusRunning, ""); err != nil {
		return err
	}
	result, err := NewSimulator(cfg).Run(r, candles)
	if err != nil {
		_ = m.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error())
		return err
	}
	return m.SaveResult(ctx, job.ID, result)
}

// GetJob retrieves a job (with its result, if completed) by ID.
func (m *JobManager) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT id, recipe_name, symbol, status, start_date, end_date,
		       initial_capital, result_json, error_message,
		       created_at, started_at, completed_at, updated_at
		FROM backtest_jobs
		WHERE id = $1
	`
	var job Job
	var resultJSON []byte
	err := m.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.RecipeName, &job.Symbol, &job.Status, &job.StartDate, &job.EndDate,
		&job.InitialCapital, &resultJSON, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("retrieve backtest job: %w", err)
	}
	if len(resultJSON) > 0 {
		var result Result
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("unmarshal job result: %w", err)
		}
		job.Result = &result
	}
	return &job, nil
}

// ListJobs returns jobs newest-first, paginated.
func (m *JobManager) ListJobs(ctx context.Context, limit, offset int) ([]*Job, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int
	if err := m.db.QueryRow(ctx, `SELECT COUNT(*) FROM backtest_jobs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count backtest jobs: %w", err)
	}

	query := `
		SELECT id, recipe_name, symbol, status, start_date, end_date,
		       initial_capital, error_message,
		       created_at, started_at, completed_at, updated_at
		FROM backtest_jobs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := m.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query backtest jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		var job Job
		if err := rows.Scan(
			&job.ID, &job.RecipeName, &job.Symbol, &job.Status, &job.StartDate, &job.EndDate,
			&job.InitialCapital, &job.ErrorMessage,
			&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan backtest job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, total, nil
}

// UpdateJobStatus transitions a job's status, stamping started_at/
// completed_at as appropriate.
func (m *JobManager) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status JobStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var startedAt, completedAt *time.Time
	switch status {
	case JobStatusRunning:
		startedAt = &now
	case JobStatusCompleted, JobStatusFailed:
		completedAt = &now
	}

	query := `
		UPDATE backtest_jobs
		SET status = $1,
		    started_at = COALESCE($2, started_at),
		    completed_at = COALESCE($3, completed_at),
		    error_message = $4,
		    updated_at = $5
		WHERE id = $6
	`
	_, err := m.db.Exec(ctx, query, status, startedAt, completedAt, errMsg, now, jobID)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// SaveResult persists the completed result and marks the job completed.
func (m *JobManager) SaveResult(ctx context.Context, jobID uuid.UUID, result *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal backtest result: %w", err)
	}
	now := time.Now()
	query := `
		UPDATE backtest_jobs
		SET result_json = $1, status = $2, completed_at = $3, updated_at = $4
		WHERE id = $5
	`
	_, err = m.db.Exec(ctx, query, resultJSON, JobStatusCompleted, now, now, jobID)
	if err != nil {
		return fmt.Errorf("save backtest result: %w", err)
	}
	log.Info().Str("job_id", jobID.String()).Float64("final_equity", result.FinalEquity).Msg("saved backtest result")
	return nil
}

// DeleteJob removes a job record.
func (m *JobManager) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.Exec(ctx, `DELETE FROM backtest_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete backtest job: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("backtest job not found")
	}
	return nil
}
