package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iago/consulta-async/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresJobsRepository keeps the ledger in the consulta table. Every call
// borrows a pooled connection for a single statement.
type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(pool *pgxpool.Pool) *PostgresJobsRepository {
	return &PostgresJobsRepository{pool: pool}
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO consulta (
			tipo_consulta,
			codigo_buscado,
			status,
			created_at
		) VALUES ($1,$2,$3,$4)
		RETURNING id
	`,
		string(job.Kind),
		job.SearchKey,
		string(job.State),
		job.CreatedAt,
	).Scan(&job.ID)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID int64) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tipo_consulta, codigo_buscado, status, resultado, created_at, processed_at
		FROM consulta
		WHERE id = $1
	`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) CompleteJob(
	ctx context.Context,
	jobID int64,
	outcome domain.Outcome,
	processedAt time.Time,
) (*domain.Job, error) {
	var payload []byte
	if outcome.Result != nil {
		encoded, err := json.Marshal(outcome.Result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		payload = encoded
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE consulta
		SET status = $2,
			resultado = $3,
			processed_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING id, tipo_consulta, codigo_buscado, status, resultado, created_at, processed_at
	`, jobID, string(outcome.State), payload, processedAt)

	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("complete job: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM consulta WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, domain.ErrAlreadyTerminal
}

func (r *PostgresJobsRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job         domain.Job
		kind        string
		state       string
		result      []byte
		processedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&kind,
		&job.SearchKey,
		&state,
		&result,
		&job.CreatedAt,
		&processedAt,
	); err != nil {
		return nil, err
	}

	job.Kind = domain.QueryKind(kind)
	job.State = domain.JobState(state)
	job.ProcessedAt = processedAt
	if len(result) > 0 {
		var decoded domain.Result
		if err := json.Unmarshal(result, &decoded); err != nil {
			return nil, fmt.Errorf("decode result of job %d: %w", job.ID, err)
		}
		job.Result = &decoded
	}
	return &job, nil
}
