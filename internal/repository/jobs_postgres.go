package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iago/fleet-reports/internal/domain"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

const jobColumns = `id, report_kind, scope, status, progress, message, attempts,
	artifact_key, artifact_content_type, artifact_filename, artifact_size,
	created_at, updated_at`

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.ReportJob) error {
	scope, err := encodeScope(job.Scope)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO report_jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		job.ID,
		job.ReportKind,
		scope,
		string(job.Status),
		job.Progress,
		job.Message,
		job.Attempts,
		job.ArtifactKey,
		job.ArtifactContentType,
		job.ArtifactFilename,
		job.ArtifactSize,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.ReportJob) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE report_jobs
		SET status = $2,
			progress = $3,
			message = $4,
			attempts = $5,
			artifact_key = $6,
			artifact_content_type = $7,
			artifact_filename = $8,
			artifact_size = $9,
			updated_at = $10
		WHERE id = $1
	`,
		job.ID,
		string(job.Status),
		job.Progress,
		job.Message,
		job.Attempts,
		job.ArtifactKey,
		job.ArtifactContentType,
		job.ArtifactFilename,
		job.ArtifactSize,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update report job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM report_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query report job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) ListJobs(
	ctx context.Context,
	filter domain.JobListFilter,
) ([]domain.ReportJob, int, error) {
	filter = normalizeFilter(filter)
	baseQuery, args := buildJobFilters(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count report jobs: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT %s
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		jobColumns,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list report jobs: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ReportJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report job: %w", err)
		}
		items = append(items, *job)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate report jobs: %w", rows.Err())
	}

	return items, total, nil
}

func scanJob(row pgx.Row) (*domain.ReportJob, error) {
	var (
		job    domain.ReportJob
		scope  []byte
		status string
	)
	err := row.Scan(
		&job.ID,
		&job.ReportKind,
		&scope,
		&status,
		&job.Progress,
		&job.Message,
		&job.Attempts,
		&job.ArtifactKey,
		&job.ArtifactContentType,
		&job.ArtifactFilename,
		&job.ArtifactSize,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if len(scope) > 0 {
		if err := json.Unmarshal(scope, &job.Scope); err != nil {
			return nil, fmt.Errorf("decode scope: %w", err)
		}
	}
	return &job, nil
}

func encodeScope(scope map[string]string) ([]byte, error) {
	if len(scope) == 0 {
		return []byte("{}"), nil
	}
	encoded, err := json.Marshal(scope)
	if err != nil {
		return nil, fmt.Errorf("encode scope: %w", err)
	}
	return encoded, nil
}

func buildJobFilters(filter domain.JobListFilter) (string, []any) {
	query := strings.Builder{}
	query.WriteString("FROM report_jobs WHERE 1=1")

	args := make([]any, 0, 4)
	argIndex := 1

	if kind := strings.TrimSpace(filter.ReportKind); kind != "" {
		query.WriteString(fmt.Sprintf(" AND report_kind = $%d", argIndex))
		args = append(args, kind)
		argIndex++
	}

	if filter.Status != "" {
		query.WriteString(fmt.Sprintf(" AND status = $%d", argIndex))
		args = append(args, string(filter.Status))
		argIndex++
	}

	if filter.From != nil {
		query.WriteString(fmt.Sprintf(" AND created_at >= $%d", argIndex))
		args = append(args, *filter.From)
		argIndex++
	}

	if filter.To != nil {
		query.WriteString(fmt.Sprintf(" AND created_at <= $%d", argIndex))
		args = append(args, *filter.To)
	}

	return query.String(), args
}
