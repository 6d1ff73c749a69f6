package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

const jobColumns = `id, owner_id, job_no, name, address, status, created_at`

func scanJob(row interface{ Scan(...any) error }) (*types.Job, error) {
	var j types.Job
	var status string
	if err := row.Scan(&j.ID, &j.OwnerID, &j.JobNo, &j.Name, &j.Address, &status, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*types.Job, error) {
	defer func() { _ = rows.Close() }()
	var jobs []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func getJob(ctx context.Context, q querier, d dialect, ownerID, id string) (*types.Job, error) {
	row := q.QueryRowContext(ctx, d.rebind(`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? AND id = ?`), ownerID, id)
	return scanJob(row)
}

// insertJob assigns the next per-owner job number and inserts the row.
func insertJob(ctx context.Context, q querier, d dialect, job *types.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = types.JobActive
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	var next int64
	err := q.QueryRowContext(ctx, d.rebind(`SELECT COALESCE(MAX(job_no), 0) + 1 FROM jobs WHERE owner_id = ?`), job.OwnerID).Scan(&next)
	if err != nil {
		return err
	}
	job.JobNo = next
	_, err = q.ExecContext(ctx, d.rebind(`
		INSERT INTO jobs (id, owner_id, job_no, name, address, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.OwnerID, job.JobNo, job.Name, job.Address, string(job.Status), job.CreatedAt)
	return err
}

// GetJob returns a job by id within the owner's scope.
func (s *Store) GetJob(ctx context.Context, ownerID, id string) (*types.Job, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	var job *types.Job
	err := s.withRetry(ctx, func() error {
		var err error
		job, err = getJob(ctx, s.db, s.dialect, ownerID, id)
		return err
	})
	return job, wrapDBError("get job", err)
}

// GetJobByNumber returns the job with the owner-scoped sequence number.
func (s *Store) GetJobByNumber(ctx context.Context, ownerID string, jobNo int64) (*types.Job, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	var job *types.Job
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var err error
		job, err = scanJob(row)
		return err
	}, `SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? AND job_no = ?`, ownerID, jobNo)
	return job, wrapDBError("get job by number", err)
}

// FindJobsByName returns jobs whose name matches case-insensitively, lowest
// job number first.
func (s *Store) FindJobsByName(ctx context.Context, ownerID, name string) ([]*types.Job, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	rows, err := s.queryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE owner_id = ? AND lower(name) = lower(?) ORDER BY job_no`, ownerID, name)
	if err != nil {
		return nil, wrapDBError("find jobs by name", err)
	}
	jobs, err := scanJobs(rows)
	return jobs, wrapDBError("find jobs by name", err)
}

// ListOpenJobs pages through non-closed jobs, newest first.
func (s *Store) ListOpenJobs(ctx context.Context, ownerID string, offset, limit int) ([]*types.Job, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	rows, err := s.queryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE owner_id = ? AND status <> 'closed' ORDER BY job_no DESC LIMIT ? OFFSET ?`, ownerID, limit, offset)
	if err != nil {
		return nil, wrapDBError("list jobs", err)
	}
	jobs, err := scanJobs(rows)
	return jobs, wrapDBError("list jobs", err)
}

// CreateJob inserts a job in its own transaction. Concurrent creators for
// the same owner can collide on job_no; the loser retries with a fresh
// number.
func (s *Store) CreateJob(ctx context.Context, job *types.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.RunInTransaction(ctx, func(tx storage.Transaction) error {
			return tx.CreateJob(ctx, job)
		})
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
	}
	return err
}

// CreateJob inserts a job within the transaction.
func (t *txStore) CreateJob(ctx context.Context, job *types.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = t.now()
	}
	return wrapDBError("create job", insertJob(ctx, t.conn, t.dialect, job))
}

// GetJob reads a job within the transaction.
func (t *txStore) GetJob(ctx context.Context, ownerID, id string) (*types.Job, error) {
	job, err := getJob(ctx, t.conn, t.dialect, ownerID, id)
	return job, wrapDBError("get job", err)
}
