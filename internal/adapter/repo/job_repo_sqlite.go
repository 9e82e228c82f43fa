package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/sqlinline"
)

// JobRepositorySQLite implements domain.JobRepository on SQLite for
// single-host deployments. The connection pool is pinned to one connection,
// so every statement is serialised by the database itself. Every process
// sharing the file runs on the same host, so the host clock is the store
// clock.
type JobRepositorySQLite struct {
	db  *sql.DB
	run *infra.SQLiteRunner
	now func() time.Time
}

func NewJobRepositorySQLite(runner *infra.SQLiteRunner, opts ...Option) *JobRepositorySQLite {
	o := buildOptions(opts)
	return &JobRepositorySQLite{db: runner.DB, run: runner, now: o.now}
}

func (r *JobRepositorySQLite) clock() time.Time {
	return r.now().UTC()
}

func (r *JobRepositorySQLite) Insert(ctx context.Context, job *domain.Job, supersede []domain.JobType) (domain.EnqueueResult, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	res, err := r.insert(ctx, job, supersede)
	if err != nil {
		return domain.EnqueueResult{}, fmt.Errorf("insert job: %w", err)
	}
	return res, nil
}

func (r *JobRepositorySQLite) insert(ctx context.Context, job *domain.Job, supersede []domain.JobType) (domain.EnqueueResult, error) {
	var res domain.EnqueueResult
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	now := r.clock()
	if job.TargetKey != "" && len(supersede) > 0 {
		list, err := jsonList(typeStrings(supersede))
		if err != nil {
			return res, err
		}
		cancelled, err := r.run.Exec(ctx, tx, sqlinline.QSQLiteJobCancelActive, job.TargetKey, list, toNanos(now), supersededError)
		if err != nil {
			return res, err
		}
		if res.Superseded, err = cancelled.RowsAffected(); err != nil {
			return res, err
		}
	}

	scheduled := job.ScheduledAt
	if scheduled.IsZero() {
		scheduled = now
	}
	inserted, err := r.run.Exec(ctx, tx, sqlinline.QSQLiteJobInsert,
		job.ID,
		string(job.Type),
		nullableString(job.TargetKey),
		nullableString(job.OwnerKey),
		nullableBlob(job.Payload),
		job.PayloadFingerprint,
		job.Priority,
		job.MaxAttempts,
		toNanos(now),
		toNanos(scheduled),
	)
	if err != nil {
		return res, err
	}
	n, err := inserted.RowsAffected()
	if err != nil {
		return res, err
	}
	if n == 1 {
		res.JobID, res.Created = job.ID, true
		return res, tx.Commit()
	}

	row, err := r.run.QueryRow(ctx, tx, sqlinline.QSQLiteJobFindActive,
		string(job.Type),
		nullableString(job.OwnerKey),
		job.PayloadFingerprint,
		nullableString(job.TargetKey),
	)
	if err != nil {
		return res, err
	}
	if err := row.Scan(&res.JobID); err != nil {
		return res, fmt.Errorf("find active duplicate: %w", err)
	}
	return res, tx.Commit()
}

func (r *JobRepositorySQLite) Claim(ctx context.Context, params domain.ClaimParams) (*domain.Job, error) {
	types, err := jsonList(typeStrings(params.Types))
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	now := r.clock()
	var staleBefore any
	if params.StaleAfter > 0 {
		staleBefore = toNanos(now.Add(-params.StaleAfter))
	}
	row, err := r.run.QueryRow(ctx, r.db, sqlinline.QSQLiteJobClaim,
		params.WorkerID,
		toNanos(now),
		types,
		staleBefore,
		string(localityOrDefault(params.Locality)),
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (r *JobRepositorySQLite) Transition(ctx context.Context, t domain.Transition) (*domain.Job, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	from, err := jsonList(statusStrings(t.From))
	if err != nil {
		return nil, fmt.Errorf("transition job %s: %w", t.JobID, err)
	}
	var to any
	if t.To != "" {
		to = string(t.To)
	}
	var expect any
	if t.ExpectAttempts != nil {
		expect = *t.ExpectAttempts
	}
	var lastError any
	if t.LastError != nil {
		lastError = *t.LastError
	}
	now := r.clock()
	var staleBefore, scheduled any
	if t.StaleAfter > 0 {
		staleBefore = toNanos(now.Add(-t.StaleAfter))
	}
	if t.To == domain.JobStatusQueued {
		scheduled = toNanos(now.Add(t.Delay))
	}
	row, err := r.run.QueryRow(ctx, r.db, sqlinline.QSQLiteJobTransition,
		t.JobID,
		from,
		nullableString(t.Owner),
		expect,
		staleBefore,
		to,
		t.AttemptsDelta,
		t.DependencyAttemptsDelta,
		scheduled,
		lastError,
		t.Touch,
		toNanos(now),
	)
	if err != nil {
		return nil, fmt.Errorf("transition job %s: %w", t.JobID, err)
	}
	job, err := scanSQLiteJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition job %s: %w", t.JobID, err)
	}
	if _, err := r.GetByID(ctx, t.JobID); err != nil {
		return nil, err
	}
	return nil, domain.ErrTransitionRejected
}

func (r *JobRepositorySQLite) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row, err := r.run.QueryRow(ctx, r.db, sqlinline.QSQLiteJobGetByID, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

func (r *JobRepositorySQLite) ListStale(ctx context.Context, staleAfter time.Duration, limit int) ([]domain.Job, error) {
	before := r.clock().Add(-staleAfter)
	rows, err := r.run.Query(ctx, r.db, sqlinline.QSQLiteJobListStale, toNanos(before), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (r *JobRepositorySQLite) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	rows, err := r.run.Query(ctx, r.db, sqlinline.QSQLiteJobList,
		nullableString(string(filter.Status)),
		nullableString(string(filter.Type)),
		nullableString(filter.OwnerKey),
		nullableString(filter.TargetKey),
		filter.NormalizedLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (r *JobRepositorySQLite) Prune(ctx context.Context, status domain.JobStatus, olderThan time.Duration) (int64, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("%w: prune of non-terminal status %q", domain.ErrInvalidJob, status)
	}
	before := r.clock().Add(-olderThan)
	res, err := r.run.Exec(ctx, r.db, sqlinline.QSQLiteJobPrune, string(status), toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

func (r *JobRepositorySQLite) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := r.run.Query(ctx, r.db, sqlinline.QSQLiteJobCountByStatus)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int, 5)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count jobs: %w", err)
		}
		counts[domain.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectSQLiteJobs(rows *sql.Rows) ([]domain.Job, error) {
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanSQLiteJob(row rowScanner) (*domain.Job, error) {
	var (
		job                             domain.Job
		jobType, status                 string
		targetKey, ownerKey, owner, msg sql.NullString
		payload                         []byte
		createdAt, scheduledAt          int64
		startedAt, finishedAt, beat     sql.NullInt64
	)
	if err := row.Scan(
		&job.ID,
		&jobType,
		&targetKey,
		&ownerKey,
		&payload,
		&job.PayloadFingerprint,
		&job.Priority,
		&status,
		&job.Attempts,
		&job.DependencyAttempts,
		&job.MaxAttempts,
		&owner,
		&createdAt,
		&scheduledAt,
		&startedAt,
		&finishedAt,
		&beat,
		&msg,
	); err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.TargetKey = targetKey.String
	job.OwnerKey = ownerKey.String
	job.Owner = owner.String
	job.LastError = msg.String
	if len(payload) > 0 {
		job.Payload = payload
	}
	job.CreatedAt = fromNanos(createdAt)
	job.ScheduledAt = fromNanos(scheduledAt)
	job.StartedAt = fromNullNanos(startedAt)
	job.FinishedAt = fromNullNanos(finishedAt)
	job.LastHeartbeat = fromNullNanos(beat)
	return &job, nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// jsonList encodes values for json_each, or nil for an empty list.
func jsonList(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ domain.JobRepository = (*JobRepositorySQLite)(nil)
