package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Insert adds a queued job or returns the id of the active duplicate. When
// the job supersedes other work on its target, the target is locked for the
// transaction so a concurrent conflicting enqueue waits and then sees this
// one, instead of both surviving.
func (r *JobRepositoryPG) Insert(ctx context.Context, job *domain.Job, supersede []domain.JobType) (domain.EnqueueResult, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	var res domain.EnqueueResult
	err := r.db.InTx(ctx, func(tx infra.SQLExecutor) error {
		res = domain.EnqueueResult{}
		if job.TargetKey != "" && len(supersede) > 0 {
			if _, err := tx.Exec(ctx, sqlinline.QJobLockTarget, job.TargetKey); err != nil {
				return fmt.Errorf("lock target: %w", err)
			}
			tag, err := tx.Exec(ctx, sqlinline.QJobCancelActive, job.TargetKey, typeStrings(supersede), supersededError)
			if err != nil {
				return fmt.Errorf("cancel superseded jobs: %w", err)
			}
			res.Superseded = tag.RowsAffected()
		}
		for i := 0; i < insertRetries; i++ {
			err := tx.QueryRow(ctx, sqlinline.QJobInsert,
				job.ID,
				string(job.Type),
				nullableString(job.TargetKey),
				nullableString(job.OwnerKey),
				nullableBytes(job.Payload),
				job.PayloadFingerprint,
				job.Priority,
				job.MaxAttempts,
				nullableTime(job.ScheduledAt),
			).Scan(&res.JobID, &res.Created)
			if err == nil {
				return nil
			}
			if !infra.IsNoRows(err) {
				return err
			}
		}
		return fmt.Errorf("active duplicate not visible after %d attempts", insertRetries)
	})
	if err != nil {
		return domain.EnqueueResult{}, fmt.Errorf("insert job: %w", err)
	}
	return res, nil
}

// Claim atomically selects and locks the best eligible job.
func (r *JobRepositoryPG) Claim(ctx context.Context, params domain.ClaimParams) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, sqlinline.QWorkerClaimJob,
		params.WorkerID,
		typeStrings(params.Types),
		nullableMicros(params.StaleAfter),
		string(localityOrDefault(params.Locality)),
	)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// Transition applies t as a single conditional update.
func (r *JobRepositoryPG) Transition(ctx context.Context, t domain.Transition) (*domain.Job, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(t.JobID); err != nil {
		return nil, domain.ErrNotFound
	}
	var to *string
	if t.To != "" {
		s := string(t.To)
		to = &s
	}
	row := r.db.QueryRow(ctx, sqlinline.QWorkerTransitionJob,
		t.JobID,
		statusStrings(t.From),
		nullableString(t.Owner),
		t.ExpectAttempts,
		nullableMicros(t.StaleAfter),
		to,
		t.AttemptsDelta,
		t.DependencyAttemptsDelta,
		t.Delay.Microseconds(),
		t.LastError,
		t.Touch,
	)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !infra.IsNoRows(err) {
		return nil, fmt.Errorf("transition job %s: %w", t.JobID, err)
	}
	if _, err := r.GetByID(ctx, t.JobID); err != nil {
		return nil, err
	}
	return nil, domain.ErrTransitionRejected
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QJobGetByID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

func (r *JobRepositoryPG) ListStale(ctx context.Context, staleAfter time.Duration, limit int) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, sqlinline.QWorkerListStaleJobs, staleAfter.Microseconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *JobRepositoryPG) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, sqlinline.QJobList,
		nullableString(string(filter.Status)),
		nullableString(string(filter.Type)),
		nullableString(filter.OwnerKey),
		nullableString(filter.TargetKey),
		filter.NormalizedLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *JobRepositoryPG) Prune(ctx context.Context, status domain.JobStatus, olderThan time.Duration) (int64, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("%w: prune of non-terminal status %q", domain.ErrInvalidJob, status)
	}
	tag, err := r.db.Exec(ctx, sqlinline.QJobPrune, string(status), olderThan.Microseconds())
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepositoryPG) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := r.db.Query(ctx, sqlinline.QJobCountByStatus)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int, 5)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count jobs: %w", err)
		}
		counts[domain.JobStatus(status)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
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

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                             domain.Job
		jobType, status                 string
		targetKey, ownerKey, owner, msg *string
		payload                         []byte
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
		&job.CreatedAt,
		&job.ScheduledAt,
		&job.StartedAt,
		&job.FinishedAt,
		&job.LastHeartbeat,
		&msg,
	); err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.TargetKey = derefString(targetKey)
	job.OwnerKey = derefString(ownerKey)
	job.Owner = derefString(owner)
	job.LastError = derefString(msg)
	if len(payload) > 0 {
		job.Payload = payload
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.ScheduledAt = job.ScheduledAt.UTC()
	job.StartedAt = utcPtr(job.StartedAt)
	job.FinishedAt = utcPtr(job.FinishedAt)
	job.LastHeartbeat = utcPtr(job.LastHeartbeat)
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
