package sqlinline

// QWorkerClaimJob moves the best eligible job to running for $1.
// $2 job types (null = any), $3 stale-after in microseconds (null disables
// claim-time reclaim), $4 locality. Time is the database clock.
const QWorkerClaimJob = `--sql 6b854fd5-8094-424d-86f8-3a6753c2f406
with next_job as (
    select id
    from jobs
    where ($2::text[] is null or job_type = any($2::text[]))
      and (
            (status = 'queued' and scheduled_at <= now())
         or ($3::bigint is not null
             and status = 'running'
             and coalesce(last_heartbeat, started_at) < now() - $3::bigint * interval '1 microsecond'
             and attempts + 1 < max_attempts)
      )
    order by priority asc,
             case when $4::text = 'target_desc' then target_key end desc nulls last,
             case when $4::text = 'target_asc' then target_key end asc nulls last,
             scheduled_at asc,
             created_at asc
    for update skip locked
    limit 1
)
update jobs j
set status = 'running',
    owner = $1::text,
    started_at = now(),
    last_heartbeat = now(),
    attempts = j.attempts + case when j.status = 'running' then 1 else 0 end,
    last_error = case when j.status = 'running' then 'worker heartbeat timeout' else j.last_error end
from next_job
where j.id = next_job.id
returning j.id::text, j.job_type, j.target_key, j.owner_key, j.payload, j.payload_fingerprint,
          j.priority, j.status, j.attempts, j.dependency_attempts, j.max_attempts, j.owner,
          j.created_at, j.scheduled_at, j.started_at, j.finished_at, j.last_heartbeat, j.last_error;
`

// QWorkerTransitionJob is the compare-and-swap behind every outcome,
// heartbeat, cancel and reap.
// Guard: $1 id, $2 allowed statuses, $3 owner, $4 expected attempts,
// $5 stale-after in microseconds. Effect: $6 new status, $7 attempts delta,
// $8 dependency delta, $9 requeue delay in microseconds, $10 last_error,
// $11 touch heartbeat.
const QWorkerTransitionJob = `--sql 86168fa8-07b7-444e-a5c5-f389c75a3f4e
update jobs
set status = coalesce($6::text, status),
    owner = case when $6::text is not null and $6::text <> 'running' then null else owner end,
    started_at = case when $6::text is not null and $6::text <> 'running' then null else started_at end,
    finished_at = case when $6::text in ('done', 'failed', 'cancelled') then now() else finished_at end,
    last_heartbeat = case when $11::boolean then now() else last_heartbeat end,
    attempts = attempts + $7::int,
    dependency_attempts = dependency_attempts + $8::int,
    scheduled_at = case when $6::text = 'queued' then now() + $9::bigint * interval '1 microsecond' else scheduled_at end,
    last_error = coalesce($10::text, last_error)
where id = $1::uuid
  and status = any($2::text[])
  and ($3::text is null or owner = $3::text)
  and ($4::int is null or attempts = $4::int)
  and ($5::bigint is null or coalesce(last_heartbeat, started_at) < now() - $5::bigint * interval '1 microsecond')
returning id::text, job_type, target_key, owner_key, payload, payload_fingerprint,
          priority, status, attempts, dependency_attempts, max_attempts, owner,
          created_at, scheduled_at, started_at, finished_at, last_heartbeat, last_error;
`

// QWorkerListStaleJobs lists running jobs silent for longer than $1
// microseconds.
const QWorkerListStaleJobs = `--sql f2bcfc6a-7295-4c8a-848e-27b8c0175c16
select id::text, job_type, target_key, owner_key, payload, payload_fingerprint,
       priority, status, attempts, dependency_attempts, max_attempts, owner,
       created_at, scheduled_at, started_at, finished_at, last_heartbeat, last_error
from jobs
where status = 'running'
  and coalesce(last_heartbeat, started_at) < now() - $1::bigint * interval '1 microsecond'
order by last_heartbeat asc
limit $2;
`

// QListenJobsAvailable subscribes a connection to the notifications the jobs
// trigger sends whenever a row becomes claimable.
const QListenJobsAvailable = `--sql 3f1c9b7e-52a4-4d0e-8a61-c7d2e94b0f38
listen jobs_available;
`
