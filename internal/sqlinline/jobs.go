package sqlinline

// QJobInsert inserts a queued job unless an active job with the same dedup
// key exists, and returns (id, created). An empty result means the
// conflicting row committed after this statement's snapshot; retry.
// A null $9 schedules the job at the database's now().
const QJobInsert = `--sql 75c6533e-47f7-4c14-888f-89a0175263ef
with inserted as (
    insert into jobs (id, job_type, target_key, owner_key, payload, payload_fingerprint,
                      priority, status, attempts, dependency_attempts, max_attempts,
                      created_at, scheduled_at)
    values ($1::uuid, $2::text, $3::text, $4::text, $5::jsonb, $6::text,
            $7::int, 'queued', 0, 0, $8::int,
            now(), coalesce($9::timestamptz, now()))
    on conflict (job_type, (coalesce(owner_key, '')), payload_fingerprint, (coalesce(target_key, '')))
        where status in ('queued', 'running')
        do nothing
    returning id::text
)
select id, true from inserted
union all
select id::text, false
from jobs
where not exists (select 1 from inserted)
  and status in ('queued', 'running')
  and job_type = $2::text
  and coalesce(owner_key, '') = coalesce($4::text, '')
  and payload_fingerprint = $6::text
  and coalesce(target_key, '') = coalesce($3::text, '')
limit 1;
`

const QJobGetByID = `--sql d7d5c162-0158-4459-b483-e17c9efbc1dd
select id::text, job_type, target_key, owner_key, payload, payload_fingerprint,
       priority, status, attempts, dependency_attempts, max_attempts, owner,
       created_at, scheduled_at, started_at, finished_at, last_heartbeat, last_error
from jobs
where id = $1::uuid;
`

const QJobList = `--sql 0c288362-ded1-43eb-b529-b09f5dcb4e2e
select id::text, job_type, target_key, owner_key, payload, payload_fingerprint,
       priority, status, attempts, dependency_attempts, max_attempts, owner,
       created_at, scheduled_at, started_at, finished_at, last_heartbeat, last_error
from jobs
where ($1::text is null or status = $1::text)
  and ($2::text is null or job_type = $2::text)
  and ($3::text is null or owner_key = $3::text)
  and ($4::text is null or target_key = $4::text)
order by created_at desc, id
limit $5;
`

// QJobLockTarget serialises enqueues that supersede work on one target
// until the surrounding transaction ends.
const QJobLockTarget = `--sql 1d7e0a42-8c3b-4f6e-b9d5-6a2f0c8e4b17
select pg_advisory_xact_lock(hashtext($1::text));
`

// QJobCancelActive supersedes the active jobs of the given types for a target.
const QJobCancelActive = `--sql a8985a3c-d9f4-449d-81d9-e9a52b5658d2
update jobs
set status = 'cancelled',
    owner = null,
    started_at = null,
    finished_at = now(),
    last_error = $3::text
where target_key = $1::text
  and job_type = any($2::text[])
  and status in ('queued', 'running');
`

// QJobPrune deletes jobs in status $1 finished more than $2 microseconds ago.
const QJobPrune = `--sql 95749603-8438-442d-a16c-bb2502900893
delete from jobs
where status = $1::text
  and finished_at < now() - $2::bigint * interval '1 microsecond';
`

const QJobCountByStatus = `--sql 569129d7-be4f-42c9-baa1-6cde61aeb24b
select status, count(*)
from jobs
group by status;
`
