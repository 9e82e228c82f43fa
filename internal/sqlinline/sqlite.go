package sqlinline

// SQLite statements mirror the Postgres ones. Parameters use ?NNN so one
// argument can be referenced several times; timestamps are unix nanoseconds;
// lists are bound as JSON arrays and expanded with json_each.

const QSQLiteJobInsert = `--sql 9fb8ec44-785f-4ae8-8bcf-b004e2b4b214
insert into jobs (id, job_type, target_key, owner_key, payload, payload_fingerprint,
                  priority, status, attempts, dependency_attempts, max_attempts,
                  created_at, scheduled_at)
values (?1, ?2, ?3, ?4, ?5, ?6, ?7, 'queued', 0, 0, ?8, ?9, ?10)
on conflict do nothing;
`

const QSQLiteJobFindActive = `--sql f77a4f35-1343-4943-8c29-e4fb33296cde
select id
from jobs
where status in ('queued', 'running')
  and job_type = ?1
  and coalesce(owner_key, '') = coalesce(?2, '')
  and payload_fingerprint = ?3
  and coalesce(target_key, '') = coalesce(?4, '')
limit 1;
`

const QSQLiteJobClaim = `--sql 634c7fc6-30bb-40dd-9d5d-544f68ce4222
update jobs
set status = 'running',
    owner = ?1,
    started_at = ?2,
    last_heartbeat = ?2,
    attempts = attempts + case when status = 'running' then 1 else 0 end,
    last_error = case when status = 'running' then 'worker heartbeat timeout' else last_error end
where id = (
    select id
    from jobs
    where (?3 is null or job_type in (select value from json_each(?3)))
      and (
            (status = 'queued' and scheduled_at <= ?2)
         or (?4 is not null
             and status = 'running'
             and coalesce(last_heartbeat, started_at) < ?4
             and attempts + 1 < max_attempts)
      )
    order by priority asc,
             case when ?5 = 'target_desc' then target_key end desc nulls last,
             case when ?5 = 'target_asc' then target_key end asc nulls last,
             scheduled_at asc,
             created_at asc
    limit 1
)
returning id, job_type, target_key, owner_key, payload, payload_fingerprint,
          priority, status, attempts, dependency_attempts, max_attempts, owner,
          created_at, scheduled_at, started_at, finished_at, last_heartbeat, last_error;
`

const QSQLiteJobTransition = `--sql 92eb5105-5ef2-4192-8056-aee0f7a3fd41
update jobs
set status = coalesce(?6, status),
    owner = case when ?6 is not null and ?6 <> 'running' then null else owner end,
    started_at = case when ?6 is not null and ?6 <> 'running' then null else started_at end,
    finished_at = case when ?6 in ('done', 'failed', 'cancelled') then ?12 else finished_at end,
    last_heartbeat = case when ?11 then ?12 else last_heartbeat end,
    attempts = attempts + ?7,
    dependency_attempts = dependency_attempts + ?8,
    scheduled_at = coalesce(?9, scheduled_at),
    last_error = coalesce(?10, last_error)
where id = ?1
  and status in (select value from json_each(?2))
  and (?3 is null or owner = ?3)
  and (?4 is null or attempts = ?4)
  and (?5 is null or coalesce(last_heartbeat, started_at) < ?5)
returning id, job_type, target_key, owner_key, payload, payload_fingerprint,
          priority, status, attempts, dependency_attempts, max_attempts, owner,
          created_at, scheduled_at, started_at, finished_at, last_heartbeat, last_error;
`

const QSQLiteJobGetByID = `--sql 35864dc1-35b1-4e72-bf7e-4dcb7ae5e48c
select id, job_type, target_key, owner_key, payload, payload_fingerprint,
       priority, status, attempts, dependency_attempts, max_attempts, owner,
       created_at, scheduled_at, started_at, finished_at, last_heartbeat, last_error
from jobs
where id = ?1;
`

const QSQLiteJobListStale = `--sql d829b84f-5081-44ff-a3ec-7303da5cc6cb
select id, job_type, target_key, owner_key, payload, payload_fingerprint,
       priority, status, attempts, dependency_attempts, max_attempts, owner,
       created_at, scheduled_at, started_at, finished_at, last_heartbeat, last_error
from jobs
where status = 'running'
  and coalesce(last_heartbeat, started_at) < ?1
order by last_heartbeat asc
limit ?2;
`

const QSQLiteJobList = `--sql 7310c306-1a0c-48a9-bb7b-25b492852a0b
select id, job_type, target_key, owner_key, payload, payload_fingerprint,
       priority, status, attempts, dependency_attempts, max_attempts, owner,
       created_at, scheduled_at, started_at, finished_at, last_heartbeat, last_error
from jobs
where (?1 is null or status = ?1)
  and (?2 is null or job_type = ?2)
  and (?3 is null or owner_key = ?3)
  and (?4 is null or target_key = ?4)
order by created_at desc, id
limit ?5;
`

const QSQLiteJobCancelActive = `--sql 48a0f2c0-ed56-45c6-a094-2f6e13706b53
update jobs
set status = 'cancelled',
    owner = null,
    started_at = null,
    finished_at = ?3,
    last_error = ?4
where target_key = ?1
  and job_type in (select value from json_each(?2))
  and status in ('queued', 'running');
`

const QSQLiteJobPrune = `--sql 85fd5abb-3b41-4376-a2d5-382a6de52604
delete from jobs
where status = ?1
  and finished_at < ?2;
`

const QSQLiteJobCountByStatus = `--sql 43c760d6-d934-41d0-9d5b-4e4ecf1d0bc2
select status, count(*)
from jobs
group by status;
`
