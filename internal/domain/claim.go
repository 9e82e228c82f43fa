package domain

import "time"

// ReclaimError is recorded on a job taken over from a worker that stopped
// heartbeating.
const ReclaimError = "worker heartbeat timeout"

// ClaimEligible reports whether job may be claimed under params at now.
// Queued jobs are eligible once scheduled; running jobs only when claim-time
// reclaim is enabled, their heartbeat is stale and a retry budget remains.
func ClaimEligible(job *Job, params ClaimParams, now time.Time) bool {
	if len(params.Types) > 0 {
		allowed := false
		for _, t := range params.Types {
			if job.Type == t {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	switch job.Status {
	case JobStatusQueued:
		return !job.ScheduledAt.After(now)
	case JobStatusRunning:
		return params.StaleAfter > 0 && job.StaleAt(now, params.StaleAfter) && job.Attempts+1 < job.MaxAttempts
	default:
		return false
	}
}

// ClaimLess orders claim candidates: priority ascending, then the locality
// key, then scheduled_at and created_at ascending. Jobs without a target key
// sort after jobs with one under both target orderings.
func ClaimLess(a, b *Job, locality Locality) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if locality == LocalityTargetDesc || locality == LocalityTargetAsc {
		if a.TargetKey != b.TargetKey {
			switch {
			case a.TargetKey == "":
				return false
			case b.TargetKey == "":
				return true
			case locality == LocalityTargetDesc:
				return a.TargetKey > b.TargetKey
			default:
				return a.TargetKey < b.TargetKey
			}
		}
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// ApplyClaim moves job to running under params.WorkerID at now. Taking over
// a stale running job counts as one consumed attempt.
func ApplyClaim(job *Job, params ClaimParams, now time.Time) {
	if job.Status == JobStatusRunning {
		job.Attempts++
		job.LastError = ReclaimError
	}
	job.Status = JobStatusRunning
	job.Owner = params.WorkerID
	started := now
	job.StartedAt = &started
	beat := now
	job.LastHeartbeat = &beat
}
