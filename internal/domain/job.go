package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobType enumerates the pipeline stages the scheduler coordinates. The type
// selects the handler and the default priority band.
type JobType string

const (
	JobTypeIngestMetadata   JobType = "ingest_metadata"
	JobTypeIngestThumbnails JobType = "ingest_thumbnails"
	JobTypeIngestAnalysis   JobType = "ingest_analysis"
	JobTypeRemove           JobType = "remove"
	JobTypeScan             JobType = "scan"
	JobTypeCleanDB          JobType = "clean_db"
	JobTypeClusterFaces     JobType = "cluster_faces"
	JobTypeClusterPhotos    JobType = "cluster_photos"
	JobTypeImportAlbumItem  JobType = "import_album_item"
)

var allJobTypes = []JobType{
	JobTypeIngestMetadata,
	JobTypeIngestThumbnails,
	JobTypeIngestAnalysis,
	JobTypeRemove,
	JobTypeScan,
	JobTypeCleanDB,
	JobTypeClusterFaces,
	JobTypeClusterPhotos,
	JobTypeImportAlbumItem,
}

// AllJobTypes returns every known job type in declaration order.
func AllJobTypes() []JobType {
	out := make([]JobType, len(allJobTypes))
	copy(out, allJobTypes)
	return out
}

// Valid reports whether t belongs to the closed set of job types.
func (t JobType) Valid() bool {
	for _, known := range allJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsIngest reports whether t is one of the per-file ingest stages.
func (t JobType) IsIngest() bool {
	switch t {
	case JobTypeIngestMetadata, JobTypeIngestThumbnails, JobTypeIngestAnalysis:
		return true
	default:
		return false
	}
}

// EnvSuffix renders t the way configuration keys spell it, e.g.
// INGEST_METADATA for PRIORITY_INGEST_METADATA.
func (t JobType) EnvSuffix() string {
	return strings.ToUpper(string(t))
}

// ParseJobType accepts snake_case, kebab-case or upper-case spellings.
func ParseJobType(raw string) (JobType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	t := JobType(normalized)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown job type %q", ErrInvalidJob, raw)
	}
	return t, nil
}

// ParseJobTypes parses a comma separated list, ignoring empty entries.
func ParseJobTypes(raw string) ([]JobType, error) {
	var out []JobType
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ParseJobType(part)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// AllJobStatuses returns every status in lifecycle order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusFailed, JobStatusCancelled}
}

// Active statuses participate in the dedup guard.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Terminal statuses never change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) Valid() bool {
	return s.Active() || s.Terminal()
}

// ParseJobStatus validates a status name.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown job status %q", ErrInvalidJob, raw)
	}
	return s, nil
}

// Job is one durable unit of scheduled work. Optional string fields use the
// empty string for "absent"; optional timestamps are nil.
type Job struct {
	ID                 string
	Type               JobType
	TargetKey          string
	OwnerKey           string
	Payload            json.RawMessage
	PayloadFingerprint string
	Priority           int
	Status             JobStatus
	Attempts           int
	DependencyAttempts int
	MaxAttempts        int
	Owner              string
	CreatedAt          time.Time
	ScheduledAt        time.Time
	StartedAt          *time.Time
	FinishedAt         *time.Time
	LastHeartbeat      *time.Time
	LastError          string
}

// DedupKey identifies logically-equivalent work.
type DedupKey struct {
	Type               JobType
	OwnerKey           string
	PayloadFingerprint string
	TargetKey          string
}

func (j *Job) DedupKey() DedupKey {
	return DedupKey{
		Type:               j.Type,
		OwnerKey:           j.OwnerKey,
		PayloadFingerprint: j.PayloadFingerprint,
		TargetKey:          j.TargetKey,
	}
}

// Clone returns a deep copy so callers can hand out jobs without aliasing
// payload bytes or timestamp pointers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	c.StartedAt = cloneTime(j.StartedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	c.LastHeartbeat = cloneTime(j.LastHeartbeat)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Locality selects the tie-break applied after priority when claiming.
type Locality string

const (
	// LocalityTargetDesc groups jobs by target key, walking keys in
	// descending order. Jobs without a target sort last.
	LocalityTargetDesc Locality = "target_desc"
	// LocalityTargetAsc groups jobs by target key in ascending order.
	LocalityTargetAsc Locality = "target_asc"
	// LocalityNone orders purely by priority and time.
	LocalityNone Locality = "none"
)

func ParseLocality(raw string) (Locality, error) {
	switch l := Locality(strings.ToLower(strings.TrimSpace(raw))); l {
	case LocalityTargetDesc, LocalityTargetAsc, LocalityNone:
		return l, nil
	case "":
		return LocalityTargetDesc, nil
	default:
		return "", fmt.Errorf("unknown claim locality %q", raw)
	}
}

// ClaimParams describes one claim attempt. Time is never part of the
// request: the store evaluates schedules and staleness on its own clock, so
// workers with drifting clocks agree on what is stale.
type ClaimParams struct {
	WorkerID string
	// Types restricts the claim to these job types; empty means any.
	Types []JobType
	// StaleAfter enables claim-time reclaim of running jobs whose last
	// heartbeat is older than this. Zero disables it.
	StaleAfter time.Duration
	Locality   Locality
}

// Transition is a single-row compare-and-swap: when every guard holds the
// effect is applied atomically, otherwise nothing changes. Timestamps come
// from the store's clock.
type Transition struct {
	JobID string

	// Guard.
	From           []JobStatus
	Owner          string
	ExpectAttempts *int
	// StaleAfter requires the last heartbeat to be at least this old.
	StaleAfter time.Duration

	// Effect. An empty To keeps the current status. Leaving Running clears
	// owner and started_at; entering a terminal status sets finished_at;
	// entering Queued schedules the job Delay from now.
	To                      JobStatus
	Touch                   bool
	AttemptsDelta           int
	DependencyAttemptsDelta int
	Delay                   time.Duration
	LastError               *string
}

// Validate rejects transitions no store should attempt.
func (t Transition) Validate() error {
	if strings.TrimSpace(t.JobID) == "" {
		return fmt.Errorf("%w: transition without job id", ErrInvalidJob)
	}
	if len(t.From) == 0 {
		return fmt.Errorf("%w: transition without source status", ErrInvalidJob)
	}
	if t.To == JobStatusRunning {
		return fmt.Errorf("%w: running is only entered through claim", ErrInvalidJob)
	}
	if t.To != "" && !t.To.Valid() {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidJob, t.To)
	}
	if t.AttemptsDelta < 0 || t.DependencyAttemptsDelta < 0 {
		return fmt.Errorf("%w: attempt counters never decrease", ErrInvalidJob)
	}
	if t.Delay < 0 || t.StaleAfter < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidJob)
	}
	return nil
}

// ReleasesOwnership reports whether the effect leaves the running state.
func (t Transition) ReleasesOwnership() bool {
	return t.To != "" && t.To != JobStatusRunning
}

// Allows reports whether job satisfies the guard at now. Stores that evaluate
// guards in memory use it; SQL stores express the same predicate in the
// WHERE clause.
func (t Transition) Allows(job *Job, now time.Time) bool {
	if job == nil || job.ID != t.JobID {
		return false
	}
	matched := false
	for _, s := range t.From {
		if job.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if t.Owner != "" && job.Owner != t.Owner {
		return false
	}
	if t.ExpectAttempts != nil && job.Attempts != *t.ExpectAttempts {
		return false
	}
	if t.StaleAfter > 0 && !job.StaleAt(now, t.StaleAfter) {
		return false
	}
	return true
}

// Apply mutates job according to the effect. The caller must have checked
// Allows first.
func (t Transition) Apply(job *Job, now time.Time) {
	if t.To != "" {
		job.Status = t.To
	}
	if t.ReleasesOwnership() {
		job.Owner = ""
		job.StartedAt = nil
	}
	if t.To.Terminal() {
		finished := now
		job.FinishedAt = &finished
	}
	if t.Touch {
		beat := now
		job.LastHeartbeat = &beat
	}
	job.Attempts += t.AttemptsDelta
	job.DependencyAttempts += t.DependencyAttemptsDelta
	if t.To == JobStatusQueued {
		job.ScheduledAt = now.Add(t.Delay)
	}
	if t.LastError != nil {
		job.LastError = *t.LastError
	}
}

// LastSeen is the last sign of life from the owning worker: its latest
// heartbeat, or the claim time before the first one.
func (j *Job) LastSeen() *time.Time {
	if j.LastHeartbeat != nil {
		return j.LastHeartbeat
	}
	return j.StartedAt
}

// StaleAt reports whether a running job has been silent for longer than
// timeout at now.
func (j *Job) StaleAt(now time.Time, timeout time.Duration) bool {
	seen := j.LastSeen()
	return j.Status == JobStatusRunning && seen != nil && seen.Before(now.Add(-timeout))
}

// JobFilter narrows List queries. Zero values mean "any".
type JobFilter struct {
	Status    JobStatus
	Type      JobType
	OwnerKey  string
	TargetKey string
	Limit     int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// NormalizedLimit clamps Limit into [1, MaxListLimit].
func (f JobFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}
