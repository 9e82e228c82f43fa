package domain

import (
	"encoding/json"
	"time"
)

// EnqueueRequest describes work a producer wants done. Zero values take the
// per-type defaults.
type EnqueueRequest struct {
	Type      JobType         `json:"job_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TargetKey string          `json:"target_key,omitempty"`
	OwnerKey  string          `json:"owner_key,omitempty"`
	Priority  *int            `json:"priority,omitempty"`
	// MaxAttempts of 1 makes any failure terminal, the way producers flag
	// work that cannot succeed on retry.
	MaxAttempts *int       `json:"max_attempts,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// EnqueueResult reports the job that now represents the request.
type EnqueueResult struct {
	JobID string `json:"job_id"`
	// Created is false when an equivalent active job already existed.
	Created bool `json:"created"`
	// Superseded counts active jobs cancelled because this one replaces them.
	Superseded int64 `json:"superseded,omitempty"`
}

// SupersededBy returns the job types whose active jobs for the same target
// become pointless once a job of type t is queued: removing a file cancels
// pending ingest work, and re-ingesting a file cancels a pending removal.
func SupersededBy(t JobType) []JobType {
	switch {
	case t == JobTypeRemove:
		return []JobType{JobTypeIngestMetadata, JobTypeIngestThumbnails, JobTypeIngestAnalysis}
	case t.IsIngest():
		return []JobType{JobTypeRemove}
	default:
		return nil
	}
}
