package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidJob         = errors.New("invalid job")
	ErrNoJobAvailable     = errors.New("no job available")
	ErrTransitionRejected = errors.New("transition rejected")
	ErrOwnershipLost      = errors.New("ownership lost")
	ErrJobCancelled       = errors.New("job cancelled")
)

// OwnershipError reports that a worker called Heartbeat or an outcome method
// for a job it no longer owns. The worker must abandon local side effects.
type OwnershipError struct {
	JobID    string
	WorkerID string
	Status   JobStatus
	Owner    string
}

func (e *OwnershipError) Error() string {
	switch {
	case e.Status == JobStatusCancelled:
		return fmt.Sprintf("job %s was cancelled while held by %s", e.JobID, e.WorkerID)
	case e.Status == JobStatusRunning && e.Owner != "":
		return fmt.Sprintf("job %s is owned by %s, not %s", e.JobID, e.Owner, e.WorkerID)
	default:
		return fmt.Sprintf("job %s is %s, worker %s no longer owns it", e.JobID, e.Status, e.WorkerID)
	}
}

// Is lets callers match with errors.Is(err, ErrOwnershipLost) and, for
// cancelled jobs, errors.Is(err, ErrJobCancelled).
func (e *OwnershipError) Is(target error) bool {
	switch target {
	case ErrOwnershipLost:
		return true
	case ErrJobCancelled:
		return e.Status == JobStatusCancelled
	default:
		return false
	}
}
