package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mediaqueue/internal/domain"
)

const maxEnqueueBody = 1 << 20

type jobView struct {
	ID                 string           `json:"id"`
	Type               domain.JobType   `json:"job_type"`
	Status             domain.JobStatus `json:"status"`
	TargetKey          string           `json:"target_key,omitempty"`
	OwnerKey           string           `json:"owner_key,omitempty"`
	Payload            json.RawMessage  `json:"payload,omitempty"`
	Priority           int              `json:"priority"`
	Attempts           int              `json:"attempts"`
	MaxAttempts        int              `json:"max_attempts"`
	DependencyAttempts int              `json:"dependency_attempts"`
	Owner              string           `json:"owner,omitempty"`
	LastError          string           `json:"last_error,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	ScheduledAt        time.Time        `json:"scheduled_at"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	FinishedAt         *time.Time       `json:"finished_at,omitempty"`
	LastHeartbeat      *time.Time       `json:"last_heartbeat,omitempty"`
}

func toView(j *domain.Job) jobView {
	return jobView{
		ID:                 j.ID,
		Type:               j.Type,
		Status:             j.Status,
		TargetKey:          j.TargetKey,
		OwnerKey:           j.OwnerKey,
		Payload:            j.Payload,
		Priority:           j.Priority,
		Attempts:           j.Attempts,
		MaxAttempts:        j.MaxAttempts,
		DependencyAttempts: j.DependencyAttempts,
		Owner:              j.Owner,
		LastError:          j.LastError,
		CreatedAt:          j.CreatedAt,
		ScheduledAt:        j.ScheduledAt,
		StartedAt:          j.StartedAt,
		FinishedAt:         j.FinishedAt,
		LastHeartbeat:      j.LastHeartbeat,
	}
}

// JobsCreate enqueues a job. 201 means a new job was stored, 200 that an
// equivalent active job already existed.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnqueueBody))
	dec.DisallowUnknownFields()
	var req domain.EnqueueRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		a.error(w, http.StatusBadRequest, "bad_request", "request body must be a single JSON object")
		return
	}
	if t, err := domain.ParseJobType(string(req.Type)); err == nil {
		req.Type = t
	}

	res, err := a.Jobs.Enqueue(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	a.json(w, code, res)
}

func (a *App) JobsGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toView(job))
}

// JobsCancel cancels a queued or running job. Cancelling a finished job is
// not an error; the response says whether anything changed.
func (a *App) JobsCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, err := a.Jobs.Cancel(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"id": id, "cancelled": cancelled})
}

func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jobs, err := a.Jobs.List(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]jobView, 0, len(jobs))
	for i := range jobs {
		items = append(items, toView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func parseFilter(r *http.Request) (domain.JobFilter, error) {
	q := r.URL.Query()
	var filter domain.JobFilter
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		s, err := domain.ParseJobStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = s
	}
	if raw := strings.TrimSpace(q.Get("job_type")); raw != "" {
		t, err := domain.ParseJobType(raw)
		if err != nil {
			return filter, err
		}
		filter.Type = t
	}
	filter.OwnerKey = strings.TrimSpace(q.Get("owner_key"))
	filter.TargetKey = domain.NormalizeTargetKey(q.Get("target_key"))
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidJob)
		}
		filter.Limit = n
	}
	return filter, nil
}
