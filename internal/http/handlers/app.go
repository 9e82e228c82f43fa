package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
)

// JobService is the producer-facing part of scheduler.Service.
type JobService interface {
	Enqueue(ctx context.Context, req domain.EnqueueRequest) (domain.EnqueueResult, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	GetStatus(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	Stats(ctx context.Context) (map[domain.JobStatus]int, error)
}

type App struct {
	Jobs   JobService
	Logger zerolog.Logger
	// Ping checks the store for the health endpoint. Optional.
	Ping func(ctx context.Context) error
	// Metrics serves the Prometheus scrape endpoint. Optional.
	Metrics http.Handler
}

func NewApp(jobs JobService, logger zerolog.Logger) *App {
	return &App{Jobs: jobs, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, map[string]string{"error": kind, "message": msg})
}

// fail maps service errors onto HTTP statuses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInvalidJob):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrTransitionRejected), errors.Is(err, domain.ErrOwnershipLost):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
