package handlers

import (
	"net/http"

	"mediaqueue/internal/domain"
)

// StatsSummary reports job counts per status. Every status is present,
// zero when no job is in it.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := a.Jobs.Stats(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make(map[string]int, len(counts))
	total := 0
	for _, s := range domain.AllJobStatuses() {
		out[string(s)] = counts[s]
		total += counts[s]
	}
	a.json(w, http.StatusOK, map[string]any{"counts": out, "total": total})
}
