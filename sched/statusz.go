package sched

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/peposaru/milivault/catalog"
)

// statusResponse is the statusz JSON shape.
type statusResponse struct {
	Mode          string                   `json:"mode"`
	Sites         int                      `json:"sites"`
	LastAvailRun  string                   `json:"last_avail_run,omitempty"`
	LastScrapeRun string                   `json:"last_scrape_run,omitempty"`
	RecentPasses  []catalog.ScrapeLogEntry `json:"recent_passes"`
}

// StatusHandler serves run-state and recent pass history as JSON.
func StatusHandler(s *Scheduler, store *catalog.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/statusz", func(w http.ResponseWriter, req *http.Request) {
		availAt, scrapeAt := s.LastRuns()
		resp := statusResponse{
			Mode:  string(s.Config.Mode),
			Sites: len(s.Profiles),
		}
		if !availAt.IsZero() {
			resp.LastAvailRun = availAt.Format(time.RFC3339)
		}
		if !scrapeAt.IsZero() {
			resp.LastScrapeRun = scrapeAt.Format(time.RFC3339)
		}
		entries, err := store.RecentScrapeLogs(req.Context(), 20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.RecentPasses = entries
		if resp.RecentPasses == nil {
			resp.RecentPasses = []catalog.ScrapeLogEntry{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			return
		}
	})
	return r
}
