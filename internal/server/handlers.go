package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gkobilansky/funnel-goat/internal/kpi"
	"github.com/gkobilansky/funnel-goat/internal/store"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	exps, err := s.store.ListExperiments(ctx)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Get database size
	var dbSize int64
	row := s.store.DB().QueryRowContext(ctx, "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	if err := row.Scan(&dbSize); err != nil {
		s.log.Debug().Err(err).Msg("failed to read database size")
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		ExperimentsCount: len(exps),
		DBSizeBytes:      dbSize,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}

type experimentResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Events      int            `json:"events"`
	Visits      int            `json:"visits"`
	Clients     int            `json:"clients"`
	Assigned    int            `json:"assigned"`
	Arms        map[string]int `json:"arms"`
	UntimedRows int            `json:"untimed_rows"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	exps, err := s.store.ListExperiments(ctx)
	if err != nil {
		http.Error(w, "Failed to load experiments", http.StatusInternalServerError)
		return
	}

	// Return empty array instead of null
	response := make([]experimentResponse, 0, len(exps))
	for _, exp := range exps {
		counts, err := s.store.GetCounts(ctx, exp.Name)
		if err != nil {
			http.Error(w, "Failed to load experiments", http.StatusInternalServerError)
			return
		}
		response = append(response, toExperimentResponse(exp, counts))
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleExperiment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	exp, err := s.store.GetExperiment(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Experiment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load experiment", http.StatusInternalServerError)
		return
	}

	counts, err := s.store.GetCounts(ctx, name)
	if err != nil {
		http.Error(w, "Failed to load experiment", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toExperimentResponse(exp, counts))
}

func toExperimentResponse(exp *store.Experiment, c *store.Counts) experimentResponse {
	return experimentResponse{
		Name:        exp.Name,
		Description: exp.Description,
		Events:      c.Events,
		Visits:      c.Visits,
		Clients:     c.Clients,
		Assigned:    c.Assigned,
		Arms:        c.ClientsBy,
		UntimedRows: c.UntimedRows,
		CreatedAt:   exp.CreatedAt,
		UpdatedAt:   exp.UpdatedAt,
	}
}

type kpiResult struct {
	Table *kpi.Table `json:"table,omitempty"`
	Error string     `json:"error,omitempty"`
}

type kpiResponse struct {
	Experiment string    `json:"experiment"`
	Completion kpiResult `json:"completion"`
	DwellTime  kpiResult `json:"dwell_time"`
	ErrorRate  kpiResult `json:"error_rate"`
}

// handleKPI computes all three KPIs for an experiment. Query parameters:
// join (applies to every merge) and ordering override the server defaults.
func (s *Server) handleKPI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	opts := s.opts
	opts.Events = store.EventColumns()
	opts.Arms = store.ArmColumns()
	opts.Log = &s.log

	q := r.URL.Query()
	if j := q.Get("join"); j != "" {
		mode, err := variation.ParseJoinMode(j)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Join = kpi.JoinModes{Completion: mode, DwellTime: mode, ErrorRate: mode}
	}
	if o := q.Get("ordering"); o != "" {
		ordering, err := kpi.ParseOrdering(o)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Ordering = ordering
	}

	web, err := s.store.LoadEvents(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Experiment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load events", http.StatusInternalServerError)
		return
	}
	exp, err := s.store.LoadAssignments(ctx, name)
	if err != nil {
		http.Error(w, "Failed to load assignments", http.StatusInternalServerError)
		return
	}

	report, err := kpi.Compute(ctx, kpi.Input{Events: web, Assignments: exp}, opts)
	if err != nil {
		http.Error(w, "Request canceled", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, kpiResponse{
		Experiment: name,
		Completion: toResult(report.Completion),
		DwellTime:  toResult(report.DwellTime),
		ErrorRate:  toResult(report.ErrorRate),
	})
}

func toResult(r kpi.Result) kpiResult {
	if r.Err != nil {
		return kpiResult{Error: r.Err.Error()}
	}
	return kpiResult{Table: r.Table}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
