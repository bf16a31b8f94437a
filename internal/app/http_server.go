package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"timebill/internal/domain"
	"timebill/internal/ports"
)

// jobTimeout bounds background jobs started by the API so a hung upstream
// call cannot leak a goroutine forever.
const jobTimeout = 10 * time.Minute

// HTTPServer returns a configured http.Server exposing the review API and
// job triggers. Call ListenAndServe on the returned server in a goroutine
// and Shutdown it on exit.
func (a *App) HTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/time_entries", a.handleListEntries)
	mux.HandleFunc("PATCH /api/time_entries/{id}", a.handlePatchEntry)
	mux.HandleFunc("PUT /api/time_entries/{id}/ignore", a.handleIgnoreEntry)
	mux.HandleFunc("POST /api/time_entries/{id}/submit", a.handleSubmitEntry)
	mux.HandleFunc("POST /api/time_entries/{id}/revert", a.handleRevertEntry)

	mux.HandleFunc("GET /api/raw", a.handleListRaw)
	mux.HandleFunc("GET /api/processed_time_entries", a.handleListProcessed)

	mux.HandleFunc("GET /api/alp/matters", a.handleMatters)
	mux.HandleFunc("GET /api/alp/matters/{id}/outcomes", a.handleMatterOutcomes)
	mux.HandleFunc("GET /api/alp/outcomes/{id}/components", a.handleOutcomeComponents)

	mux.HandleFunc("POST /api/jobs/fetch", a.handleFetchJob)
	mux.HandleFunc("POST /api/jobs/process", a.handleProcessJob)

	srv := &http.Server{Addr: addr, Handler: corsMiddleware(loggingMiddleware(a.Log, mux))}
	a.Log.Info("http server configured", slog.String("addr", addr))
	return srv
}

// entryJSON is the wire shape of a time entry.
type entryJSON struct {
	EntryID         int64   `json:"entry_id"`
	EntryDate       string  `json:"entry_date"`
	Application     string  `json:"application"`
	TaskDescription string  `json:"task_description"`
	TotalSeconds    int64   `json:"total_seconds"`
	TimeUnits       float64 `json:"time_units"`
	MatterCode      string  `json:"matter_code,omitempty"`
	Status          string  `json:"status"`
	Notes           string  `json:"notes,omitempty"`
	SourceHash      string  `json:"source_hash"`
}

func toEntryJSON(e domain.TimeEntry) entryJSON {
	return entryJSON{
		EntryID:         e.EntryID,
		EntryDate:       e.EntryDate,
		Application:     e.Application,
		TaskDescription: e.TaskDescription,
		TotalSeconds:    e.TotalSeconds,
		TimeUnits:       e.TimeUnits,
		MatterCode:      e.MatterCode,
		Status:          e.Status,
		Notes:           e.Notes,
		SourceHash:      e.SourceHash,
	}
}

// handleListEntries serves GET /api/time_entries?date=...&status=...
// With a date it returns that date's entries; otherwise it returns entries
// by status, defaulting to pending.
func (a *App) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		entries []domain.TimeEntry
		err     error
	)
	if date := q.Get("date"); date != "" {
		if !domain.ValidDate(date) {
			writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		entries, err = a.Store.EntriesByDate(r.Context(), date)
	} else {
		status := q.Get("status")
		if status == "" {
			status = domain.StatusPending
		}
		if !domain.ValidStatus(status) {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		entries, err = a.Store.EntriesByStatus(r.Context(), status)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePatchEntry serves PATCH /api/time_entries/{id} with a JSON body of
// optional status and notes fields. Absent fields are left untouched.
func (a *App) handlePatchEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status *string `json:"status"`
		Notes  *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.Status != nil && !domain.ValidStatus(*body.Status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	patch := domain.EntryPatch{Status: body.Status, Notes: body.Notes}
	if patch.IsZero() {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if err := a.Store.UpdateEntry(r.Context(), id, patch); err != nil {
		writeStoreError(w, err)
		return
	}
	a.respondEntry(w, r, id)
}

// handleIgnoreEntry serves PUT /api/time_entries/{id}/ignore.
func (a *App) handleIgnoreEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	status := domain.StatusIgnored
	if err := a.Store.UpdateEntry(r.Context(), id, domain.EntryPatch{Status: &status}); err != nil {
		writeStoreError(w, err)
		return
	}
	a.respondEntry(w, r, id)
}

// handleSubmitEntry serves POST /api/time_entries/{id}/submit with a body
// naming the practice-management component to bill against.
func (a *App) handleSubmitEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		MatterComponentID int64 `json:"matter_component_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.MatterComponentID == 0 {
		writeError(w, http.StatusBadRequest, "matter_component_id is required")
		return
	}
	if err := a.Submit(r.Context(), id, body.MatterComponentID); err != nil {
		writeStoreError(w, err)
		return
	}
	a.respondEntry(w, r, id)
}

// handleRevertEntry serves POST /api/time_entries/{id}/revert.
func (a *App) handleRevertEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.Revert(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reverted", "entry_id": id})
}

// handleListRaw serves GET /api/raw?from=...&to=... over the unprocessed
// window. Both bounds are optional.
func (a *App) handleListRaw(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := domain.Scope{Start: q.Get("from"), End: q.Get("to")}
	if scope.Start != "" && !domain.ValidDate(scope.Start) {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	if scope.End != "" && !domain.ValidDate(scope.End) {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}
	records, err := a.Store.UnprocessedRecords(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type rawJSON struct {
		LogDate         string `json:"log_date"`
		DurationSeconds int64  `json:"duration_seconds"`
		Activity        string `json:"activity"`
		Category        string `json:"category,omitempty"`
		Productivity    int    `json:"productivity"`
		Document        string `json:"document"`
	}
	out := make([]rawJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, rawJSON{
			LogDate:         rec.LogDate,
			DurationSeconds: rec.DurationSeconds,
			Activity:        rec.Activity,
			Category:        rec.Category,
			Productivity:    rec.Productivity,
			Document:        rec.Document,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListProcessed serves GET /api/processed_time_entries?date=...
func (a *App) handleListProcessed(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" && !domain.ValidDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	entries, err := a.Store.ProcessedEntries(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *App) handleMatters(w http.ResponseWriter, r *http.Request) {
	matters, err := a.Practice.Matters(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matters)
}

func (a *App) handleMatterOutcomes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	outcomes, err := a.Practice.MatterOutcomes(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (a *App) handleOutcomeComponents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	components, err := a.Practice.OutcomeComponents(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, components)
}

// handleFetchJob serves POST /api/jobs/fetch with an optional {"days": N}
// body. The fetch runs in the background; the response is an accepted job id.
func (a *App) handleFetchJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Days int `json:"days"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	if body.Days < 1 {
		body.Days = 1
	}

	jobID := uuid.NewString()
	log := a.Log.With(slog.String("job_id", jobID), slog.String("job", "fetch"))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := a.Fetch(ctx, body.Days); err != nil {
			log.Error("fetch job failed", slog.String("error", err.Error()))
			return
		}
		log.Info("fetch job completed", slog.Int("days", body.Days))
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID, "days": body.Days})
}

// handleProcessJob serves POST /api/jobs/process with an optional body of
// start_date and end_date bounds. The aggregation runs in the background.
func (a *App) handleProcessJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	if body.StartDate != "" && !domain.ValidDate(body.StartDate) {
		writeError(w, http.StatusBadRequest, "invalid start_date")
		return
	}
	if body.EndDate != "" && !domain.ValidDate(body.EndDate) {
		writeError(w, http.StatusBadRequest, "invalid end_date")
		return
	}
	scope := domain.Scope{Start: body.StartDate, End: body.EndDate}

	jobID := uuid.NewString()
	log := a.Log.With(slog.String("job_id", jobID), slog.String("job", "process"))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		summary, err := a.Process(ctx, scope, false)
		if err != nil {
			log.Error("process job failed", slog.String("error", err.Error()))
			return
		}
		log.Info("process job completed",
			slog.Int("entries_written", summary.EntriesWritten),
			slog.Int("records_consumed", summary.RecordsConsumed))
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
}

func (a *App) respondEntry(w http.ResponseWriter, r *http.Request, id int64) {
	entry, err := a.Store.EntryByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryJSON(*entry))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ports.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// loggingMiddleware provides basic request logging.
func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Duration("dur", time.Since(start)),
		)
	})
}

// corsMiddleware allows the local review UI to call the API from another
// origin during development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
