package queue

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"go-chatroom/internal/task"
)

const defaultResultLimit = 20

type Handler struct {
	managers  map[string]*Manager
	retention time.Duration
	logger    *slog.Logger
}

func NewHandler(retention time.Duration, logger *slog.Logger, managers ...*Manager) *Handler {
	h := &Handler{
		managers:  make(map[string]*Manager, len(managers)),
		retention: retention,
		logger:    logger,
	}
	for _, m := range managers {
		h.managers[m.Family()] = m
	}
	return h
}

// Mount registers the queue surface. admin guards everything but health.
func (h *Handler) Mount(r chi.Router, admin func(http.Handler) http.Handler) {
	r.Route("/api/queues", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Route("/{family}", func(r chi.Router) {
				r.Post("/", h.Enqueue)
				r.Get("/", h.Status)
				r.Delete("/", h.Drain)
				r.Post("/clear", h.Clear)
				r.Get("/results", h.Results)
				r.Post("/cleanup", h.Cleanup)
				r.Get("/stats", h.Stats)
			})
		})
	})
}

func (h *Handler) manager(w http.ResponseWriter, r *http.Request) (*Manager, bool) {
	m, ok := h.managers[chi.URLParam(r, "family")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown queue")
	}
	return m, ok
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	families := make([]string, 0, len(h.managers))
	for f := range h.managers {
		families = append(families, f)
	}
	sort.Strings(families)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"queues":    families,
		"timestamp": time.Now().UTC(),
	})
}

type enqueueRequest struct {
	Command  string          `json:"command"`
	Payload  json.RawMessage `json:"payload"`
	Username string          `json:"username"`
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	qt := QueuedTask{Command: req.Command, Payload: req.Payload, Username: req.Username}
	n, err := m.Enqueue(r.Context(), qt)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queueLength": n})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	st, err := m.Status(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Drain processes the queue now and returns the batch results.
func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	results, err := m.DrainAndProcess(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": len(results), "results": results})
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	n, err := m.Clear(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		res, found, err := m.Result(r.Context(), id)
		switch {
		case err != nil:
			h.fail(w, err)
		case !found:
			writeError(w, http.StatusNotFound, "result not found")
		default:
			writeJSON(w, http.StatusOK, res)
		}
		return
	}

	limit := defaultResultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	results, err := m.Results(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	retention := h.retention
	if s := r.URL.Query().Get("days"); s != "" {
		days, err := strconv.Atoi(s)
		if err != nil || days < 0 {
			writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		retention = time.Duration(days) * 24 * time.Hour
	}
	n, err := m.CleanupResults(r.Context(), retention)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	st, err := m.proc.Stats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrQueueStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("queue request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
