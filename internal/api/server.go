package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/journal"
	"github.com/technosupport/ts-eventgate/internal/retryqueue"
	"github.com/technosupport/ts-eventgate/internal/router"
)

// RetryQueue is the read side of the chat retry queue.
type RetryQueue interface {
	List() ([]retryqueue.Stored, error)
}

// Triggerable requests an early pass.
type Triggerable interface {
	Trigger()
}

type Handler struct {
	Inbox   string
	Queue   RetryQueue
	Journal journal.Journal
	Poller  Triggerable
}

type healthResponse struct {
	Status     string `json:"status"`
	InboxDepth int    `json:"inbox_depth"`
	RetryDepth int    `json:"retry_depth"`
}

// Routes builds the operational HTTP surface.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/retry-queue", h.ListRetryQueue)
		r.Get("/events", h.RecentEvents)
		r.Post("/router/trigger", h.TriggerPass)
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	files, err := router.ListInbox(h.Inbox)
	if err != nil {
		resp.Status = "degraded"
		log.Warn().Err(err).Str("inbox", h.Inbox).Msg("Health: inbox unreadable")
	}
	resp.InboxDepth = len(files)

	if h.Queue != nil {
		recs, err := h.Queue.List()
		if err != nil {
			resp.Status = "degraded"
		}
		resp.RetryDepth = len(recs)
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handler) ListRetryQueue(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		writeJSON(w, http.StatusOK, []retryqueue.Stored{})
		return
	}
	recs, err := h.Queue.List()
	if err != nil {
		http.Error(w, "failed to list retry queue", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []retryqueue.Stored{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	if h.Journal == nil {
		writeJSON(w, http.StatusOK, []journal.Entry{})
		return
	}
	entries, err := h.Journal.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) TriggerPass(w http.ResponseWriter, r *http.Request) {
	if h.Poller == nil {
		http.Error(w, "router not running", http.StatusServiceUnavailable)
		return
	}
	h.Poller.Trigger()
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Serve runs srv until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
