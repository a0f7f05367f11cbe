package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tidemill/inboxd/observability"
	"github.com/tidemill/inboxd/pipeline"
	"github.com/tidemill/inboxd/safety"
)

// sseBroker fans pipeline events out to connected SSE clients.
// Slow clients lose events instead of applying backpressure.
type sseBroker struct {
	mu   sync.Mutex
	subs map[chan pipeline.Event]struct{}
}

func newSSEBroker() *sseBroker {
	return &sseBroker{subs: map[chan pipeline.Event]struct{}{}}
}

// Sink adapts the broker to the pipeline event interface.
func (b *sseBroker) Sink() pipeline.Sink {
	return func(e pipeline.Event) {
		b.mu.Lock()
		defer b.mu.Unlock()
		for ch := range b.subs {
			select {
			case ch <- e:
			default:
			}
		}
	}
}

func (b *sseBroker) subscribe() chan pipeline.Event {
	ch := make(chan pipeline.Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *sseBroker) unsubscribe(ch chan pipeline.Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *sseBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			w.Write([]byte("event: " + string(e.Kind) + "\n"))
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()
		}
	}
}

// newRouter builds the read-only HTTP surface.
func newRouter(jobs *jobStore, obsDB *sql.DB, broker *sseBroker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/v1/health", healthHandler(obsDB))
	r.Get("/v1/jobs", listJobsHandler(jobs))
	r.Get("/v1/jobs/{hash}", jobStatusHandler(jobs))
	r.Method(http.MethodGet, "/v1/events", broker)
	return r
}

func healthHandler(obsDB *sql.DB) http.HandlerFunc {
	// Staleness threshold = 3x the sweeper heartbeat interval.
	const stalenessThreshold = 45 * time.Second

	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}

		hb, err := observability.LatestHeartbeat(r.Context(), obsDB, "inboxd", stalenessThreshold)
		if err == nil && hb != nil {
			resp["heartbeat"] = hb
			if !hb.Alive {
				resp["status"] = "degraded"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func jobStatusHandler(jobs *jobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")
		if err := safety.ValidateIdentifier(hash); err != nil {
			http.Error(w, "invalid hash", http.StatusBadRequest)
			return
		}
		st, err := jobs.status(hash)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if st == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func listJobsHandler(jobs *jobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := jobs.list()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": list, "count": len(list)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
