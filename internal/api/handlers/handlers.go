// Package handlers implements the HTTP handlers for the docschat backend.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudsecdocs/docschat/internal/api/middleware"
	"github.com/cloudsecdocs/docschat/internal/chat"
	"github.com/cloudsecdocs/docschat/internal/ingest"
	"github.com/cloudsecdocs/docschat/internal/usage"
	"github.com/cloudsecdocs/docschat/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Pipeline *chat.Pipeline
	Ledger   *usage.Ledger
	Ingester *ingest.Ingester
}

// New creates a Handlers instance.
func New(p *chat.Pipeline, l *usage.Ledger, ing *ingest.Ingester) *Handlers {
	return &Handlers{Pipeline: p, Ledger: l, Ingester: ing}
}

// ── Chat ────────────────────────────────────────────────────

// Chat handles POST /api/v1/chat. The response is an incrementally flushed
// event stream of {content, role} fragments terminated by a [DONE] sentinel.
// Errors that occur before the first fragment map to JSON error responses;
// after that the partial stream simply terminates.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID := middleware.GetUserID(r.Context())
	sink := newEventStream(w)

	err := h.Pipeline.Respond(r.Context(), userID, req, sink)
	if err != nil {
		if sink.started {
			// Bytes are already on the wire; the client sees a truncated
			// stream and is responsible for handling it.
			log.Error().Err(err).Str("user", userID).Msg("chat stream aborted")
			return
		}

		var quotaErr *chat.QuotaExceededError
		switch {
		case errors.Is(err, chat.ErrNoUserMessage):
			respondError(w, http.StatusBadRequest, "No user message provided")
		case errors.As(err, &quotaErr):
			respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error": "Rate limit exceeded",
				"details": map[string]interface{}{
					"limit": quotaErr.Status.Limit,
					"usage": quotaErr.Status.Used,
					"reset": "next day",
				},
			})
		default:
			log.Error().Err(err).Str("user", userID).Msg("chat request failed")
			respondError(w, http.StatusInternalServerError, "An error occurred during your request.")
		}
		return
	}

	sink.Close()
}

// ── Usage ───────────────────────────────────────────────────

// Usage handles GET /api/v1/usage/{userId}: today's counters plus the
// configured limit and what remains of it.
func (h *Handlers) Usage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	rec, err := h.Ledger.Today(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	remaining := h.Ledger.Limit() - rec.TokensTotal
	if remaining < 0 {
		remaining = 0
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"usage":     rec,
		"limit":     h.Ledger.Limit(),
		"remaining": remaining,
	})
}

// ── Ingest ──────────────────────────────────────────────────

// IngestDocuments handles POST /api/v1/documents.
func (h *Handlers) IngestDocuments(w http.ResponseWriter, r *http.Request) {
	if h.Ingester == nil {
		respondError(w, http.StatusServiceUnavailable, "ingestion not configured")
		return
	}

	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		respondError(w, http.StatusBadRequest, "documents array is required")
		return
	}

	result, err := h.Ingester.Ingest(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("document ingest failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ── Event stream sink ───────────────────────────────────────

// eventStream adapts http.ResponseWriter to the pipeline's Sink. Stream
// headers are written lazily on the first fragment so pre-stream failures
// can still produce a proper JSON error status.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	flusher, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: flusher}
}

func (s *eventStream) Send(event models.StreamEvent) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Close terminates a successful stream with the [DONE] sentinel.
func (s *eventStream) Close() {
	if !s.started {
		// Empty answer: still a valid, just empty, stream.
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.WriteHeader(http.StatusOK)
	}
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
