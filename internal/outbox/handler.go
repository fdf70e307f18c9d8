package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// AdminStore is the slice of the store the admin surface needs.
type AdminStore interface {
	Enqueue(ctx context.Context, input EnqueueInput) (Event, error)
	ListFailed(ctx context.Context, limit int) ([]Event, error)
	Requeue(ctx context.Context, eventID int64) (Event, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// Nudger wakes the dispatcher after a manual requeue.
type Nudger interface {
	Nudge()
}

// Handler exposes the operator retry surface for the outbox.
type Handler struct {
	logger *slog.Logger
	store  AdminStore
	nudger Nudger
	group  singleflight.Group
}

// NewHandler constructs a Handler instance. A nil nudger leaves requeued
// events to the next poll tick.
func NewHandler(logger *slog.Logger, store AdminStore, nudger Nudger) *Handler {
	return &Handler{logger: logger, store: store, nudger: nudger}
}

// MountRoutes registers outbox admin routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/events", h.enqueue)
	r.Get("/failed", h.listFailed)
	r.Get("/stats", h.stats)
	r.Post("/{id}/retry", h.retry)
}

type enqueueRequest struct {
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey"`
	SourceType     string          `json:"sourceType"`
	SourceID       string          `json:"sourceId"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	eventType := EventType(req.EventType)
	if !slices.Contains(KnownEventTypes(), eventType) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown event type "+req.EventType)
		return
	}
	if len(req.Payload) == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "payload is required")
		return
	}
	ev, err := h.store.Enqueue(r.Context(), EnqueueInput{
		EventType:      eventType,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		SourceType:     req.SourceType,
		SourceID:       req.SourceID,
	})
	if err != nil {
		h.logger.Error("enqueue event", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if h.nudger != nil {
		h.nudger.Nudge()
	}
	httpx.JSON(w, http.StatusAccepted, toEventResponse(ev))
}

type eventResponse struct {
	ID            int64  `json:"id"`
	EventType     string `json:"eventType"`
	SourceType    string `json:"sourceType,omitempty"`
	SourceID      string `json:"sourceId,omitempty"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"lastError,omitempty"`
	NextAttemptAt string `json:"nextAttemptAt,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

func toEventResponse(ev Event) eventResponse {
	resp := eventResponse{
		ID:         ev.ID,
		EventType:  string(ev.EventType),
		SourceType: ev.SourceType,
		SourceID:   ev.SourceID,
		Status:     string(ev.Status),
		Attempts:   ev.Attempts,
		LastError:  ev.LastError,
		CreatedAt:  ev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if ev.NextAttemptAt != nil {
		resp.NextAttemptAt = ev.NextAttemptAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

func (h *Handler) listFailed(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.store.ListFailed(r.Context(), limit)
	if err != nil {
		h.logger.Error("list failed events", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": out})
}

// stats collapses concurrent callers onto one COUNT query; dashboards tend
// to poll this endpoint in bursts. The query runs on a detached context so
// one canceled request cannot fail every collapsed caller.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	counts, err, _ := h.group.Do("stats", func() (any, error) {
		return h.store.CountByStatus(ctx)
	})
	if err != nil {
		h.logger.Error("count events", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make(map[string]int64)
	for status, count := range counts.(map[Status]int64) {
		out[string(status)] = count
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid event id")
		return
	}
	ev, err := h.store.Requeue(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no failed event with that id")
			return
		}
		h.logger.Error("requeue event", slog.Int64("event_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if h.nudger != nil {
		h.nudger.Nudge()
	}
	httpx.JSON(w, http.StatusOK, toEventResponse(ev))
}
