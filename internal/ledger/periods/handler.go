package periods

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/ledger/shared"
	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler wires HTTP endpoints for period lock management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers period routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/lock", h.lock)
	r.Post("/{id}/unlock", h.unlock)
}

type lockRequest struct {
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
	Reason    string `json:"reason"`
	ActorID   int64  `json:"actorId"`
}

type lockResponse struct {
	ID        int64  `json:"id"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	IsLocked  bool   `json:"isLocked"`
	Reason    string `json:"reason,omitempty"`
	LockedBy  int64  `json:"lockedBy,omitempty"`
}

func toLockResponse(lock PeriodLock) lockResponse {
	return lockResponse{
		ID:        lock.ID,
		StartDate: lock.StartDate.Format("2006-01-02"),
		EndDate:   lock.EndDate.Format("2006-01-02"),
		IsLocked:  lock.IsLocked,
		Reason:    lock.Reason,
		LockedBy:  lock.LockedBy,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	locks, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list period locks", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]lockResponse, 0, len(locks))
	for _, lock := range locks {
		out = append(out, toLockResponse(lock))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"locks": out})
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "startDate must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "endDate must be YYYY-MM-DD")
		return
	}
	lock, err := h.service.LockPeriod(r.Context(), LockInput{
		StartDate: start,
		EndDate:   end,
		Reason:    req.Reason,
		ActorID:   req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLockResponse(lock))
}

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid lock id")
		return
	}
	lock, err := h.service.UnlockPeriod(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLockResponse(lock))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrPeriodLockNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrPeriodOverlap):
		httpx.Problem(w, http.StatusConflict, "Overlapping Lock", err.Error())
	case errors.Is(err, shared.ErrInvalidStatus):
		httpx.Problem(w, http.StatusConflict, "Invalid Status", err.Error())
	default:
		h.logger.Error("period request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
