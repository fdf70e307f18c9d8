package journals

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/ledger/shared"
	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the journal ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers journal routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.post)
	r.Get("/{id}", h.show)
	r.Post("/{id}/reverse", h.reverse)
}

type postLineRequest struct {
	AccountID int64  `json:"accountId" validate:"required,gt=0"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
	PartyID   *int64 `json:"partyId"`
	BranchID  *int64 `json:"branchId"`
	Memo      string `json:"memo"`
}

type postRequest struct {
	EntryDate      string            `json:"entryDate" validate:"required"`
	SourceType     string            `json:"sourceType" validate:"required"`
	SourceID       string            `json:"sourceId" validate:"required"`
	IdempotencyKey string            `json:"idempotencyKey"`
	PostedBy       int64             `json:"postedBy"`
	Lines          []postLineRequest `json:"lines" validate:"required,min=2,dive"`
}

type reverseRequest struct {
	Reason  string `json:"reason"`
	ActorID int64  `json:"actorId"`
}

type lineResponse struct {
	AccountID int64  `json:"accountId"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
	PartyID   *int64 `json:"partyId,omitempty"`
	BranchID  *int64 `json:"branchId,omitempty"`
	Memo      string `json:"memo,omitempty"`
}

type entryResponse struct {
	ID             int64          `json:"id"`
	EntryNo        string         `json:"entryNo"`
	EntryDate      string         `json:"entryDate"`
	SourceType     string         `json:"sourceType"`
	SourceID       string         `json:"sourceId"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Status         string         `json:"status"`
	ReversalOfID   *int64         `json:"reversalOfId,omitempty"`
	Lines          []lineResponse `json:"lines,omitempty"`
}

func toEntryResponse(entry JournalEntry) entryResponse {
	resp := entryResponse{
		ID:             entry.ID,
		EntryNo:        entry.EntryNo,
		EntryDate:      entry.EntryDate.Format("2006-01-02"),
		SourceType:     entry.SourceType,
		SourceID:       entry.SourceID,
		IdempotencyKey: entry.IdempotencyKey,
		Status:         string(entry.Status),
		ReversalOfID:   entry.ReversalOfID,
	}
	for _, line := range entry.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			AccountID: line.AccountID,
			Debit:     line.Debit.StringFixed(2),
			Credit:    line.Credit.StringFixed(2),
			PartyID:   line.PartyID,
			BranchID:  line.BranchID,
			Memo:      line.Memo,
		})
	}
	return resp
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list journals", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toEntryResponse(entry))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := toPostingInput(req)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.Post(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	entry, err := h.service.Reverse(r.Context(), ReverseInput{EntryID: id, ActorID: req.ActorID, Reason: req.Reason})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func toPostingInput(req postRequest) (PostingInput, error) {
	entryDate, err := time.Parse("2006-01-02", req.EntryDate)
	if err != nil {
		return PostingInput{}, errors.New("entryDate must be YYYY-MM-DD")
	}
	input := PostingInput{
		EntryDate:      entryDate,
		SourceType:     req.SourceType,
		SourceID:       req.SourceID,
		IdempotencyKey: req.IdempotencyKey,
		PostedBy:       req.PostedBy,
	}
	for _, line := range req.Lines {
		debit, err := parseAmount(line.Debit)
		if err != nil {
			return PostingInput{}, err
		}
		credit, err := parseAmount(line.Credit)
		if err != nil {
			return PostingInput{}, err
		}
		input.Lines = append(input.Lines, PostingLineInput{
			AccountID: line.AccountID,
			Debit:     debit,
			Credit:    credit,
			PartyID:   line.PartyID,
			BranchID:  line.BranchID,
			Memo:      line.Memo,
		})
	}
	return input, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.New("amounts must be decimal strings")
	}
	return value, nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrJournalNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrUnbalanced), errors.Is(err, shared.ErrTooFewLines):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unbalanced Entry", err.Error())
	case errors.Is(err, shared.ErrPeriodLocked):
		httpx.Problem(w, http.StatusConflict, "Period Locked", err.Error())
	case errors.Is(err, shared.ErrInvalidStatus):
		httpx.Problem(w, http.StatusConflict, "Invalid Status", err.Error())
	default:
		h.logger.Error("journal request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
