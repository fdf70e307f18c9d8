package costing

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler exposes read endpoints over the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers costing routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/movements", h.movements)
	r.Get("/onhand", h.onHand)
}

type movementResponse struct {
	ID                int64  `json:"id"`
	ProductID         int64  `json:"productId"`
	WarehouseID       int64  `json:"warehouseId"`
	Direction         string `json:"direction"`
	Quantity          string `json:"quantity"`
	UnitCost          string `json:"unitCost"`
	TotalCost         string `json:"totalCost"`
	ReferenceType     string `json:"referenceType,omitempty"`
	ReferenceID       string `json:"referenceId,omitempty"`
	SourceCostLayerID *int64 `json:"sourceCostLayerId,omitempty"`
	PostedAt          string `json:"postedAt"`
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	filter := MovementFilter{}
	query := r.URL.Query()
	filter.ProductID, _ = strconv.ParseInt(query.Get("productId"), 10, 64)
	filter.WarehouseID, _ = strconv.ParseInt(query.Get("warehouseId"), 10, 64)
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	if raw := query.Get("from"); raw != "" {
		if from, err := time.Parse("2006-01-02", raw); err == nil {
			filter.From = from
		}
	}
	if raw := query.Get("to"); raw != "" {
		if to, err := time.Parse("2006-01-02", raw); err == nil {
			filter.To = to
		}
	}

	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, movementResponse{
			ID:                m.ID,
			ProductID:         m.ProductID,
			WarehouseID:       m.WarehouseID,
			Direction:         string(m.Direction),
			Quantity:          m.Quantity.String(),
			UnitCost:          m.UnitCost.StringFixed(4),
			TotalCost:         m.TotalCost.StringFixed(2),
			ReferenceType:     m.ReferenceType,
			ReferenceID:       m.ReferenceID,
			SourceCostLayerID: m.SourceCostLayerID,
			PostedAt:          m.PostedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) onHand(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("productId"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "productId is required")
		return
	}
	warehouseID, err := strconv.ParseInt(r.URL.Query().Get("warehouseId"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "warehouseId is required")
		return
	}
	qty, err := h.service.OnHand(r.Context(), productID, warehouseID)
	if err != nil {
		h.logger.Error("on hand", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"productId":   productID,
		"warehouseId": warehouseID,
		"quantity":    qty.String(),
	})
}
