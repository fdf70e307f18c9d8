package costing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	OnHand(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error)
}

// PeriodGuard rejects movements dated inside a locked accounting period.
type PeriodGuard interface {
	AssertDateOpen(ctx context.Context, date time.Time) error
}

// Service implements FIFO inventory costing: layer creation, oldest-first
// consumption, transfer receipt and sales-return restoration.
type Service struct {
	repo  RepositoryPort
	guard PeriodGuard
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, guard PeriodGuard) *Service {
	return &Service{repo: repo, guard: guard, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) movementDate(ctx context.Context, requested time.Time) (time.Time, error) {
	date := requested
	if date.IsZero() {
		date = s.now().UTC()
	}
	if s.guard != nil {
		if err := s.guard.AssertDateOpen(ctx, date); err != nil {
			return time.Time{}, err
		}
	}
	return date, nil
}

// CreateLayer opens a new FIFO layer and records the inbound movement.
func (s *Service) CreateLayer(ctx context.Context, input CreateLayerInput) (CostLayer, error) {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return CostLayer{}, errors.New("costing: product and warehouse required")
	}
	if !input.Quantity.IsPositive() {
		return CostLayer{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return CostLayer{}, ErrInvalidUnitCost
	}
	date, err := s.movementDate(ctx, input.MovementDate)
	if err != nil {
		return CostLayer{}, err
	}
	unitCost := input.UnitCost.Round(4)
	var created CostLayer
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err = tx.InsertLayer(ctx, CostLayer{
			ProductID:    input.ProductID,
			WarehouseID:  input.WarehouseID,
			OriginalQty:  input.Quantity,
			RemainingQty: input.Quantity,
			UnitCost:     unitCost,
			SourceType:   input.SourceType,
			SourceID:     input.SourceID,
			SourceLineID: input.SourceLineID,
		})
		if err != nil {
			return err
		}
		layerID := created.ID
		_, err = tx.InsertMovement(ctx, Movement{
			ProductID:         input.ProductID,
			WarehouseID:       input.WarehouseID,
			Direction:         DirectionIn,
			Quantity:          input.Quantity,
			UnitCost:          unitCost,
			TotalCost:         unitCost.Mul(input.Quantity).Round(2),
			ReferenceType:     input.SourceType,
			ReferenceID:       input.SourceID,
			ReferenceLineID:   input.SourceLineID,
			SourceCostLayerID: &layerID,
			PostedAt:          date,
			CreatedBy:         input.ActorID,
		})
		return err
	})
	if err != nil {
		return CostLayer{}, err
	}
	return created, nil
}

// Consume drains layers oldest-first and records one outbound movement per
// layer touched, preserving cost provenance per movement. Demand beyond the
// total remaining quantity is a hard failure; the calling operation must not
// proceed with its stock decrement.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (ConsumeResult, error) {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return ConsumeResult{}, errors.New("costing: product and warehouse required")
	}
	if !input.Quantity.IsPositive() {
		return ConsumeResult{}, ErrInvalidQuantity
	}
	date, err := s.movementDate(ctx, input.MovementDate)
	if err != nil {
		return ConsumeResult{}, err
	}
	var result ConsumeResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		layers, err := tx.LockLayersFIFO(ctx, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		needed := input.Quantity
		total := decimal.Zero
		var consumed []ConsumedLayer
		for _, layer := range layers {
			if !needed.IsPositive() {
				break
			}
			take := decimal.Min(needed, layer.RemainingQty)
			lineCost := layer.UnitCost.Mul(take).Round(2)
			if err := tx.SetLayerRemaining(ctx, layer.ID, layer.RemainingQty.Sub(take)); err != nil {
				return err
			}
			layerID := layer.ID
			if _, err := tx.InsertMovement(ctx, Movement{
				ProductID:         input.ProductID,
				WarehouseID:       input.WarehouseID,
				Direction:         DirectionOut,
				Quantity:          take,
				UnitCost:          layer.UnitCost,
				TotalCost:         lineCost,
				ReferenceType:     input.ReferenceType,
				ReferenceID:       input.ReferenceID,
				ReferenceLineID:   input.ReferenceLineID,
				SourceCostLayerID: &layerID,
				PostedAt:          date,
				CreatedBy:         input.ActorID,
			}); err != nil {
				return err
			}
			consumed = append(consumed, ConsumedLayer{LayerID: layer.ID, Quantity: take, UnitCost: layer.UnitCost})
			total = total.Add(lineCost)
			needed = needed.Sub(take)
		}
		if needed.IsPositive() {
			return fmt.Errorf("%w: short %s of %s for product %d in warehouse %d",
				ErrInsufficientStock, needed.String(), input.Quantity.String(), input.ProductID, input.WarehouseID)
		}
		result = ConsumeResult{TotalCost: total.Round(2), ConsumedLayers: consumed}
		return nil
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	return result, nil
}

// ReceiveTransfer creates destination layers from snapshots captured at the
// exporting warehouse. Each new layer points back at the layer it was
// exported from.
func (s *Service) ReceiveTransfer(ctx context.Context, input ReceiveTransferInput) ([]CostLayer, error) {
	if input.ProductID == 0 || input.DestWarehouseID == 0 {
		return nil, errors.New("costing: product and warehouse required")
	}
	if len(input.Snapshots) == 0 {
		return nil, errors.New("costing: transfer snapshots required")
	}
	for _, snap := range input.Snapshots {
		if !snap.Quantity.IsPositive() {
			return nil, ErrInvalidQuantity
		}
		if snap.UnitCost.IsNegative() {
			return nil, ErrInvalidUnitCost
		}
	}
	date, err := s.movementDate(ctx, input.MovementDate)
	if err != nil {
		return nil, err
	}
	var created []CostLayer
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, snap := range input.Snapshots {
			parentID := snap.SourceLayerID
			unitCost := snap.UnitCost.Round(4)
			layer, err := tx.InsertLayer(ctx, CostLayer{
				ProductID:     input.ProductID,
				WarehouseID:   input.DestWarehouseID,
				OriginalQty:   snap.Quantity,
				RemainingQty:  snap.Quantity,
				UnitCost:      unitCost,
				SourceType:    "TRANSFER",
				SourceID:      input.SourceID,
				ParentLayerID: &parentID,
			})
			if err != nil {
				return err
			}
			layerID := layer.ID
			if _, err := tx.InsertMovement(ctx, Movement{
				ProductID:         input.ProductID,
				WarehouseID:       input.DestWarehouseID,
				Direction:         DirectionIn,
				Quantity:          snap.Quantity,
				UnitCost:          unitCost,
				TotalCost:         unitCost.Mul(snap.Quantity).Round(2),
				ReferenceType:     "TRANSFER",
				ReferenceID:       input.SourceID,
				SourceCostLayerID: &layerID,
				PostedAt:          date,
				CreatedBy:         input.ActorID,
			}); err != nil {
				return err
			}
			created = append(created, layer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RestoreFromSalesReturn walks the original sale's outbound movements oldest
// first and restores quantity onto their source layers at each movement's
// unit cost. A return can never exceed what was actually delivered.
func (s *Service) RestoreFromSalesReturn(ctx context.Context, input RestoreInput) (RestoreResult, error) {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return RestoreResult{}, errors.New("costing: product and warehouse required")
	}
	if input.OriginalSaleID == "" {
		return RestoreResult{}, errors.New("costing: original sale reference required")
	}
	if !input.Quantity.IsPositive() {
		return RestoreResult{}, ErrInvalidQuantity
	}
	date, err := s.movementDate(ctx, input.MovementDate)
	if err != nil {
		return RestoreResult{}, err
	}
	var result RestoreResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movements, err := tx.ListOutboundForReference(ctx, input.OriginalSaleID, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		delivered := decimal.Zero
		for _, m := range movements {
			delivered = delivered.Add(m.Quantity)
		}
		if input.Quantity.GreaterThan(delivered) {
			return fmt.Errorf("%w: requested %s, delivered %s for sale %s",
				ErrReturnExceedsDelivered, input.Quantity.String(), delivered.String(), input.OriginalSaleID)
		}
		remaining := input.Quantity
		total := decimal.Zero
		for _, m := range movements {
			if !remaining.IsPositive() {
				break
			}
			restoreQty := decimal.Min(remaining, m.Quantity)
			layerID, err := s.restoreOntoLayer(ctx, tx, m, restoreQty, input)
			if err != nil {
				return err
			}
			lineCost := m.UnitCost.Mul(restoreQty).Round(2)
			if _, err := tx.InsertMovement(ctx, Movement{
				ProductID:         input.ProductID,
				WarehouseID:       input.WarehouseID,
				Direction:         DirectionIn,
				Quantity:          restoreQty,
				UnitCost:          m.UnitCost,
				TotalCost:         lineCost,
				ReferenceType:     "SALES_RETURN",
				ReferenceID:       input.ReferenceID,
				ReferenceLineID:   input.ReferenceLineID,
				SourceCostLayerID: layerID,
				PostedAt:          date,
				CreatedBy:         input.ActorID,
			}); err != nil {
				return err
			}
			total = total.Add(lineCost)
			remaining = remaining.Sub(restoreQty)
		}
		result = RestoreResult{TotalCost: total.Round(2)}
		return nil
	})
	if err != nil {
		return RestoreResult{}, err
	}
	return result, nil
}

// restoreOntoLayer puts recovered quantity back onto the movement's source
// layer, capped at that layer's original quantity. When the layer no longer
// resolves, a fallback layer is created whose parent points at the movement's
// layer reference so traceability survives.
func (s *Service) restoreOntoLayer(ctx context.Context, tx TxRepository, m Movement, restoreQty decimal.Decimal, input RestoreInput) (*int64, error) {
	if m.SourceCostLayerID != nil {
		layer, err := tx.GetLayerForUpdate(ctx, *m.SourceCostLayerID)
		if err == nil {
			restored := decimal.Min(layer.RemainingQty.Add(restoreQty), layer.OriginalQty)
			if err := tx.SetLayerRemaining(ctx, layer.ID, restored); err != nil {
				return nil, err
			}
			layerID := layer.ID
			return &layerID, nil
		}
		if !errors.Is(err, ErrLayerNotFound) {
			return nil, err
		}
	}
	fallback, err := tx.InsertLayer(ctx, CostLayer{
		ProductID:     input.ProductID,
		WarehouseID:   input.WarehouseID,
		OriginalQty:   restoreQty,
		RemainingQty:  restoreQty,
		UnitCost:      m.UnitCost,
		SourceType:    "SALES_RETURN",
		SourceID:      input.ReferenceID,
		SourceLineID:  input.ReferenceLineID,
		ParentLayerID: m.SourceCostLayerID,
	})
	if err != nil {
		return nil, err
	}
	layerID := fallback.ID
	return &layerID, nil
}

// ListMovements lists movement ledger rows for one product/warehouse.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ProductID == 0 || filter.WarehouseID == 0 {
		return nil, errors.New("costing: product and warehouse required")
	}
	return s.repo.ListMovements(ctx, filter)
}

// OnHand reports the remaining quantity across layers.
func (s *Service) OnHand(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error) {
	if productID == 0 || warehouseID == 0 {
		return decimal.Zero, errors.New("costing: product and warehouse required")
	}
	return s.repo.OnHand(ctx, productID, warehouseID)
}
