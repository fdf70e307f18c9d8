package costing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	layers    []CostLayer
	movements []Movement
	nextLayer int64
	nextMove  int64
	clock     time.Time
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{clock: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)}
}

func (r *memoryRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Minute)
	return r.clock
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.ProductID == filter.ProductID && m.WarehouseID == filter.WarehouseID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) OnHand(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, l := range r.layers {
		if l.ProductID == productID && l.WarehouseID == warehouseID {
			total = total.Add(l.RemainingQty)
		}
	}
	return total, nil
}

func (tx *memoryTx) LockLayersFIFO(ctx context.Context, productID, warehouseID int64) ([]CostLayer, error) {
	var out []CostLayer
	for _, l := range tx.repo.layers {
		if l.ProductID == productID && l.WarehouseID == warehouseID && l.RemainingQty.IsPositive() {
			out = append(out, l)
		}
	}
	// layers slice is already in creation order; ids are monotonic
	return out, nil
}

func (tx *memoryTx) GetLayerForUpdate(ctx context.Context, layerID int64) (CostLayer, error) {
	for _, l := range tx.repo.layers {
		if l.ID == layerID {
			return l, nil
		}
	}
	return CostLayer{}, ErrLayerNotFound
}

func (tx *memoryTx) InsertLayer(ctx context.Context, layer CostLayer) (CostLayer, error) {
	tx.repo.nextLayer++
	layer.ID = tx.repo.nextLayer
	layer.CreatedAt = tx.repo.tick()
	tx.repo.layers = append(tx.repo.layers, layer)
	return layer, nil
}

func (tx *memoryTx) SetLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error {
	for i := range tx.repo.layers {
		if tx.repo.layers[i].ID == layerID {
			tx.repo.layers[i].RemainingQty = remaining
			return nil
		}
	}
	return ErrLayerNotFound
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement Movement) (Movement, error) {
	tx.repo.nextMove++
	movement.ID = tx.repo.nextMove
	movement.CreatedAt = tx.repo.tick()
	tx.repo.movements = append(tx.repo.movements, movement)
	return movement, nil
}

func (tx *memoryTx) ListOutboundForReference(ctx context.Context, referenceID string, productID, warehouseID int64) ([]Movement, error) {
	var out []Movement
	for _, m := range tx.repo.movements {
		if m.ReferenceID == referenceID && m.ProductID == productID && m.WarehouseID == warehouseID && m.Direction == DirectionOut {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) layer(t *testing.T, id int64) CostLayer {
	t.Helper()
	for _, l := range r.layers {
		if l.ID == id {
			return l
		}
	}
	t.Fatalf("layer %d not found", id)
	return CostLayer{}
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestConsumeSingleLayer(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	layer, err := svc.CreateLayer(ctx, CreateLayerInput{
		ProductID: 1, WarehouseID: 1, Quantity: qty("50"), UnitCost: qty("2.00"),
		SourceType: "PURCHASE", SourceID: "po-1",
	})
	require.NoError(t, err)

	result, err := svc.Consume(ctx, ConsumeInput{
		ProductID: 1, WarehouseID: 1, Quantity: qty("30"),
		ReferenceType: "SALE", ReferenceID: "sale-1",
	})
	require.NoError(t, err)
	require.True(t, result.TotalCost.Equal(qty("60.00")), "got %s", result.TotalCost)
	require.Len(t, result.ConsumedLayers, 1)
	require.True(t, result.ConsumedLayers[0].Quantity.Equal(qty("30")))

	require.True(t, repo.layer(t, layer.ID).RemainingQty.Equal(qty("20")))

	outs := 0
	for _, m := range repo.movements {
		if m.Direction == DirectionOut {
			outs++
			require.True(t, m.Quantity.Equal(qty("30")))
			require.True(t, m.UnitCost.Equal(qty("2.00")))
		}
	}
	require.Equal(t, 1, outs)
}

func TestConsumeDrainsOldestLayerFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	layerA, err := svc.CreateLayer(ctx, CreateLayerInput{ProductID: 1, WarehouseID: 1, Quantity: qty("10"), UnitCost: qty("1.00"), SourceType: "PURCHASE", SourceID: "po-a"})
	require.NoError(t, err)
	layerB, err := svc.CreateLayer(ctx, CreateLayerInput{ProductID: 1, WarehouseID: 1, Quantity: qty("10"), UnitCost: qty("2.00"), SourceType: "PURCHASE", SourceID: "po-b"})
	require.NoError(t, err)

	result, err := svc.Consume(ctx, ConsumeInput{ProductID: 1, WarehouseID: 1, Quantity: qty("15"), ReferenceType: "SALE", ReferenceID: "sale-1"})
	require.NoError(t, err)
	// 10 x 1.00 + 5 x 2.00
	require.True(t, result.TotalCost.Equal(qty("20.00")), "got %s", result.TotalCost)
	require.Len(t, result.ConsumedLayers, 2)
	require.Equal(t, layerA.ID, result.ConsumedLayers[0].LayerID)
	require.Equal(t, layerB.ID, result.ConsumedLayers[1].LayerID)

	require.True(t, repo.layer(t, layerA.ID).RemainingQty.IsZero())
	require.True(t, repo.layer(t, layerB.ID).RemainingQty.Equal(qty("5")))
}

func TestConsumeInsufficientStockFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	layer, err := svc.CreateLayer(ctx, CreateLayerInput{ProductID: 1, WarehouseID: 1, Quantity: qty("5"), UnitCost: qty("3.00"), SourceType: "PURCHASE", SourceID: "po-1"})
	require.NoError(t, err)

	_, err = svc.Consume(ctx, ConsumeInput{ProductID: 1, WarehouseID: 1, Quantity: qty("8"), ReferenceType: "SALE", ReferenceID: "sale-1"})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Contains(t, err.Error(), "short 3")

	// Transaction rolls back in production; the fake mutates in place, so only
	// assert the failure itself here, not layer state.
	_ = layer
}

func TestConsumeKeepsFourDecimalCosts(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.CreateLayer(ctx, CreateLayerInput{ProductID: 1, WarehouseID: 1, Quantity: qty("3"), UnitCost: qty("0.3333"), SourceType: "PURCHASE", SourceID: "po-1"})
	require.NoError(t, err)

	result, err := svc.Consume(ctx, ConsumeInput{ProductID: 1, WarehouseID: 1, Quantity: qty("3"), ReferenceType: "SALE", ReferenceID: "sale-1"})
	require.NoError(t, err)
	require.True(t, result.TotalCost.Equal(qty("1.00")), "got %s", result.TotalCost)
}

func TestReceiveTransferPreservesProvenance(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	src, err := svc.CreateLayer(ctx, CreateLayerInput{ProductID: 1, WarehouseID: 1, Quantity: qty("20"), UnitCost: qty("4.50"), SourceType: "PURCHASE", SourceID: "po-1"})
	require.NoError(t, err)

	out, err := svc.Consume(ctx, ConsumeInput{ProductID: 1, WarehouseID: 1, Quantity: qty("8"), ReferenceType: "TRANSFER", ReferenceID: "trf-1"})
	require.NoError(t, err)

	created, err := svc.ReceiveTransfer(ctx, ReceiveTransferInput{
		ProductID: 1, DestWarehouseID: 2, SourceID: "trf-1",
		Snapshots: []TransferSnapshot{{SourceLayerID: out.ConsumedLayers[0].LayerID, Quantity: qty("8"), UnitCost: out.ConsumedLayers[0].UnitCost}},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.NotNil(t, created[0].ParentLayerID)
	require.Equal(t, src.ID, *created[0].ParentLayerID)
	require.True(t, created[0].RemainingQty.Equal(qty("8")))

	onHand, err := svc.OnHand(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, onHand.Equal(qty("8")))
}

func TestRestoreFromSalesReturn(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	layer, err := svc.CreateLayer(ctx, CreateLayerInput{ProductID: 1, WarehouseID: 1, Quantity: qty("10"), UnitCost: qty("2.50"), SourceType: "PURCHASE", SourceID: "po-1"})
	require.NoError(t, err)

	_, err = svc.Consume(ctx, ConsumeInput{ProductID: 1, WarehouseID: 1, Quantity: qty("6"), ReferenceType: "SALE", ReferenceID: "sale-1"})
	require.NoError(t, err)
	require.True(t, repo.layer(t, layer.ID).RemainingQty.Equal(qty("4")))

	result, err := svc.RestoreFromSalesReturn(ctx, RestoreInput{
		OriginalSaleID: "sale-1", ProductID: 1, WarehouseID: 1, Quantity: qty("2"), ReferenceID: "ret-1",
	})
	require.NoError(t, err)
	require.True(t, result.TotalCost.Equal(qty("5.00")), "got %s", result.TotalCost)
	require.True(t, repo.layer(t, layer.ID).RemainingQty.Equal(qty("6")))
}

func TestRestoreExceedingDeliveredFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.CreateLayer(ctx, CreateLayerInput{ProductID: 1, WarehouseID: 1, Quantity: qty("10"), UnitCost: qty("2.00"), SourceType: "PURCHASE", SourceID: "po-1"})
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ConsumeInput{ProductID: 1, WarehouseID: 1, Quantity: qty("6"), ReferenceType: "SALE", ReferenceID: "sale-1"})
	require.NoError(t, err)

	_, err = svc.RestoreFromSalesReturn(ctx, RestoreInput{
		OriginalSaleID: "sale-1", ProductID: 1, WarehouseID: 1, Quantity: qty("7"), ReferenceID: "ret-1",
	})
	require.ErrorIs(t, err, ErrReturnExceedsDelivered)
}

func TestRestoreFallsBackWhenLayerMissing(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	missing := int64(999)
	repo.movements = append(repo.movements, Movement{
		ID: 1, ProductID: 1, WarehouseID: 1, Direction: DirectionOut,
		Quantity: qty("4"), UnitCost: qty("1.25"), TotalCost: qty("5.00"),
		ReferenceType: "SALE", ReferenceID: "sale-9", SourceCostLayerID: &missing,
	})

	result, err := svc.RestoreFromSalesReturn(ctx, RestoreInput{
		OriginalSaleID: "sale-9", ProductID: 1, WarehouseID: 1, Quantity: qty("4"), ReferenceID: "ret-9",
	})
	require.NoError(t, err)
	require.True(t, result.TotalCost.Equal(qty("5.00")))

	require.Len(t, repo.layers, 1)
	fallback := repo.layers[0]
	require.NotNil(t, fallback.ParentLayerID)
	require.Equal(t, missing, *fallback.ParentLayerID)
	require.True(t, fallback.RemainingQty.Equal(qty("4")))
}

func TestCreateLayerValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	_, err := svc.CreateLayer(ctx, CreateLayerInput{ProductID: 1, WarehouseID: 1, Quantity: qty("0"), UnitCost: qty("1.00"), SourceType: "PURCHASE", SourceID: "po"})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateLayer(ctx, CreateLayerInput{ProductID: 1, WarehouseID: 1, Quantity: qty("1"), UnitCost: qty("-0.01"), SourceType: "PURCHASE", SourceID: "po"})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}
