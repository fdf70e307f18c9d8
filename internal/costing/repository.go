package costing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository persists cost layers and movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	LockLayersFIFO(ctx context.Context, productID, warehouseID int64) ([]CostLayer, error)
	GetLayerForUpdate(ctx context.Context, layerID int64) (CostLayer, error)
	InsertLayer(ctx context.Context, layer CostLayer) (CostLayer, error)
	SetLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error
	InsertMovement(ctx context.Context, movement Movement) (Movement, error)
	ListOutboundForReference(ctx context.Context, referenceID string, productID, warehouseID int64) ([]Movement, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("costing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const layerColumns = `id, product_id, warehouse_id, original_qty, remaining_qty, unit_cost, source_type, source_id, COALESCE(source_line_id, ''), parent_layer_id, created_at`

func scanLayer(row pgx.Row) (CostLayer, error) {
	var l CostLayer
	err := row.Scan(&l.ID, &l.ProductID, &l.WarehouseID, &l.OriginalQty, &l.RemainingQty, &l.UnitCost,
		&l.SourceType, &l.SourceID, &l.SourceLineID, &l.ParentLayerID, &l.CreatedAt)
	return l, err
}

// ListMovements returns movement ledger rows for reporting, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("costing repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, warehouse_id, direction, qty, unit_cost, total_cost, reference_type, reference_id, COALESCE(reference_line_id, ''), source_cost_layer_id, posted_at, COALESCE(created_by, 0), created_at
FROM inventory_movements
WHERE product_id=$1 AND warehouse_id=$2 AND posted_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY posted_at ASC, id ASC
LIMIT $5`, filter.ProductID, filter.WarehouseID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

// OnHand sums remaining layer quantity for one product/warehouse.
func (r *Repository) OnHand(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(remaining_qty), 0) FROM inventory_cost_layers
WHERE product_id=$1 AND warehouse_id=$2`, productID, warehouseID).Scan(&qty)
	return qty, err
}

// LockLayersFIFO loads open layers in consumption order under row locks.
// Creation-time then id ordering matches the lock acquisition order every
// consumer uses, so concurrent consumers cannot deadlock.
func (r *txRepository) LockLayersFIFO(ctx context.Context, productID, warehouseID int64) ([]CostLayer, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+layerColumns+` FROM inventory_cost_layers
WHERE product_id=$1 AND warehouse_id=$2 AND remaining_qty > 0
ORDER BY created_at ASC, id ASC
FOR UPDATE`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []CostLayer
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (r *txRepository) GetLayerForUpdate(ctx context.Context, layerID int64) (CostLayer, error) {
	layer, err := scanLayer(r.tx.QueryRow(ctx, `SELECT `+layerColumns+` FROM inventory_cost_layers WHERE id=$1 FOR UPDATE`, layerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CostLayer{}, ErrLayerNotFound
		}
		return CostLayer{}, err
	}
	return layer, nil
}

func (r *txRepository) InsertLayer(ctx context.Context, layer CostLayer) (CostLayer, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_cost_layers (product_id, warehouse_id, original_qty, remaining_qty, unit_cost, source_type, source_id, source_line_id, parent_layer_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`,
		layer.ProductID, layer.WarehouseID, layer.OriginalQty, layer.RemainingQty, layer.UnitCost,
		layer.SourceType, layer.SourceID, nullString(layer.SourceLineID), layer.ParentLayerID).
		Scan(&layer.ID, &layer.CreatedAt)
	if err != nil {
		return CostLayer{}, err
	}
	return layer, nil
}

func (r *txRepository) SetLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE inventory_cost_layers SET remaining_qty=$2 WHERE id=$1`, layerID, remaining)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLayerNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (product_id, warehouse_id, direction, qty, unit_cost, total_cost, reference_type, reference_id, reference_line_id, source_cost_layer_id, posted_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id, created_at`,
		movement.ProductID, movement.WarehouseID, string(movement.Direction), movement.Quantity, movement.UnitCost,
		movement.TotalCost, movement.ReferenceType, movement.ReferenceID, nullString(movement.ReferenceLineID),
		movement.SourceCostLayerID, movement.PostedAt, nullInt(movement.CreatedBy)).
		Scan(&movement.ID, &movement.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	return movement, nil
}

func (r *txRepository) ListOutboundForReference(ctx context.Context, referenceID string, productID, warehouseID int64) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, warehouse_id, direction, qty, unit_cost, total_cost, reference_type, reference_id, COALESCE(reference_line_id, ''), source_cost_layer_id, posted_at, COALESCE(created_by, 0), created_at
FROM inventory_movements
WHERE reference_id=$1 AND product_id=$2 AND warehouse_id=$3 AND direction='OUT'
ORDER BY posted_at ASC, id ASC`, referenceID, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.WarehouseID, &m.Direction, &m.Quantity, &m.UnitCost, &m.TotalCost,
			&m.ReferenceType, &m.ReferenceID, &m.ReferenceLineID, &m.SourceCostLayerID, &m.PostedAt, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// Helpers
func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
