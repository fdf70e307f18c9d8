package costing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Direction enumerates stock movement directions.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// CostLayer is a batch of inventory received at a specific unit cost and
// consumed oldest-first. Unit costs carry four decimals internally so FIFO
// does not drift across many small consumptions.
type CostLayer struct {
	ID            int64
	ProductID     int64
	WarehouseID   int64
	OriginalQty   decimal.Decimal
	RemainingQty  decimal.Decimal
	UnitCost      decimal.Decimal
	SourceType    string
	SourceID      string
	SourceLineID  string
	ParentLayerID *int64
	CreatedAt     time.Time
}

// Movement is the append-only audit ledger of every stock quantity change
// with its cost basis.
type Movement struct {
	ID                int64
	ProductID         int64
	WarehouseID       int64
	Direction         Direction
	Quantity          decimal.Decimal
	UnitCost          decimal.Decimal
	TotalCost         decimal.Decimal
	ReferenceType     string
	ReferenceID       string
	ReferenceLineID   string
	SourceCostLayerID *int64
	PostedAt          time.Time
	CreatedBy         int64
	CreatedAt         time.Time
}

// CreateLayerInput describes a purchase/receipt that opens a new layer.
type CreateLayerInput struct {
	ProductID    int64
	WarehouseID  int64
	Quantity     decimal.Decimal
	UnitCost     decimal.Decimal
	SourceType   string
	SourceID     string
	SourceLineID string
	MovementDate time.Time
	ActorID      int64
}

// ConsumeInput describes a FIFO consumption request.
type ConsumeInput struct {
	ProductID       int64
	WarehouseID     int64
	Quantity        decimal.Decimal
	ReferenceType   string
	ReferenceID     string
	ReferenceLineID string
	MovementDate    time.Time
	ActorID         int64
}

// ConsumedLayer records how much was taken from one layer, the provenance
// later used by return restoration.
type ConsumedLayer struct {
	LayerID  int64
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
}

// ConsumeResult carries the computed cost of goods sold.
type ConsumeResult struct {
	TotalCost      decimal.Decimal
	ConsumedLayers []ConsumedLayer
}

// TransferSnapshot captures a layer slice exported from the source warehouse.
type TransferSnapshot struct {
	SourceLayerID int64
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
}

// ReceiveTransferInput creates destination layers preserving provenance back
// to the exporting layers.
type ReceiveTransferInput struct {
	ProductID       int64
	DestWarehouseID int64
	SourceID        string
	Snapshots       []TransferSnapshot
	MovementDate    time.Time
	ActorID         int64
}

// RestoreInput describes a sales-return restoration request.
type RestoreInput struct {
	OriginalSaleID  string
	ProductID       int64
	WarehouseID     int64
	Quantity        decimal.Decimal
	ReferenceID     string
	ReferenceLineID string
	MovementDate    time.Time
	ActorID         int64
}

// RestoreResult carries the recovered inventory cost.
type RestoreResult struct {
	TotalCost decimal.Decimal
}

// MovementFilter filters the movement ledger for reporting.
type MovementFilter struct {
	ProductID   int64
	WarehouseID int64
	From        time.Time
	To          time.Time
	Limit       int
}

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("costing: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("costing: unit cost must be >= 0")
	// ErrInsufficientStock indicates demand exceeds remaining layer quantity.
	ErrInsufficientStock = errors.New("costing: insufficient stock")
	// ErrReturnExceedsDelivered indicates a return larger than recorded deliveries.
	ErrReturnExceedsDelivered = errors.New("costing: return exceeds delivered quantity")
	// ErrLayerNotFound indicates a missing cost layer row.
	ErrLayerNotFound = errors.New("costing: cost layer not found")
)
