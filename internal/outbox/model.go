package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the event lifecycle. Events are never deleted; failed
// rows loop back to reservable once their next attempt time elapses.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
)

// EventType identifies a domain event kind. The set is closed: every type
// listed here has a posting handler, checked at registry construction.
type EventType string

const (
	EventSaleInvoiced       EventType = "sale.invoiced"
	EventSaleDelivered      EventType = "sale.delivered"
	EventPaymentReceived    EventType = "payment.received"
	EventPurchaseBilled     EventType = "purchase.billed"
	EventSalesReturnCreated EventType = "sales_return.created"
)

// KnownEventTypes lists every event kind the dispatcher understands.
func KnownEventTypes() []EventType {
	return []EventType{
		EventSaleInvoiced,
		EventSaleDelivered,
		EventPaymentReceived,
		EventPurchaseBilled,
		EventSalesReturnCreated,
	}
}

// Event is a durable queue row with retry metadata.
type Event struct {
	ID             int64
	EventType      EventType
	Payload        json.RawMessage
	IdempotencyKey string
	SourceType     string
	SourceID       string
	Status         Status
	Attempts       int
	LastError      string
	NextAttemptAt  *time.Time
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EnqueueInput groups fields for creating an event, usually inside the
// emitting operation's transaction.
type EnqueueInput struct {
	EventType      EventType
	Payload        any
	IdempotencyKey string
	SourceType     string
	SourceID       string
}

// SaleInvoicedPayload carries invoice totals already rounded by the caller.
type SaleInvoicedPayload struct {
	SaleID     string          `json:"saleId"`
	EntryDate  time.Time       `json:"entryDate"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TaxTotal   decimal.Decimal `json:"taxTotal"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	CustomerID *int64          `json:"customerId,omitempty"`
	BranchID   *int64          `json:"branchId,omitempty"`
	PostedBy   int64           `json:"postedBy,omitempty"`
}

// SaleDeliveredPayload carries the COGS total computed by the delivering
// operation's FIFO consumption.
type SaleDeliveredPayload struct {
	SaleID     string          `json:"saleId"`
	DeliveryID string          `json:"deliveryId"`
	EntryDate  time.Time       `json:"entryDate"`
	COGSTotal  decimal.Decimal `json:"cogsTotal"`
	BranchID   *int64          `json:"branchId,omitempty"`
	PostedBy   int64           `json:"postedBy,omitempty"`
}

// PaymentReceivedPayload settles accounts receivable against cash.
type PaymentReceivedPayload struct {
	PaymentID  string          `json:"paymentId"`
	SaleID     string          `json:"saleId,omitempty"`
	EntryDate  time.Time       `json:"entryDate"`
	Amount     decimal.Decimal `json:"amount"`
	CustomerID *int64          `json:"customerId,omitempty"`
	BranchID   *int64          `json:"branchId,omitempty"`
	PostedBy   int64           `json:"postedBy,omitempty"`
}

// PurchaseBilledPayload records inventory and input tax against payables.
type PurchaseBilledPayload struct {
	PurchaseID string          `json:"purchaseId"`
	EntryDate  time.Time       `json:"entryDate"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TaxTotal   decimal.Decimal `json:"taxTotal"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	SupplierID *int64          `json:"supplierId,omitempty"`
	BranchID   *int64          `json:"branchId,omitempty"`
	PostedBy   int64           `json:"postedBy,omitempty"`
}

// SalesReturnCreatedPayload unwinds revenue and restores inventory cost in a
// single balanced entry.
type SalesReturnCreatedPayload struct {
	ReturnID   string          `json:"returnId"`
	SaleID     string          `json:"saleId"`
	EntryDate  time.Time       `json:"entryDate"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TaxTotal   decimal.Decimal `json:"taxTotal"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	COGSTotal  decimal.Decimal `json:"cogsTotal"`
	CustomerID *int64          `json:"customerId,omitempty"`
	BranchID   *int64          `json:"branchId,omitempty"`
	PostedBy   int64           `json:"postedBy,omitempty"`
}

var (
	// ErrEventNotFound indicates a missing outbox row.
	ErrEventNotFound = errors.New("outbox: event not found")
	// ErrNotReserved indicates the row left PROCESSING before the worker
	// got to it, usually after a reclaim sweep.
	ErrNotReserved = errors.New("outbox: event no longer reserved")
	// ErrUnknownEventType indicates a payload kind without a handler.
	ErrUnknownEventType = errors.New("outbox: unknown event type")
)

func decodePayload[T any](ev Event) (T, error) {
	var payload T
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
