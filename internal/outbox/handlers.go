package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-pos/meridian-pos/internal/ledger/accounts"
	"github.com/meridian-pos/meridian-pos/internal/ledger/journals"
)

// JournalPoster abstracts the ledger for posting handlers.
type JournalPoster interface {
	Post(ctx context.Context, input journals.PostingInput) (journals.JournalEntry, error)
}

// HandlerFunc processes one reserved event.
type HandlerFunc func(ctx context.Context, ev Event) error

// Registry maps event types to handlers.
type Registry map[EventType]HandlerFunc

// Handlers translate domain payloads into balanced journal postings. Each
// handler derives its idempotency key from the event's source identifiers,
// so redelivery after a crash or manual retry never double-posts.
type Handlers struct {
	journal JournalPoster
	chart   *accounts.Chart
}

// NewHandlers builds Handlers.
func NewHandlers(journal JournalPoster, chart *accounts.Chart) *Handlers {
	return &Handlers{journal: journal, chart: chart}
}

// NewRegistry wires every known event type to its handler. The switch is
// exhaustive over KnownEventTypes; a type without a handler fails
// construction instead of surfacing later as a runtime miss.
func NewRegistry(h *Handlers) (Registry, error) {
	registry := make(Registry, len(KnownEventTypes()))
	for _, eventType := range KnownEventTypes() {
		var fn HandlerFunc
		switch eventType {
		case EventSaleInvoiced:
			fn = h.handleSaleInvoiced
		case EventSaleDelivered:
			fn = h.handleSaleDelivered
		case EventPaymentReceived:
			fn = h.handlePaymentReceived
		case EventPurchaseBilled:
			fn = h.handlePurchaseBilled
		case EventSalesReturnCreated:
			fn = h.handleSalesReturnCreated
		}
		if fn == nil {
			return nil, fmt.Errorf("%w: no handler for %s", ErrUnknownEventType, eventType)
		}
		registry[eventType] = fn
	}
	return registry, nil
}

func (h *Handlers) handleSaleInvoiced(ctx context.Context, ev Event) error {
	payload, err := decodePayload[SaleInvoicedPayload](ev)
	if err != nil {
		return err
	}
	if payload.SaleID == "" {
		return errors.New("outbox: sale id required")
	}
	ar, err := h.chart.Account(accounts.CodeAR)
	if err != nil {
		return err
	}
	sales, err := h.chart.Account(accounts.CodeSales)
	if err != nil {
		return err
	}
	lines := []journals.PostingLineInput{
		{AccountID: ar.ID, PartyID: payload.CustomerID, BranchID: payload.BranchID, Debit: payload.GrandTotal, Memo: "Sales invoice " + payload.SaleID},
		{AccountID: sales.ID, BranchID: payload.BranchID, Credit: payload.Subtotal, Memo: "Sales revenue"},
	}
	if payload.TaxTotal.IsPositive() {
		outputTax, err := h.chart.Account(accounts.CodeOutputTax)
		if err != nil {
			return err
		}
		lines = append(lines, journals.PostingLineInput{
			AccountID: outputTax.ID, BranchID: payload.BranchID, Credit: payload.TaxTotal, Memo: "Output tax",
		})
	}
	_, err = h.journal.Post(ctx, journals.PostingInput{
		EntryDate:      payload.EntryDate,
		SourceType:     "sales.invoice",
		SourceID:       payload.SaleID,
		IdempotencyKey: fmt.Sprintf("sales:invoice:%s", payload.SaleID),
		PostedBy:       payload.PostedBy,
		Lines:          lines,
	})
	return err
}

func (h *Handlers) handleSaleDelivered(ctx context.Context, ev Event) error {
	payload, err := decodePayload[SaleDeliveredPayload](ev)
	if err != nil {
		return err
	}
	if payload.DeliveryID == "" {
		return errors.New("outbox: delivery id required")
	}
	if !payload.COGSTotal.IsPositive() {
		return fmt.Errorf("outbox: delivery %s has non-positive cogs", payload.DeliveryID)
	}
	cogs, err := h.chart.Account(accounts.CodeCOGS)
	if err != nil {
		return err
	}
	inventory, err := h.chart.Account(accounts.CodeInventory)
	if err != nil {
		return err
	}
	_, err = h.journal.Post(ctx, journals.PostingInput{
		EntryDate:      payload.EntryDate,
		SourceType:     "sales.delivery",
		SourceID:       payload.DeliveryID,
		IdempotencyKey: fmt.Sprintf("sales:delivery:%s", payload.DeliveryID),
		PostedBy:       payload.PostedBy,
		Lines: []journals.PostingLineInput{
			{AccountID: cogs.ID, BranchID: payload.BranchID, Debit: payload.COGSTotal, Memo: "COGS for sale " + payload.SaleID},
			{AccountID: inventory.ID, BranchID: payload.BranchID, Credit: payload.COGSTotal, Memo: "Inventory out"},
		},
	})
	return err
}

func (h *Handlers) handlePaymentReceived(ctx context.Context, ev Event) error {
	payload, err := decodePayload[PaymentReceivedPayload](ev)
	if err != nil {
		return err
	}
	if payload.PaymentID == "" {
		return errors.New("outbox: payment id required")
	}
	cash, err := h.chart.Account(accounts.CodeCash)
	if err != nil {
		return err
	}
	ar, err := h.chart.Account(accounts.CodeAR)
	if err != nil {
		return err
	}
	_, err = h.journal.Post(ctx, journals.PostingInput{
		EntryDate:      payload.EntryDate,
		SourceType:     "payments.receipt",
		SourceID:       payload.PaymentID,
		IdempotencyKey: fmt.Sprintf("payments:receipt:%s", payload.PaymentID),
		PostedBy:       payload.PostedBy,
		Lines: []journals.PostingLineInput{
			{AccountID: cash.ID, BranchID: payload.BranchID, Debit: payload.Amount, Memo: "Payment " + payload.PaymentID},
			{AccountID: ar.ID, PartyID: payload.CustomerID, BranchID: payload.BranchID, Credit: payload.Amount, Memo: "AR settlement"},
		},
	})
	return err
}

func (h *Handlers) handlePurchaseBilled(ctx context.Context, ev Event) error {
	payload, err := decodePayload[PurchaseBilledPayload](ev)
	if err != nil {
		return err
	}
	if payload.PurchaseID == "" {
		return errors.New("outbox: purchase id required")
	}
	inventory, err := h.chart.Account(accounts.CodeInventory)
	if err != nil {
		return err
	}
	ap, err := h.chart.Account(accounts.CodeAP)
	if err != nil {
		return err
	}
	lines := []journals.PostingLineInput{
		{AccountID: inventory.ID, BranchID: payload.BranchID, Debit: payload.Subtotal, Memo: "Purchase " + payload.PurchaseID},
	}
	if payload.TaxTotal.IsPositive() {
		inputTax, err := h.chart.Account(accounts.CodeInputTax)
		if err != nil {
			return err
		}
		lines = append(lines, journals.PostingLineInput{
			AccountID: inputTax.ID, BranchID: payload.BranchID, Debit: payload.TaxTotal, Memo: "Input tax",
		})
	}
	lines = append(lines, journals.PostingLineInput{
		AccountID: ap.ID, PartyID: payload.SupplierID, BranchID: payload.BranchID, Credit: payload.GrandTotal, Memo: "Accounts payable",
	})
	_, err = h.journal.Post(ctx, journals.PostingInput{
		EntryDate:      payload.EntryDate,
		SourceType:     "purchases.bill",
		SourceID:       payload.PurchaseID,
		IdempotencyKey: fmt.Sprintf("purchases:bill:%s", payload.PurchaseID),
		PostedBy:       payload.PostedBy,
		Lines:          lines,
	})
	return err
}

// handleSalesReturnCreated posts one balanced entry that both unwinds the
// invoice (sales and tax back, AR credited) and restores inventory at the
// COGS recovered by the return-restoration flow.
func (h *Handlers) handleSalesReturnCreated(ctx context.Context, ev Event) error {
	payload, err := decodePayload[SalesReturnCreatedPayload](ev)
	if err != nil {
		return err
	}
	if payload.ReturnID == "" {
		return errors.New("outbox: return id required")
	}
	sales, err := h.chart.Account(accounts.CodeSales)
	if err != nil {
		return err
	}
	ar, err := h.chart.Account(accounts.CodeAR)
	if err != nil {
		return err
	}
	lines := []journals.PostingLineInput{
		{AccountID: sales.ID, BranchID: payload.BranchID, Debit: payload.Subtotal, Memo: "Sales return " + payload.ReturnID},
	}
	if payload.TaxTotal.IsPositive() {
		outputTax, err := h.chart.Account(accounts.CodeOutputTax)
		if err != nil {
			return err
		}
		lines = append(lines, journals.PostingLineInput{
			AccountID: outputTax.ID, BranchID: payload.BranchID, Debit: payload.TaxTotal, Memo: "Output tax reversal",
		})
	}
	lines = append(lines, journals.PostingLineInput{
		AccountID: ar.ID, PartyID: payload.CustomerID, BranchID: payload.BranchID, Credit: payload.GrandTotal, Memo: "AR credit note",
	})
	if payload.COGSTotal.IsPositive() {
		inventory, err := h.chart.Account(accounts.CodeInventory)
		if err != nil {
			return err
		}
		cogs, err := h.chart.Account(accounts.CodeCOGS)
		if err != nil {
			return err
		}
		lines = append(lines,
			journals.PostingLineInput{AccountID: inventory.ID, BranchID: payload.BranchID, Debit: payload.COGSTotal, Memo: "Inventory restored"},
			journals.PostingLineInput{AccountID: cogs.ID, BranchID: payload.BranchID, Credit: payload.COGSTotal, Memo: "COGS reversal"},
		)
	}
	_, err = h.journal.Post(ctx, journals.PostingInput{
		EntryDate:      payload.EntryDate,
		SourceType:     "sales.return",
		SourceID:       payload.ReturnID,
		IdempotencyKey: fmt.Sprintf("sales:return:%s", payload.ReturnID),
		PostedBy:       payload.PostedBy,
		Lines:          lines,
	})
	return err
}
