package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockWebhookSignature is the only signature MockProvider.ParseWebhook
// accepts by default.
const MockWebhookSignature = "mock_valid_signature"

// MockProvider is a mock billing provider for testing.
// Simulates the invoice lifecycle without calling Stripe API.
type MockProvider struct {
	// CreateInvoiceFunc allows customizing invoice creation behavior
	CreateInvoiceFunc func(ctx context.Context, params CreateInvoiceParams) (*Invoice, error)

	// AddInvoiceItemFunc allows customizing line creation behavior
	AddInvoiceItemFunc func(ctx context.Context, params InvoiceItemParams) (*InvoiceItem, error)

	// FinalizeInvoiceFunc allows customizing finalize behavior
	FinalizeInvoiceFunc func(ctx context.Context, invoiceID string) (*Invoice, error)

	// CreateTransferFunc allows customizing transfer behavior
	CreateTransferFunc func(ctx context.Context, params TransferParams) (*Transfer, error)

	// RefundPaymentFunc allows customizing refund behavior
	RefundPaymentFunc func(ctx context.Context, params RefundParams) (*Refund, error)

	// ParseWebhookFunc allows customizing webhook verification behavior
	ParseWebhookFunc func(payload []byte, signature string) (*WebhookEvent, error)

	// Invoices stores created invoices for retrieval
	Invoices map[string]*Invoice

	// Lines stores invoice lines keyed by invoice id
	Lines map[string][]InvoiceItem

	// Customers stores created customers for retrieval
	Customers map[string]*Customer

	Transfers []TransferParams
	Refunds   []RefundParams

	// CallLog tracks method calls for test assertions
	CallLog []string

	mu sync.Mutex
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Invoices:  make(map[string]*Invoice),
		Lines:     make(map[string][]InvoiceItem),
		Customers: make(map[string]*Customer),
		CallLog:   []string{},
	}
}

func (m *MockProvider) log(format string, args ...interface{}) {
	m.CallLog = append(m.CallLog, fmt.Sprintf(format, args...))
}

// Calls returns how many logged calls start with prefix.
func (m *MockProvider) Calls(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.CallLog {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// InvoiceTotal sums the lines of an invoice.
func (m *MockProvider) InvoiceTotal(invoiceID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, l := range m.Lines[invoiceID] {
		total += l.AmountCents
	}
	return total
}

// SetInvoiceStatus forces a gateway status, e.g. to simulate a voided invoice.
func (m *MockProvider) SetInvoiceStatus(invoiceID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.Invoices[invoiceID]; ok {
		inv.Status = status
	}
}

// CreateCustomer creates a mock customer.
func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("CreateCustomer(%s)", params.Email)

	c := &Customer{
		ID:        "cus_" + uuid.New().String(),
		Email:     params.Email,
		Name:      params.Name,
		CreatedAt: time.Now(),
	}
	m.Customers[c.ID] = c
	return c, nil
}

// GetCustomer retrieves a mock customer.
func (m *MockProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("GetCustomer(%s)", customerID)

	c, ok := m.Customers[customerID]
	if !ok {
		return nil, fmt.Errorf("customer %s not found", customerID)
	}
	return c, nil
}

// CreateInvoice creates a mock draft invoice.
func (m *MockProvider) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	if m.CreateInvoiceFunc != nil {
		m.mu.Lock()
		m.log("CreateInvoice(%s)", params.IdempotencyKey)
		m.mu.Unlock()
		return m.CreateInvoiceFunc(ctx, params)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("CreateInvoice(%s)", params.IdempotencyKey)

	if params.IdempotencyKey != "" {
		for _, inv := range m.Invoices {
			if inv.Metadata["idempotency_key"] == params.IdempotencyKey {
				cp := *inv
				return &cp, nil
			}
		}
	}

	meta := map[string]string{}
	for k, v := range params.Metadata {
		meta[k] = v
	}
	if params.IdempotencyKey != "" {
		meta["idempotency_key"] = params.IdempotencyKey
	}

	id := "in_" + uuid.New().String()
	inv := &Invoice{
		ID:         id,
		CustomerID: params.CustomerID,
		Status:     InvoiceStatusDraft,
		Currency:   params.Currency,
		Metadata:   meta,
		CreatedAt:  time.Now(),
	}
	m.Invoices[id] = inv
	cp := *inv
	return &cp, nil
}

// AddInvoiceItem appends a mock line.
func (m *MockProvider) AddInvoiceItem(ctx context.Context, params InvoiceItemParams) (*InvoiceItem, error) {
	if m.AddInvoiceItemFunc != nil {
		m.mu.Lock()
		m.log("AddInvoiceItem(%s, %d)", params.InvoiceID, params.AmountCents)
		m.mu.Unlock()
		return m.AddInvoiceItemFunc(ctx, params)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("AddInvoiceItem(%s, %d)", params.InvoiceID, params.AmountCents)

	inv, ok := m.Invoices[params.InvoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	if inv.Status != InvoiceStatusDraft {
		return nil, &StripeError{Message: "invoice is not a draft", Code: "invoice_not_editable"}
	}

	item := InvoiceItem{
		ID:          "ii_" + uuid.New().String(),
		InvoiceID:   params.InvoiceID,
		AmountCents: params.AmountCents,
		Description: params.Description,
	}
	m.Lines[params.InvoiceID] = append(m.Lines[params.InvoiceID], item)
	inv.AmountDueCents += params.AmountCents
	return &item, nil
}

// FinalizeInvoice moves a mock draft to open.
func (m *MockProvider) FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	if m.FinalizeInvoiceFunc != nil {
		m.mu.Lock()
		m.log("FinalizeInvoice(%s)", invoiceID)
		m.mu.Unlock()
		return m.FinalizeInvoiceFunc(ctx, invoiceID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("FinalizeInvoice(%s)", invoiceID)

	inv, ok := m.Invoices[invoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	if inv.Status == InvoiceStatusDraft {
		inv.Status = InvoiceStatusOpen
		inv.HostedURL = "https://invoice.stripe.test/" + invoiceID
	}
	cp := *inv
	return &cp, nil
}

// SendInvoice records the send.
func (m *MockProvider) SendInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("SendInvoice(%s)", invoiceID)

	inv, ok := m.Invoices[invoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

// GetInvoice retrieves a mock invoice.
func (m *MockProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("GetInvoice(%s)", invoiceID)

	inv, ok := m.Invoices[invoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

// VoidInvoice voids a mock invoice.
func (m *MockProvider) VoidInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("VoidInvoice(%s)", invoiceID)

	inv, ok := m.Invoices[invoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	if inv.Status != InvoiceStatusPaid {
		inv.Status = InvoiceStatusVoid
	}
	cp := *inv
	return &cp, nil
}

// CreateTransfer records a mock transfer.
func (m *MockProvider) CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error) {
	m.mu.Lock()
	m.log("CreateTransfer(%s, %d)", params.DestinationAccountID, params.AmountCents)
	m.mu.Unlock()

	if m.CreateTransferFunc != nil {
		return m.CreateTransferFunc(ctx, params)
	}
	if params.DestinationAccountID == "" {
		return nil, ErrMissingDestination
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transfers = append(m.Transfers, params)
	return &Transfer{
		ID:          "tr_" + uuid.New().String(),
		AmountCents: params.AmountCents,
		Currency:    params.Currency,
		Destination: params.DestinationAccountID,
		CreatedAt:   time.Now(),
	}, nil
}

// RefundPayment records a mock refund.
func (m *MockProvider) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	m.mu.Lock()
	m.log("RefundPayment(%s, %d)", params.PaymentIntentID, params.AmountCents)
	m.mu.Unlock()

	if m.RefundPaymentFunc != nil {
		return m.RefundPaymentFunc(ctx, params)
	}
	if params.PaymentIntentID == "" {
		return nil, ErrMissingPayment
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refunds = append(m.Refunds, params)
	return &Refund{
		ID:        "re_" + uuid.New().String(),
		PaymentID: params.PaymentIntentID,
		Amount:    params.AmountCents,
		Status:    "succeeded",
		CreatedAt: time.Now(),
	}, nil
}

// ParseWebhook accepts MockWebhookSignature and decodes the payload as a
// WebhookEvent.
func (m *MockProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	m.mu.Lock()
	m.log("ParseWebhook")
	m.mu.Unlock()

	if m.ParseWebhookFunc != nil {
		return m.ParseWebhookFunc(payload, signature)
	}
	if signature != MockWebhookSignature || len(payload) == 0 {
		return nil, ErrInvalidWebhookSignature
	}

	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode mock event: %w", err)
	}
	return &ev, nil
}

// Compile-time interface check
var _ Provider = (*MockProvider)(nil)
