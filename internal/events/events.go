package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventPaymentSettled     = "PaymentSettled"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOTPIssued          = "OTPIssued"
)

const Version = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// New builds a v1 envelope. Payload types are plain structs, so marshalling
// only fails on programmer error.
func New(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  Version,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Publisher hands an envelope to the transport. Implementations must not block
// on the broker.
type Publisher interface {
	Emit(ctx context.Context, topic string, key []byte, env Envelope) error
}

type discard struct{}

func (discard) Emit(context.Context, string, []byte, Envelope) error { return nil }

// Discard drops every event; used when no broker is configured.
var Discard Publisher = discard{}

// ---- payloads ----

type LinePayload struct {
	ProductID    string `json:"product_id"`
	Quantity     int    `json:"quantity"`
	ListPrice    string `json:"list_price"`
	ChargedPrice string `json:"charged_price"`
	UnitDiscount string `json:"unit_discount"`
	Subtotal     string `json:"subtotal"`
}

type OrderPlacedPayload struct {
	OrderID     string        `json:"order_id"`
	OrderNumber string        `json:"order_number"`
	CustomerID  string        `json:"customer_id"`
	Lines       []LinePayload `json:"lines"`
	Discount    string        `json:"discount"`
	NetAmount   string        `json:"net_amount"`
}

type PaymentSettledPayload struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Method        string `json:"method"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type OTPIssuedPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Code  string `json:"code"`
}
