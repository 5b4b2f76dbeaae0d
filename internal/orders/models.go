package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

type PaymentMethod string

const (
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	MethodBankTransfer   PaymentMethod = "bank_transfer"
	MethodCard           PaymentMethod = "card"
	MethodEWallet        PaymentMethod = "e_wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCashOnDelivery, MethodBankTransfer, MethodCard, MethodEWallet:
		return true
	}
	return false
}

type Order struct {
	ID              string
	Number          string
	CustomerID      string
	IdempotencyKey  string
	DeliveryAddress string
	PaymentMethod   PaymentMethod
	Subtotal        decimal.Decimal
	NetAmount       decimal.Decimal
	PaymentStatus   PaymentStatus
	Status          Status // see status.go
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []Line
}

// Line freezes the price that was charged at placement time. Later catalogue
// price changes never touch it.
type Line struct {
	ID           string
	OrderID      string
	ProductID    string
	Quantity     int
	ListPrice    decimal.Decimal
	ChargedPrice decimal.Decimal
	Subtotal     decimal.Decimal
}

type Payment struct {
	ID            string
	OrderID       string
	TransactionID string
	Amount        decimal.Decimal
	Status        PaymentStatus
	Method        PaymentMethod
	CreatedAt     time.Time
}

type ItemInput struct {
	ProductID string
	Quantity  int
}

type PlaceOrderInput struct {
	CustomerID      string
	Items           []ItemInput
	DeliveryAddress string
	PaymentMethod   PaymentMethod
	IdempotencyKey  string
}

// Placement is the result of PlaceOrder. Existed is set when the idempotency
// key matched an order placed earlier.
type Placement struct {
	Order   *Order
	Existed bool
}

type SettleInput struct {
	OrderID       string
	CustomerID    string // when set, the order must belong to this customer
	PaymentMethod PaymentMethod
}

type Settlement struct {
	Payment Payment
	Order   *Order
}

// Patch lists the only order fields that may change after placement.
type Patch struct {
	Status          *Status
	DeliveryAddress *string
}

type UpdateInput struct {
	OrderID    string
	CustomerID string // when set, the order must belong to this customer
	Patch      Patch
}
