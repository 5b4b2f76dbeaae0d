package orders

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/events"
	"github.com/ariefcatur/farmgoods/internal/inventory"
	"github.com/ariefcatur/farmgoods/internal/metrics"
	"github.com/ariefcatur/farmgoods/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIdempotencyKeyLen = 128

var tracer = otel.Tracer("github.com/ariefcatur/farmgoods/internal/orders")

type Service struct {
	Store   Store
	Policy  pricing.Policy
	Events  events.Publisher
	Metrics *metrics.Metrics
	Log     *zap.Logger
	// Producer names this service in event envelopes.
	Producer string
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

func (s *Service) finish(span trace.Span, useCase string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
	s.Metrics.Observe(useCase, start, err)
}

// PlaceOrder validates the request, then reserves stock, prices every line and
// writes the order in one transaction. Either everything is committed or
// nothing is.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (_ *Placement, err error) {
	ctx, span := tracer.Start(ctx, "orders.PlaceOrder")
	defer func(start time.Time) { s.finish(span, "place_order", start, err) }(time.Now())

	items, err := validatePlacement(&in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("customer.id", in.CustomerID), attribute.Int("order.items", len(items)))

	if in.IdempotencyKey != "" {
		if o, err := s.Store.FindByIdempotencyKey(ctx, in.CustomerID, in.IdempotencyKey); err == nil {
			return &Placement{Order: o, Existed: true}, nil
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Transaction(err)
		}
	}

	now := s.now().UTC()
	o := &Order{
		ID:              uuid.NewString(),
		Number:          NewOrderNumber(now),
		CustomerID:      in.CustomerID,
		IdempotencyKey:  in.IdempotencyKey,
		DeliveryAddress: in.DeliveryAddress,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   PaymentUnpaid,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.Store.WithTx(ctx, func(tx Tx) error {
		total := decimal.Zero
		lines := make([]Line, 0, len(items))
		for _, it := range items {
			p, err := inventory.Reserve(ctx, tx, it.ProductID, it.Quantity)
			if err != nil {
				return err
			}
			charged := s.Policy.Price(p.UnitPrice, it.Quantity)
			sub := pricing.LineSubtotal(charged, it.Quantity)
			lines = append(lines, Line{
				ID:           uuid.NewString(),
				OrderID:      o.ID,
				ProductID:    p.ID,
				Quantity:     it.Quantity,
				ListPrice:    p.UnitPrice,
				ChargedPrice: charged,
				Subtotal:     sub,
			})
			total = total.Add(sub)
		}
		o.Lines = lines
		o.Subtotal = total
		o.NetAmount = total
		return tx.InsertOrder(ctx, o)
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// a concurrent request with the same key won the race
		existing, ferr := s.Store.FindByIdempotencyKey(ctx, in.CustomerID, in.IdempotencyKey)
		if ferr != nil {
			return nil, apperr.Transaction(ferr)
		}
		return &Placement{Order: existing, Existed: true}, nil
	}
	if err != nil {
		err = apperr.Transaction(err)
		s.log().Warn("place_order_failed",
			zap.String("customer_id", in.CustomerID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	s.log().Info("order_placed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("net_amount", o.NetAmount.StringFixed(2)))
	s.emit(ctx, events.TopicOrderPlaced, events.EventOrderPlaced, o.ID, s.orderPlacedPayload(o))
	return &Placement{Order: o}, nil
}

// validatePlacement rejects malformed requests before any transaction is
// opened and returns the items merged by product, in product id order.
func validatePlacement(in *PlaceOrderInput) ([]ItemInput, error) {
	if in.CustomerID == "" {
		return nil, apperr.Invalid("customer is required")
	}
	if len(in.Items) == 0 {
		return nil, apperr.Invalid("order must contain at least one item")
	}
	in.DeliveryAddress = strings.TrimSpace(in.DeliveryAddress)
	if in.DeliveryAddress == "" {
		return nil, apperr.Invalid("delivery address is required")
	}
	if !in.PaymentMethod.Valid() {
		return nil, apperr.Invalid("unsupported payment method %q", in.PaymentMethod)
	}
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return nil, apperr.Invalid("idempotency key must be at most %d characters", maxIdempotencyKeyLen)
	}

	merged := make(map[string]int, len(in.Items))
	for _, it := range in.Items {
		if _, err := uuid.Parse(it.ProductID); err != nil {
			return nil, apperr.Invalid("invalid product id %q", it.ProductID)
		}
		if it.Quantity <= 0 {
			return nil, apperr.Invalid("quantity for product %s must be greater than zero", it.ProductID)
		}
		merged[it.ProductID] += it.Quantity
	}
	out := make([]ItemInput, 0, len(merged))
	for id, qty := range merged {
		out = append(out, ItemInput{ProductID: id, Quantity: qty})
	}
	// fixed lock order across concurrent placements
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (_ *Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.GetOrder")
	defer func(start time.Time) { s.finish(span, "get_order", start, err) }(time.Now())

	if _, perr := uuid.Parse(id); perr != nil {
		return nil, apperr.NotFound("order")
	}
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, apperr.Transaction(err)
	}
	return o, nil
}

// UpdateOrder applies a whitelisted patch. The address may only change while
// the order is pending; status changes follow CanTransition. A customer-scoped
// update (CustomerID set) may only cancel.
func (s *Service) UpdateOrder(ctx context.Context, in UpdateInput) (_ *Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.UpdateOrder")
	defer func(start time.Time) { s.finish(span, "update_order", start, err) }(time.Now())

	p := in.Patch
	if p.Status == nil && p.DeliveryAddress == nil {
		return nil, apperr.Invalid("nothing to update")
	}
	if p.Status != nil && !p.Status.Valid() {
		return nil, apperr.Invalid("unknown status %q", *p.Status)
	}
	if in.CustomerID != "" && p.Status != nil && *p.Status != StatusCancelled {
		return nil, apperr.Invalid("customers can only cancel an order")
	}
	if p.DeliveryAddress != nil && strings.TrimSpace(*p.DeliveryAddress) == "" {
		return nil, apperr.Invalid("delivery address must not be empty")
	}
	if _, perr := uuid.Parse(in.OrderID); perr != nil {
		return nil, apperr.NotFound("order")
	}

	var from Status
	err = s.Store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if in.CustomerID != "" && o.CustomerID != in.CustomerID {
			return apperr.NotFound("order")
		}
		from = o.Status
		status, address := o.Status, o.DeliveryAddress
		if p.DeliveryAddress != nil {
			if o.Status != StatusPending {
				return apperr.Invalid("delivery address can only change while the order is pending")
			}
			address = strings.TrimSpace(*p.DeliveryAddress)
		}
		if p.Status != nil && *p.Status != o.Status {
			if !CanTransition(o.Status, *p.Status) {
				return apperr.Invalid("cannot move order from %s to %s", o.Status, *p.Status)
			}
			status = *p.Status
		}
		return tx.UpdateOrder(ctx, o.ID, status, address, s.now().UTC())
	})
	if err != nil {
		return nil, apperr.Transaction(err)
	}

	o, err := s.Store.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, apperr.Transaction(err)
	}
	if o.Status != from {
		s.log().Info("order_status_changed",
			zap.String("order_id", o.ID),
			zap.String("from", string(from)),
			zap.String("to", string(o.Status)))
		s.emit(ctx, events.TopicOrderStatusChanged, events.EventOrderStatusChanged, o.ID,
			events.OrderStatusChangedPayload{OrderID: o.ID, From: string(from), To: string(o.Status)})
	}
	return o, nil
}

// emit publishes after commit. A failed publish is logged and counted; the
// committed state stands.
func (s *Service) emit(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	env, err := events.New(eventType, s.Producer, orderID, payload)
	if err == nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			env.TraceID = sc.TraceID().String()
		}
		err = s.Events.Emit(ctx, topic, events.PartitionKey(orderID), env)
	}
	if err != nil {
		s.Metrics.PublishFailed(eventType)
		s.log().Warn("event_publish_failed",
			zap.String("event_type", eventType),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

// orderPlacedPayload reports the wholesale discount per unit and in total,
// measured against the undiscounted line amount.
func (s *Service) orderPlacedPayload(o *Order) events.OrderPlacedPayload {
	lines := make([]events.LinePayload, 0, len(o.Lines))
	discount := decimal.Zero
	for _, l := range o.Lines {
		unit := s.Policy.Discount(l.ListPrice, l.Quantity)
		discount = discount.Add(pricing.LineSubtotal(l.ListPrice, l.Quantity).Sub(l.Subtotal))
		lines = append(lines, events.LinePayload{
			ProductID:    l.ProductID,
			Quantity:     l.Quantity,
			ListPrice:    l.ListPrice.StringFixed(2),
			ChargedPrice: l.ChargedPrice.String(),
			UnitDiscount: unit.String(),
			Subtotal:     l.Subtotal.StringFixed(2),
		})
	}
	return events.OrderPlacedPayload{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		CustomerID:  o.CustomerID,
		Lines:       lines,
		Discount:    discount.StringFixed(2),
		NetAmount:   o.NetAmount.StringFixed(2),
	}
}
