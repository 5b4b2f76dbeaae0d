package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Settle records the payment for an unpaid order, marks it paid and empties
// the customer's cart, all in one transaction.
func (s *Service) Settle(ctx context.Context, in SettleInput) (_ *Settlement, err error) {
	ctx, span := tracer.Start(ctx, "orders.Settle")
	defer func(start time.Time) { s.finish(span, "settle_payment", start, err) }(time.Now())

	if in.OrderID == "" {
		return nil, apperr.Invalid("order id is required")
	}
	if in.PaymentMethod != "" && !in.PaymentMethod.Valid() {
		return nil, apperr.Invalid("unsupported payment method %q", in.PaymentMethod)
	}
	if _, perr := uuid.Parse(in.OrderID); perr != nil {
		return nil, apperr.NotFound("order")
	}
	span.SetAttributes(attribute.String("order.id", in.OrderID))

	var out Settlement
	err = s.Store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if in.CustomerID != "" && o.CustomerID != in.CustomerID {
			return apperr.NotFound("order")
		}
		if o.PaymentStatus == PaymentPaid {
			return apperr.ErrAlreadyPaid
		}
		if o.Status == StatusCancelled {
			return apperr.Invalid("order is cancelled")
		}

		method := in.PaymentMethod
		if method == "" {
			method = o.PaymentMethod
		}
		now := s.now().UTC()
		pay := Payment{
			ID:            uuid.NewString(),
			OrderID:       o.ID,
			TransactionID: NewTransactionID(),
			Amount:        o.NetAmount,
			Status:        PaymentPaid,
			Method:        method,
			CreatedAt:     now,
		}
		if err := tx.InsertPayment(ctx, pay); err != nil {
			return err
		}
		if err := tx.MarkPaid(ctx, o.ID, now); err != nil {
			return err
		}
		if err := tx.ClearCart(ctx, o.CustomerID); err != nil {
			return err
		}
		o.PaymentStatus = PaymentPaid
		o.UpdatedAt = now
		out = Settlement{Payment: pay, Order: o}
		return nil
	})
	if err != nil {
		err = apperr.Transaction(err)
		s.log().Warn("settle_payment_failed",
			zap.String("order_id", in.OrderID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	s.log().Info("payment_settled",
		zap.String("order_id", out.Order.ID),
		zap.String("transaction_id", out.Payment.TransactionID))
	s.emit(ctx, events.TopicPaymentSettled, events.EventPaymentSettled, out.Order.ID, events.PaymentSettledPayload{
		OrderID:       out.Order.ID,
		TransactionID: out.Payment.TransactionID,
		Amount:        out.Payment.Amount.StringFixed(2),
		Method:        string(out.Payment.Method),
	})
	return &out, nil
}
