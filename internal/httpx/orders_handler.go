package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/auth"
	"github.com/ariefcatur/farmgoods/internal/logging"
	"github.com/ariefcatur/farmgoods/internal/orders"
	"github.com/ariefcatur/farmgoods/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type OrdersHandler struct {
	Service *orders.Service
	// Redis is optional; nil disables the read cache and the idempotency fast path.
	Redis *redis.Client

	sf singleflight.Group
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}", h.updateOrder)
	r.Post("/payments", h.settle)
}

type itemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type placeOrderReq struct {
	Items           []itemReq `json:"items"`
	DeliveryAddress string    `json:"deliveryAddress"`
	PaymentMethod   string    `json:"paymentMethod"`
}

type placeOrderResp struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	NetAmount   string `json:"netAmount"`
	Idempotent  bool   `json:"idempotent"`
}

type lineView struct {
	ProductID    string `json:"productId"`
	Quantity     int    `json:"quantity"`
	ListPrice    string `json:"listPrice"`
	ChargedPrice string `json:"chargedPrice"`
	Subtotal     string `json:"subtotal"`
}

type orderView struct {
	ID              string     `json:"id"`
	OrderNumber     string     `json:"orderNumber"`
	CustomerID      string     `json:"customerId"`
	DeliveryAddress string     `json:"deliveryAddress"`
	PaymentMethod   string     `json:"paymentMethod"`
	Subtotal        string     `json:"subtotal"`
	NetAmount       string     `json:"netAmount"`
	PaymentStatus   string     `json:"paymentStatus"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	Items           []lineView `json:"items"`
}

func toView(o *orders.Order) orderView {
	v := orderView{
		ID:              o.ID,
		OrderNumber:     o.Number,
		CustomerID:      o.CustomerID,
		DeliveryAddress: o.DeliveryAddress,
		PaymentMethod:   string(o.PaymentMethod),
		Subtotal:        o.Subtotal.StringFixed(2),
		NetAmount:       o.NetAmount.StringFixed(2),
		PaymentStatus:   string(o.PaymentStatus),
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           make([]lineView, 0, len(o.Lines)),
	}
	for _, l := range o.Lines {
		v.Items = append(v.Items, lineView{
			ProductID:    l.ProductID,
			Quantity:     l.Quantity,
			ListPrice:    l.ListPrice.StringFixed(2),
			ChargedPrice: l.ChargedPrice.StringFixed(4),
			Subtotal:     l.Subtotal.StringFixed(2),
		})
	}
	return v
}

// ownerScope limits customers to their own orders; other roles are not scoped
// here.
func ownerScope(id auth.Identity) string {
	if id.Role == auth.RoleCustomer {
		return id.UserID
	}
	return ""
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	var req placeOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast path: the database unique index stays the source of truth.
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.Redis != nil {
		if orderID, err := h.Redis.Get(ctx, redisx.IdemOrderCreate(id.UserID, key)).Result(); err == nil {
			if o, err := h.Service.GetOrder(ctx, orderID); err == nil && o.CustomerID == id.UserID {
				writeJSON(w, http.StatusOK, placeOrderResp{OrderID: o.ID, OrderNumber: o.Number, NetAmount: o.NetAmount.StringFixed(2), Idempotent: true})
				return
			}
		}
	}

	items := make([]orders.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	pl, err := h.Service.PlaceOrder(ctx, orders.PlaceOrderInput{
		CustomerID:      id.UserID,
		Items:           items,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   orders.PaymentMethod(req.PaymentMethod),
		IdempotencyKey:  key,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if key != "" && h.Redis != nil {
		_ = h.Redis.Set(ctx, redisx.IdemOrderCreate(id.UserID, key), pl.Order.ID, redisx.TTLIdempotency).Err()
	}

	code := http.StatusCreated
	if pl.Existed {
		code = http.StatusOK
	}
	writeJSON(w, code, placeOrderResp{
		OrderID:     pl.Order.ID,
		OrderNumber: pl.Order.Number,
		NetAmount:   pl.Order.NetAmount.StringFixed(2),
		Idempotent:  pl.Existed,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.loadView(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if scope := ownerScope(id); scope != "" && v.CustomerID != scope {
		writeError(w, r, apperr.NotFound("order"))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// loadView is cache-aside over Redis; concurrent misses for one order share a
// single database read.
func (h *OrdersHandler) loadView(ctx context.Context, orderID string) (orderView, error) {
	key := redisx.Order(orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil {
			var v orderView
			if json.Unmarshal([]byte(s), &v) == nil {
				return v, nil
			}
		}
	}

	res, err, _ := h.sf.Do(orderID, func() (any, error) {
		o, err := h.Service.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		v := toView(o)
		if h.Redis != nil {
			if b, err := json.Marshal(v); err == nil {
				_ = h.Redis.Set(ctx, key, b, redisx.TTLOrderCache).Err()
			}
		}
		return v, nil
	})
	if err != nil {
		return orderView{}, err
	}
	return res.(orderView), nil
}

func (h *OrdersHandler) invalidate(ctx context.Context, orderID string) {
	if h.Redis == nil {
		return
	}
	if err := h.Redis.Del(ctx, redisx.Order(orderID)).Err(); err != nil {
		logging.FromContext(ctx).Warn("order_cache_invalidate_failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

type updateOrderReq struct {
	Status          *string `json:"status"`
	DeliveryAddress *string `json:"deliveryAddress"`
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	var req updateOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch := orders.Patch{DeliveryAddress: req.DeliveryAddress}
	if req.Status != nil {
		s := orders.Status(*req.Status)
		patch.Status = &s
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	o, err := h.Service.UpdateOrder(ctx, orders.UpdateInput{OrderID: orderID, CustomerID: ownerScope(id), Patch: patch})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.invalidate(ctx, orderID)
	writeJSON(w, http.StatusOK, toView(o))
}

type settleReq struct {
	OrderID       string `json:"orderId"`
	PaymentMethod string `json:"paymentMethod"`
}

type settleResp struct {
	TransactionID string `json:"transactionId"`
	OrderID       string `json:"orderId"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	Method        string `json:"method"`
}

func (h *OrdersHandler) settle(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	var req settleReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s, err := h.Service.Settle(ctx, orders.SettleInput{
		OrderID:       req.OrderID,
		CustomerID:    ownerScope(id),
		PaymentMethod: orders.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.invalidate(ctx, req.OrderID)
	writeJSON(w, http.StatusOK, settleResp{
		TransactionID: s.Payment.TransactionID,
		OrderID:       s.Order.ID,
		Amount:        s.Payment.Amount.StringFixed(2),
		Status:        string(s.Payment.Status),
		Method:        string(s.Payment.Method),
	})
}
