package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/pricing"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerActorID        = "X-Actor-Id"
	headerIfMatch        = "If-Match"
	headerETag           = "ETag"
	idemPending          = "pending"

	readTimeout  = 3 * time.Second
	writeTimeout = 5 * time.Second
)

// OrdersHandler serves checkout and the order lifecycle. Redis is optional;
// without it checkout has no idempotency fast path or cross-instance lock and
// status reads always hit the repository.
//
// Approve and cancel need the caller's view of the order: expected_status in
// the body, an If-Match header carrying the version (the ETag of the order),
// or both.
type OrdersHandler struct {
	Repo    orders.Repository
	Factory *orders.Factory
	Machine *orders.StateMachine
	Carts   *cart.Service
	Pricing *pricing.Engine
	Redis   *redis.Client
}

type checkoutReq struct {
	Recipient       orders.Recipient `json:"recipient"`
	ShippingAddress orders.Address   `json:"shipping_address"`
	PaymentMethod   string           `json:"payment_method"`
	PromoCode       string           `json:"promo_code"`
}

type checkoutResp struct {
	Order      orders.Order `json:"order"`
	Idempotent bool         `json:"idempotent"`
}

type transitionReq struct {
	ExpectedStatus string `json:"expected_status"`
}

type cancelReq struct {
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status"`
}

type paymentReq struct {
	Reference string `json:"reference"`
}

type statusView struct {
	OrderID       string               `json:"order_id"`
	Status        orders.Status        `json:"status"`
	StatusLabel   string               `json:"status_label"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	Version       int64                `json:"version"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/carts/{customerID}/checkout", h.checkout)
	r.Get("/orders", h.list)
	r.Get("/orders/{orderID}", h.get)
	r.Get("/orders/{orderID}/status", h.status)
	r.Post("/orders/{orderID}/approve", h.approve)
	r.Post("/orders/{orderID}/cancel", h.cancel)
	r.Post("/orders/{orderID}/payment", h.payment)
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	cust := customerID(r)

	// Fast-path idempotency via Redis; the key holds the order id once created.
	var idemKey string
	if k := r.Header.Get(headerIdempotencyKey); k != "" && h.Redis != nil {
		idemKey = redisx.IdemCheckoutKey(cust, k)
		claimed, err := redisx.SetOnce(ctx, h.Redis, idemKey, idemPending, redisx.TTLIdempotency)
		switch {
		case err != nil:
			logging.FromContext(ctx).Warn("idempotency claim failed", zap.Error(err))
			idemKey = ""
		case !claimed:
			h.replayCheckout(ctx, w, r, idemKey)
			return
		}
	}

	o, err := h.placeOrder(ctx, cust, req)
	if err != nil {
		if idemKey != "" {
			_ = h.Redis.Del(ctx, idemKey).Err()
		}
		writeError(w, r, err)
		return
	}
	if idemKey != "" {
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheStatus(ctx, o)
	setETag(w, o)
	writeJSON(w, http.StatusCreated, checkoutResp{Order: o})
}

// placeOrder turns the customer's cart into one order. The cart stays locked
// from snapshot to line removal: in process through cart.Service.Consume and
// across instances through a Redis lock.
func (h *OrdersHandler) placeOrder(ctx context.Context, cust string, req checkoutReq) (orders.Order, error) {
	if h.Redis != nil {
		lockKey := redisx.CheckoutLockKey(cust)
		token, ok, err := redisx.Lock(ctx, h.Redis, lockKey, redisx.TTLCheckoutLock)
		switch {
		case err != nil:
			logging.FromContext(ctx).Warn("checkout lock unavailable", zap.String("customer_id", cust), zap.Error(err))
		case !ok:
			return orders.Order{}, fmt.Errorf("%w: checkout for customer %s already in progress",
				apperr.ErrConcurrentModification, cust)
		default:
			defer func() {
				if err := redisx.Unlock(context.WithoutCancel(ctx), h.Redis, lockKey, token); err != nil {
					logging.FromContext(ctx).Warn("checkout unlock failed", zap.String("customer_id", cust), zap.Error(err))
				}
			}()
		}
	}

	var placed orders.Order
	err := h.Carts.Consume(ctx, cust, func(ctx context.Context, snap cart.Snapshot) error {
		priced, err := h.Pricing.Price(snap, req.PromoCode)
		if err != nil {
			return err
		}
		placed, err = h.Factory.CreateOrder(ctx, orders.CreateOrderCommand{
			CustomerID:      cust,
			Snapshot:        snap,
			Priced:          priced,
			Recipient:       req.Recipient,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   orders.PaymentMethod(req.PaymentMethod),
		})
		return err
	})
	return placed, err
}

func (h *OrdersHandler) replayCheckout(ctx context.Context, w http.ResponseWriter, r *http.Request, idemKey string) {
	orderID, err := h.Redis.Get(ctx, idemKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		writeError(w, r, fmt.Errorf("%w: %v", apperr.ErrUnavailable, err))
		return
	}
	if orderID == "" || orderID == idemPending {
		writeError(w, r, fmt.Errorf("%w: checkout with this idempotency key is in progress", apperr.ErrConcurrentModification))
		return
	}
	o, err := h.Repo.Get(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResp{Order: o, Idempotent: true})
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{CustomerID: q.Get("customer_id")}
	if s := q.Get("status"); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			writeError(w, r, err)
			return
		}
		f.Status = &st
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", apperr.ErrInvalidInput))
			return
		}
		f.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()
	found, err := h.Repo.List(ctx, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]orders.Summary, 0, len(found))
	for _, o := range found {
		out = append(out, o.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()
	o, err := h.Repo.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	setETag(w, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) status(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	// 1) coba cache
	if h.Redis != nil {
		if s, err := redisx.CachedOrderStatus(ctx, h.Redis, orderID); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	// 2) fallback DB
	o, err := h.Repo.Get(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, statusOf(o))
}

func (h *OrdersHandler) approve(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	guard, err := guardFrom(r, req.ExpectedStatus)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	o, err := h.Machine.Approve(ctx, orders.TransitionCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Guard:   guard,
		ActorID: r.Header.Get(headerActorID),
	})
	h.transitioned(ctx, w, r, o, err)
}

// cancel accepts either a JSON body or the reason as plain text.
func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		if err := decodeJSON(r, &req, true); err != nil {
			writeError(w, r, err)
			return
		}
	} else {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read body: %v", apperr.ErrInvalidInput, err))
			return
		}
		req.Reason = string(b)
	}
	guard, err := guardFrom(r, req.ExpectedStatus)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	o, err := h.Machine.Cancel(ctx, orders.CancelCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  req.Reason,
		Guard:   guard,
		ActorID: r.Header.Get(headerActorID),
	})
	h.transitioned(ctx, w, r, o, err)
}

func (h *OrdersHandler) payment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	o, err := h.Machine.RecordPayment(ctx, orders.PaymentCommand{
		OrderID:   chi.URLParam(r, "orderID"),
		Reference: req.Reference,
		ActorID:   r.Header.Get(headerActorID),
	})
	h.transitioned(ctx, w, r, o, err)
}

func (h *OrdersHandler) transitioned(ctx context.Context, w http.ResponseWriter, r *http.Request, o orders.Order, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	setETag(w, o)
	writeJSON(w, http.StatusOK, o)
}

// cacheStatus never replaces a newer cached version, so writes that finish
// out of order leave the latest status in place.
func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(statusOf(o))
	if err != nil {
		return
	}
	if _, err := redisx.CacheOrderStatus(ctx, h.Redis, o.ID, o.Version, b, redisx.TTLStatusCache); err != nil {
		logging.FromContext(ctx).Warn("cache order status", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func setETag(w http.ResponseWriter, o orders.Order) {
	w.Header().Set(headerETag, strconv.Quote(strconv.FormatInt(o.Version, 10)))
}

func statusOf(o orders.Order) statusView {
	return statusView{
		OrderID:       o.ID,
		Status:        o.Status,
		StatusLabel:   o.Status.Label(),
		PaymentStatus: o.PaymentStatus,
		Version:       o.Version,
	}
}

// guardFrom builds the transition guard from expected_status and If-Match.
// A request with neither is rejected by the state machine.
func guardFrom(r *http.Request, expectedStatus string) (orders.Guard, error) {
	var g orders.Guard
	if expectedStatus != "" {
		st, err := orders.ParseStatus(expectedStatus)
		if err != nil {
			return orders.Guard{}, err
		}
		g.ExpectedStatus = &st
	}
	if im := strings.TrimSpace(r.Header.Get(headerIfMatch)); im != "" {
		v, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(im, "W/"), `"`), 10, 64)
		if err != nil || v <= 0 {
			return orders.Guard{}, fmt.Errorf("%w: %s must carry an order version", apperr.ErrInvalidInput, headerIfMatch)
		}
		g.ExpectedVersion = v
	}
	return g, nil
}
