package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/pricing"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

type testEnv struct {
	srv    *httptest.Server
	repo   *orders.MemoryRepo
	redis  *miniredis.Miniredis
	orders *OrdersHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cat := catalog.NewMemory()
	cat.PutProduct(catalog.Product{ID: "p-shirt", SKU: "SHIRT", Name: "Shirt", PriceCents: 250_000, Enabled: true})
	cat.PutProduct(catalog.Product{ID: "p-cap", SKU: "CAP", Name: "Cap", PriceCents: 100_000, Enabled: true})
	cat.PutCombo(catalog.Combo{
		ID: "c-duo", PriceCents: 300_000, Enabled: true,
		Items: []catalog.ComboItem{{ProductID: "p-shirt", Qty: 1}, {ProductID: "p-cap", Qty: 1, Position: 1}},
	})
	cat.PutCombo(catalog.Combo{ID: "c-off", PriceCents: 1, Items: []catalog.ComboItem{{ProductID: "p-cap", Qty: 1}}})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	resolver := catalog.NewResolver(cat)
	carts := cart.NewService(cart.NewRedisStore(rdb, redisx.TTLCart), cat, resolver, nil)
	engine := pricing.NewEngine(pricing.NewStaticPromoBook(pricing.Promo{Code: "WELCOME10", RateBasisPoints: 1000}))
	repo := orders.NewMemoryRepo()

	factory, err := orders.NewFactory(orders.FactoryDeps{Repo: repo})
	require.NoError(t, err)
	machine, err := orders.NewStateMachine(orders.MachineDeps{Repo: repo})
	require.NoError(t, err)

	router := NewRouter(nil)
	(&CatalogHandler{Products: cat, Combos: resolver}).Register(router)
	(&CartsHandler{Carts: carts, Pricing: engine}).Register(router)
	oh := &OrdersHandler{Repo: repo, Factory: factory, Machine: machine, Carts: carts, Pricing: engine, Redis: rdb}
	oh.Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, repo: repo, redis: mr, orders: oh}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	status, raw := e.doRaw(t, method, path, body, headers...)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return status, out
}

func (e *testEnv) doRaw(t *testing.T, method, path string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
		contentType = "text/plain"
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out.Bytes()
}

var checkoutBody = map[string]any{
	"recipient":        map[string]any{"name": "Sari", "phone": "+62 812 000"},
	"shipping_address": map[string]any{"line1": "Jl. Merdeka 1", "city": "Bandung"},
	"payment_method":   "COD",
	"promo_code":       "welcome10",
}

func (e *testEnv) fillCart(t *testing.T) {
	t.Helper()
	status, _ := e.do(t, http.MethodPost, "/carts/cust-1/products", map[string]any{"product_id": "p-shirt", "color": "red", "size": "M", "quantity": 2})
	require.Equal(t, http.StatusOK, status)
	status, _ = e.do(t, http.MethodPost, "/carts/cust-1/combos", map[string]any{"combo_id": "c-duo", "quantity": 1})
	require.Equal(t, http.StatusOK, status)
}

func (e *testEnv) checkout(t *testing.T) string {
	t.Helper()
	e.fillCart(t)
	status, body := e.do(t, http.MethodPost, "/carts/cust-1/checkout", checkoutBody)
	require.Equal(t, http.StatusCreated, status, body)
	return body["order"].(map[string]any)["id"].(string)
}

// approveFrom approves the order as seen in status from.
func (e *testEnv) approveFrom(t *testing.T, id string, from orders.Status) {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/orders/"+id+"/approve", map[string]any{"expected_status": string(from)})
	require.Equal(t, http.StatusOK, status, body)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	status, raw := env.doRaw(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", string(raw))
}

func TestCatalogRoutes(t *testing.T) {
	env := newTestEnv(t)

	status, raw := env.doRaw(t, http.MethodGet, "/products", nil)
	require.Equal(t, http.StatusOK, status)
	var ps []catalog.Product
	require.NoError(t, json.Unmarshal(raw, &ps))
	assert.Len(t, ps, 2)

	status, body := env.do(t, http.MethodGet, "/combos/c-duo", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["components"], 2)

	status, body = env.do(t, http.MethodGet, "/combos/c-off", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(apperr.KindNotFound), body["error"])
}

func TestCartRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(t)

	status, body := env.do(t, http.MethodGet, "/carts/cust-1?promo=WELCOME10", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 800_000, body["subtotal"])
	assert.EqualValues(t, 80_000, body["discount"])
	assert.EqualValues(t, 720_000, body["total"])

	status, body = env.do(t, http.MethodGet, "/carts/cust-1?promo=NOPE", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 800_000, body["total"])
	assert.NotEmpty(t, body["promo_error"])

	status, body = env.do(t, http.MethodPatch, "/carts/cust-1/products/p-shirt/red/M", map[string]any{"delta": -5})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["products"].([]any)[0].(map[string]any)["quantity"])

	status, _ = env.do(t, http.MethodPatch, "/carts/cust-1/products/p-shirt/blue/M", map[string]any{"delta": 1})
	assert.Equal(t, http.StatusNotFound, status)

	status, body = env.do(t, http.MethodDelete, "/carts/cust-1/combos/c-duo", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["combos"])

	status, _ = env.do(t, http.MethodDelete, "/carts/cust-1", nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestCartErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/carts/cust-1/products", map[string]any{"product_id": "p-cap", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(apperr.KindInvalidQuantity), body["error"])

	status, body = env.do(t, http.MethodPost, "/carts/cust-1/combos", map[string]any{"combo_id": "c-off", "quantity": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, string(apperr.KindComboUnavailable), body["error"])

	status, body = env.do(t, http.MethodPost, "/carts/cust-1/products", map[string]any{"product_id": "p-cap", "quantity": 1, "discount": 99})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(apperr.KindInvalidInput), body["error"])

	status, body = env.do(t, http.MethodPost, "/carts/cust-1/promo", map[string]any{"code": "BOGUS"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, string(apperr.KindInvalidPromoCode), body["error"])
}

func TestPromoRoute(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(t)

	status, body := env.do(t, http.MethodPost, "/carts/cust-1/promo", map[string]any{"code": "welcome10"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "WELCOME10", body["promo_code"])
	assert.EqualValues(t, 80_000, body["discount"])
}

func TestCheckout_CreatesOrderAndClearsCart(t *testing.T) {
	env := newTestEnv(t)
	id := env.checkout(t)

	o, err := env.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusUnconfirmed, o.Status)
	assert.Equal(t, int64(720_000), o.Total)

	status, body := env.do(t, http.MethodGet, "/carts/cust-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["products"])
	assert.Empty(t, body["combos"])

	status, body = env.do(t, http.MethodPost, "/carts/cust-1/checkout", checkoutBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(apperr.KindEmptyCart), body["error"])
}

func TestCheckout_IncompleteRecipient(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(t)

	status, body := env.do(t, http.MethodPost, "/carts/cust-1/checkout", map[string]any{
		"recipient":      map[string]any{"name": "Sari"},
		"payment_method": "COD",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(apperr.KindIncompleteRecipient), body["error"])
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(t)

	status, first := env.do(t, http.MethodPost, "/carts/cust-1/checkout", checkoutBody, headerIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, status)
	status, second := env.do(t, http.MethodPost, "/carts/cust-1/checkout", checkoutBody, headerIdempotencyKey, "k-1")
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, true, second["idempotent"])
	assert.Equal(t, first["order"].(map[string]any)["id"], second["order"].(map[string]any)["id"])
	all, err := env.repo.List(context.Background(), orders.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCheckout_FailedAttemptReleasesIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/carts/cust-1/checkout", checkoutBody, headerIdempotencyKey, "k-2")
	require.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.redis.Exists(redisx.IdemCheckoutKey("cust-1", "k-2")))

	env.fillCart(t)
	status, _ = env.do(t, http.MethodPost, "/carts/cust-1/checkout", checkoutBody, headerIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusCreated, status)
}

func TestOrderLifecycleRoutes(t *testing.T) {
	env := newTestEnv(t)
	id := env.checkout(t)

	status, body := env.do(t, http.MethodPost, "/orders/"+id+"/approve", map[string]any{"expected_status": "UNCONFIRMED"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(orders.StatusProcessing), body["status"])

	status, raw := env.doRaw(t, http.MethodGet, "/orders/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, status)
	var sv statusView
	require.NoError(t, json.Unmarshal(raw, &sv))
	assert.Equal(t, orders.StatusProcessing, sv.Status)
	assert.True(t, env.redis.Exists(redisx.OrderStatusKey(id)))

	status, body = env.do(t, http.MethodPost, "/orders/"+id+"/approve", map[string]any{"expected_status": "UNCONFIRMED"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(apperr.KindConcurrentModification), body["error"])

	status, body = env.do(t, http.MethodPost, "/orders/"+id+"/cancel", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(apperr.KindMissingCancellationReason), body["error"])

	status, body = env.do(t, http.MethodPost, "/orders/"+id+"/cancel", "customer changed their mind")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(apperr.KindInvalidInput), body["error"])

	status, body = env.do(t, http.MethodPost, "/orders/"+id+"/cancel", "customer changed their mind", headerIfMatch, `"2"`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(orders.StatusCancelled), body["status"])
	assert.Equal(t, "customer changed their mind", body["cancellation_reason"])

	status, body = env.do(t, http.MethodPost, "/orders/"+id+"/approve", map[string]any{"expected_status": "CANCELLED"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(apperr.KindInvalidTransition), body["error"])

	status, body = env.do(t, http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["lines"], 2)
}

func TestCancelFromShippingIsConflict(t *testing.T) {
	env := newTestEnv(t)
	id := env.checkout(t)
	env.approveFrom(t, id, orders.StatusUnconfirmed)
	env.approveFrom(t, id, orders.StatusProcessing)

	status, body := env.do(t, http.MethodPost, "/orders/"+id+"/cancel", map[string]any{"reason": "customer unreachable", "expected_status": "SHIPPING"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(apperr.KindInvalidTransition), body["error"])
}

func TestConcurrentApproveOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	id := env.checkout(t)

	codes := make([]int, 6)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i], _ = env.do(t, http.MethodPost, "/orders/"+id+"/approve", map[string]any{"expected_status": "unconfirmed"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, c := range codes {
		if c == http.StatusOK {
			ok++
			continue
		}
		assert.Equal(t, http.StatusConflict, c)
	}
	assert.Equal(t, 1, ok)
	o, err := env.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)
}

func TestApproveWithoutGuardIsRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.checkout(t)

	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i], _ = env.do(t, http.MethodPost, "/orders/"+id+"/approve", nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest}, codes)
	o, err := env.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusUnconfirmed, o.Status)
	assert.Equal(t, int64(1), o.Version)

	status, body := env.do(t, http.MethodPost, "/orders/"+id+"/approve", nil, headerIfMatch, "abc")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(apperr.KindInvalidInput), body["error"])
}

func TestConcurrentApproveWithIfMatch(t *testing.T) {
	env := newTestEnv(t)
	id := env.checkout(t)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/orders/"+id, nil)
	require.NoError(t, err)
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	etag := resp.Header.Get(headerETag)
	require.Equal(t, `"1"`, etag)

	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i], _ = env.do(t, http.MethodPost, "/orders/"+id+"/approve", nil, headerIfMatch, etag)
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusConflict}, codes)
	o, err := env.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)
}

func TestConcurrentCheckoutCreatesOneOrder(t *testing.T) {
	for _, withRedisLock := range []bool{true, false} {
		name := "in-process-lock"
		if withRedisLock {
			name = "redis-lock"
		}
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			if !withRedisLock {
				env.orders.Redis = nil
			}
			env.fillCart(t)

			codes := make([]int, 4)
			var wg sync.WaitGroup
			for i := range codes {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					codes[i], _ = env.do(t, http.MethodPost, "/carts/cust-1/checkout", checkoutBody)
				}(i)
			}
			wg.Wait()

			created := 0
			for _, c := range codes {
				if c == http.StatusCreated {
					created++
					continue
				}
				assert.Contains(t, []int{http.StatusConflict, http.StatusBadRequest}, c)
			}
			assert.Equal(t, 1, created)
			all, err := env.repo.List(context.Background(), orders.ListFilter{})
			require.NoError(t, err)
			assert.Len(t, all, 1)
			assert.False(t, env.redis.Exists(redisx.CheckoutLockKey("cust-1")))
		})
	}
}

func TestCheckoutLockHeldElsewhere(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(t)
	require.NoError(t, env.redis.Set(redisx.CheckoutLockKey("cust-1"), "other-instance"))

	status, body := env.do(t, http.MethodPost, "/carts/cust-1/checkout", checkoutBody)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(apperr.KindConcurrentModification), body["error"])

	v, err := env.redis.Get(redisx.CheckoutLockKey("cust-1"))
	require.NoError(t, err)
	assert.Equal(t, "other-instance", v)
}

func TestStatusCacheKeepsNewerVersion(t *testing.T) {
	env := newTestEnv(t)
	id := env.checkout(t)
	stale, err := env.repo.Get(context.Background(), id)
	require.NoError(t, err)
	env.approveFrom(t, id, orders.StatusUnconfirmed)

	env.orders.cacheStatus(context.Background(), stale)

	status, raw := env.doRaw(t, http.MethodGet, "/orders/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, status)
	var sv statusView
	require.NoError(t, json.Unmarshal(raw, &sv))
	assert.Equal(t, orders.StatusProcessing, sv.Status)
	assert.Equal(t, int64(2), sv.Version)
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)
	id := env.checkout(t)

	status, raw := env.doRaw(t, http.MethodGet, "/orders?status=unconfirmed&customer_id=cust-1", nil)
	require.Equal(t, http.StatusOK, status)
	var sums []orders.Summary
	require.NoError(t, json.Unmarshal(raw, &sums))
	require.Len(t, sums, 1)
	assert.Equal(t, id, sums[0].ID)
	assert.Equal(t, "Unconfirmed", sums[0].StatusLabel)

	status, raw = env.doRaw(t, http.MethodGet, "/orders?status=shipping", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(raw))

	status, _ = env.do(t, http.MethodGet, "/orders?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPaymentRoute(t *testing.T) {
	env := newTestEnv(t)
	id := env.checkout(t)

	status, body := env.do(t, http.MethodPost, "/orders/"+id+"/payment", map[string]any{"reference": "cash-1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(apperr.KindInvalidTransition), body["error"])

	for _, from := range []orders.Status{orders.StatusUnconfirmed, orders.StatusProcessing, orders.StatusShipping} {
		env.approveFrom(t, id, from)
	}
	status, body = env.do(t, http.MethodPost, "/orders/"+id+"/payment", map[string]any{"reference": "cash-1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(orders.PaymentPaid), body["payment_status"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(apperr.KindUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(apperr.KindInternal))
}

func TestRecovererReturnsJSON(t *testing.T) {
	router := NewRouter(nil)
	router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(apperr.KindInternal), body["error"])
}

func TestSanitizeKeepsValidUTF8(t *testing.T) {
	assert.Equal(t, "ab", sanitize("ab\ncd", 2))
	assert.Equal(t, "ab  cd", sanitize(" ab\r\ncd ", 64))

	// "é" is two bytes; a cut through it drops the whole rune
	got := sanitize("aé", 2)
	assert.Equal(t, "a", got)
	assert.True(t, utf8.ValidString(got))

	got = sanitize("日本語", 5)
	assert.Equal(t, "日", got)
	assert.True(t, utf8.ValidString(got))
}

// deadlineRepo records how much time each read had left.
type deadlineRepo struct {
	*orders.MemoryRepo
	mu   sync.Mutex
	left []time.Duration
}

func (r *deadlineRepo) Get(ctx context.Context, id string) (orders.Order, error) {
	left := time.Duration(-1)
	if d, ok := ctx.Deadline(); ok {
		left = time.Until(d)
	}
	r.mu.Lock()
	r.left = append(r.left, left)
	r.mu.Unlock()
	return r.MemoryRepo.Get(ctx, id)
}

func TestTransitionsRunUnderTimeout(t *testing.T) {
	repo := &deadlineRepo{MemoryRepo: orders.NewMemoryRepo()}
	require.NoError(t, repo.Insert(context.Background(), orders.Order{
		ID: "o1", CustomerID: "cust-1", Status: orders.StatusUnconfirmed, Version: 1,
		PaymentMethod: orders.PaymentCard, PaymentStatus: orders.PaymentUnpaid,
		Lines: cart.Lines{cart.ProductLine{ProductID: "p-cap", Quantity: 1, UnitPrice: 100_000}},
	}))
	machine, err := orders.NewStateMachine(orders.MachineDeps{Repo: repo})
	require.NoError(t, err)
	router := NewRouter(nil)
	(&OrdersHandler{Repo: repo, Machine: machine}).Register(router)

	send := func(path, body string, headers ...string) int {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send("/orders/o1/payment", `{"reference":"tx-1"}`))
	assert.Equal(t, http.StatusOK, send("/orders/o1/approve", `{}`, headerIfMatch, `"2"`))
	assert.Equal(t, http.StatusOK, send("/orders/o1/cancel", `{"reason":"duplicate","expected_status":"PROCESSING"}`))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.left, 3)
	for _, left := range repo.left {
		assert.Greater(t, left, time.Duration(0))
		assert.LessOrEqual(t, left, writeTimeout)
	}
}
