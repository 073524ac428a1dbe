package httpx

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/pricing"
)

// noVariant stands in for an empty color or size in a path segment.
const noVariant = "-"

type CartsHandler struct {
	Carts   *cart.Service
	Pricing *pricing.Engine
}

type cartView struct {
	cart.Snapshot
	pricing.PricedCart
	PromoError string `json:"promo_error,omitempty"`
}

type addProductReq struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type addComboReq struct {
	ComboID  string `json:"combo_id"`
	Quantity int    `json:"quantity"`
}

type deltaReq struct {
	Delta int `json:"delta"`
}

type promoReq struct {
	Code string `json:"code"`
}

func (h *CartsHandler) Register(r chi.Router) {
	r.Get("/carts/{customerID}", h.get)
	r.Delete("/carts/{customerID}", h.clear)
	r.Post("/carts/{customerID}/products", h.addProduct)
	r.Patch("/carts/{customerID}/products/{productID}/{color}/{size}", h.changeProduct)
	r.Delete("/carts/{customerID}/products/{productID}/{color}/{size}", h.removeProduct)
	r.Post("/carts/{customerID}/combos", h.addCombo)
	r.Patch("/carts/{customerID}/combos/{comboID}", h.changeCombo)
	r.Delete("/carts/{customerID}/combos/{comboID}", h.removeCombo)
	r.Post("/carts/{customerID}/promo", h.applyPromo)
}

func customerID(r *http.Request) string { return chi.URLParam(r, "customerID") }

func lineKey(r *http.Request) cart.LineKey {
	variant := func(name string) string {
		if v := chi.URLParam(r, name); v != noVariant {
			return v
		}
		return ""
	}
	return cart.LineKey{ProductID: chi.URLParam(r, "productID"), Color: variant("color"), Size: variant("size")}
}

// view prices snap for the response. An unknown code is reported next to the
// undiscounted totals instead of failing the read.
func (h *CartsHandler) view(snap cart.Snapshot, code string) cartView {
	priced, err := h.Pricing.Price(snap, code)
	v := cartView{Snapshot: snap, PricedCart: priced}
	if err != nil {
		v.PromoError = err.Error()
	}
	return v
}

func (h *CartsHandler) respond(w http.ResponseWriter, r *http.Request, snap cart.Snapshot, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(snap, r.URL.Query().Get("promo")))
}

func (h *CartsHandler) get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Carts.Snapshot(r.Context(), customerID(r))
	h.respond(w, r, snap, err)
}

func (h *CartsHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Clear(r.Context(), customerID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartsHandler) addProduct(w http.ResponseWriter, r *http.Request) {
	var req addProductReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	key := cart.LineKey{ProductID: req.ProductID, Color: req.Color, Size: req.Size}
	snap, err := h.Carts.AddProduct(r.Context(), customerID(r), key, req.Quantity)
	h.respond(w, r, snap, err)
}

func (h *CartsHandler) changeProduct(w http.ResponseWriter, r *http.Request) {
	var req deltaReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.Carts.ChangeProductQuantity(r.Context(), customerID(r), lineKey(r), req.Delta)
	h.respond(w, r, snap, err)
}

func (h *CartsHandler) removeProduct(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Carts.RemoveProduct(r.Context(), customerID(r), lineKey(r))
	h.respond(w, r, snap, err)
}

func (h *CartsHandler) addCombo(w http.ResponseWriter, r *http.Request) {
	var req addComboReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.Carts.AddCombo(r.Context(), customerID(r), req.ComboID, req.Quantity)
	h.respond(w, r, snap, err)
}

func (h *CartsHandler) changeCombo(w http.ResponseWriter, r *http.Request) {
	var req deltaReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.Carts.ChangeComboQuantity(r.Context(), customerID(r), chi.URLParam(r, "comboID"), req.Delta)
	h.respond(w, r, snap, err)
}

func (h *CartsHandler) removeCombo(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Carts.RemoveCombo(r.Context(), customerID(r), chi.URLParam(r, "comboID"))
	h.respond(w, r, snap, err)
}

// applyPromo prices the cart with a code; an unknown code is a 422.
func (h *CartsHandler) applyPromo(w http.ResponseWriter, r *http.Request) {
	var req promoReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.Carts.Snapshot(r.Context(), customerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	priced, err := h.Pricing.Price(snap, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if priced.PromoCode == "" {
		writeError(w, r, fmt.Errorf("%w: code is required", apperr.ErrInvalidPromoCode))
		return
	}
	writeJSON(w, http.StatusOK, cartView{Snapshot: snap, PricedCart: priced})
}
