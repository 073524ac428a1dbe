package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
)

const (
	KindProduct = "product"
	KindCombo   = "combo"
)

// LineKey identifies a loose product line: same product, color and size merge.
type LineKey struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
}

func (k LineKey) String() string { return k.ProductID + "/" + k.Color + "/" + k.Size }

func (k LineKey) less(o LineKey) bool {
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	if k.Color != o.Color {
		return k.Color < o.Color
	}
	return k.Size < o.Size
}

// LineItem is either a ProductLine or a ComboLine. The set is closed.
type LineItem interface {
	Kind() string
	Qty() int
	LineTotal() int64
	clone() LineItem
}

type ProductLine struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

func (l ProductLine) Key() LineKey { return LineKey{ProductID: l.ProductID, Color: l.Color, Size: l.Size} }
func (l ProductLine) Kind() string { return KindProduct }
func (l ProductLine) Qty() int { return l.Quantity }
func (l ProductLine) LineTotal() int64 { return l.UnitPrice * int64(l.Quantity) }
func (l ProductLine) clone() LineItem { return l }

// ComboLine is priced by its own UnitPrice; Components are a display snapshot
// taken when the combo was added.
type ComboLine struct {
	ComboID    string              `json:"combo_id"`
	Quantity   int                 `json:"quantity"`
	UnitPrice  int64               `json:"unit_price"`
	Components []catalog.Component `json:"components"`
}

func (l ComboLine) Kind() string { return KindCombo }
func (l ComboLine) Qty() int { return l.Quantity }
func (l ComboLine) LineTotal() int64 { return l.UnitPrice * int64(l.Quantity) }

func (l ComboLine) clone() LineItem { return l.copy() }

func (l ComboLine) copy() ComboLine {
	comps := make([]catalog.Component, len(l.Components))
	copy(comps, l.Components)
	l.Components = comps
	return l
}

// Lines is the wire and storage form of line items. Each element carries a
// "kind" discriminator; decoding rejects unknown kinds and unknown fields.
type Lines []LineItem

func (ls Lines) Clone() Lines {
	if ls == nil {
		return nil
	}
	out := make(Lines, len(ls))
	for i, l := range ls {
		out[i] = l.clone()
	}
	return out
}

func (ls Lines) Total() int64 {
	var sum int64
	for _, l := range ls {
		sum += l.LineTotal()
	}
	return sum
}

type productWire struct {
	Kind string `json:"kind"`
	ProductLine
}

type comboWire struct {
	Kind string `json:"kind"`
	ComboLine
}

func (ls Lines) MarshalJSON() ([]byte, error) {
	out := make([]any, 0, len(ls))
	for _, l := range ls {
		switch v := l.(type) {
		case ProductLine:
			out = append(out, productWire{Kind: KindProduct, ProductLine: v})
		case ComboLine:
			out = append(out, comboWire{Kind: KindCombo, ComboLine: v})
		default:
			return nil, fmt.Errorf("cart: unsupported line item %T", l)
		}
	}
	return json.Marshal(out)
}

func (ls *Lines) UnmarshalJSON(b []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return fmt.Errorf("%w: lines: %v", apperr.ErrInvalidInput, err)
	}
	out := make(Lines, 0, len(raws))
	for i, raw := range raws {
		l, err := DecodeLine(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
		out = append(out, l)
	}
	*ls = out
	return nil
}

// DecodeLine validates and decodes a single discriminated line item.
func DecodeLine(raw []byte) (LineItem, error) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	switch head.Kind {
	case KindProduct:
		var w productWire
		if err := decodeStrict(raw, &w); err != nil {
			return nil, err
		}
		if strings.TrimSpace(w.ProductID) == "" {
			return nil, fmt.Errorf("%w: product_id is required", apperr.ErrInvalidInput)
		}
		if w.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity %d", apperr.ErrInvalidQuantity, w.Quantity)
		}
		return w.ProductLine, nil
	case KindCombo:
		var w comboWire
		if err := decodeStrict(raw, &w); err != nil {
			return nil, err
		}
		if strings.TrimSpace(w.ComboID) == "" {
			return nil, fmt.Errorf("%w: combo_id is required", apperr.ErrInvalidInput)
		}
		if w.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity %d", apperr.ErrInvalidQuantity, w.Quantity)
		}
		if len(w.Components) == 0 {
			return nil, fmt.Errorf("%w: combo %s has no components", apperr.ErrInvalidInput, w.ComboID)
		}
		return w.ComboLine.copy(), nil
	default:
		return nil, fmt.Errorf("%w: unknown line kind %q", apperr.ErrInvalidInput, head.Kind)
	}
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}
