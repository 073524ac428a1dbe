package cart

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Cart belongs to exactly one customer and is only mutated through Service.
type Cart struct {
	CustomerID string
	Products   map[LineKey]ProductLine
	Combos     map[string]ComboLine
	UpdatedAt  time.Time
}

func New(customerID string) *Cart {
	return &Cart{
		CustomerID: customerID,
		Products:   map[LineKey]ProductLine{},
		Combos:     map[string]ComboLine{},
	}
}

func (c *Cart) Empty() bool { return len(c.Products) == 0 && len(c.Combos) == 0 }

// Snapshot is an immutable, deep-copied view of a cart with lines in key order.
type Snapshot struct {
	CustomerID string        `json:"customer_id"`
	Products   []ProductLine `json:"products"`
	Combos     []ComboLine   `json:"combos"`
}

func (c *Cart) Snapshot() Snapshot {
	s := Snapshot{
		CustomerID: c.CustomerID,
		Products:   make([]ProductLine, 0, len(c.Products)),
		Combos:     make([]ComboLine, 0, len(c.Combos)),
	}
	for _, l := range c.Products {
		s.Products = append(s.Products, l)
	}
	for _, l := range c.Combos {
		s.Combos = append(s.Combos, l.copy())
	}
	sort.Slice(s.Products, func(i, j int) bool { return s.Products[i].Key().less(s.Products[j].Key()) })
	sort.Slice(s.Combos, func(i, j int) bool { return s.Combos[i].ComboID < s.Combos[j].ComboID })
	return s
}

func (s Snapshot) Len() int    { return len(s.Products) + len(s.Combos) }
func (s Snapshot) Empty() bool { return s.Len() == 0 }

// Lines returns product lines followed by combo lines, deep-copied.
func (s Snapshot) Lines() Lines {
	out := make(Lines, 0, s.Len())
	for _, l := range s.Products {
		out = append(out, l)
	}
	for _, l := range s.Combos {
		out = append(out, l.copy())
	}
	return out
}

func (c *Cart) clone() *Cart {
	out := New(c.CustomerID)
	out.UpdatedAt = c.UpdatedAt
	for k, l := range c.Products {
		out.Products[k] = l
	}
	for id, l := range c.Combos {
		out.Combos[id] = l.copy()
	}
	return out
}

type cartWire struct {
	CustomerID string    `json:"customer_id"`
	Lines      Lines     `json:"lines"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c *Cart) MarshalJSON() ([]byte, error) {
	return json.Marshal(cartWire{
		CustomerID: c.CustomerID,
		Lines:      c.Snapshot().Lines(),
		UpdatedAt:  c.UpdatedAt,
	})
}

func (c *Cart) UnmarshalJSON(b []byte) error {
	var w cartWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := New(w.CustomerID)
	out.UpdatedAt = w.UpdatedAt
	for _, l := range w.Lines {
		switch v := l.(type) {
		case ProductLine:
			if _, dup := out.Products[v.Key()]; dup {
				return fmt.Errorf("cart: duplicate product line %s", v.Key())
			}
			out.Products[v.Key()] = v
		case ComboLine:
			if _, dup := out.Combos[v.ComboID]; dup {
				return fmt.Errorf("cart: duplicate combo line %s", v.ComboID)
			}
			out.Combos[v.ComboID] = v
		}
	}
	*c = *out
	return nil
}
