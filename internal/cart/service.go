package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
)

type ProductLookup interface {
	Product(ctx context.Context, productID string) (catalog.Product, error)
}

type ComboResolver interface {
	Resolve(ctx context.Context, comboID string) (catalog.Resolution, error)
}

// Service is the cart store: every mutation for one customer runs under that
// customer's lock and returns the resulting snapshot.
type Service struct {
	store    Store
	products ProductLookup
	combos   ComboResolver
	locks    keyedMutex
	now      func() time.Time
	log      *zap.Logger
}

func NewService(store Store, products ProductLookup, combos ComboResolver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		products: products,
		combos:   combos,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.Named("cart"),
	}
}

func (s *Service) Snapshot(ctx context.Context, customerID string) (Snapshot, error) {
	customerID, err := requireCustomer(customerID)
	if err != nil {
		return Snapshot{}, err
	}
	c, err := s.store.Load(ctx, customerID)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// AddProduct merges into the line with the same (product, color, size) or
// creates a new line priced from the catalog.
func (s *Service) AddProduct(ctx context.Context, customerID string, key LineKey, qty int) (Snapshot, error) {
	if qty <= 0 {
		return Snapshot{}, fmt.Errorf("%w: quantity %d", apperr.ErrInvalidQuantity, qty)
	}
	key = normalizeKey(key)
	if key.ProductID == "" {
		return Snapshot{}, fmt.Errorf("%w: product id is required", apperr.ErrInvalidInput)
	}

	return s.mutate(ctx, customerID, func(c *Cart) error {
		if line, ok := c.Products[key]; ok {
			line.Quantity += qty
			c.Products[key] = line
			return nil
		}
		p, err := s.products.Product(ctx, key.ProductID)
		if err != nil {
			return err
		}
		if !p.Enabled {
			return fmt.Errorf("%w: product %s is disabled", apperr.ErrNotFound, key.ProductID)
		}
		c.Products[key] = ProductLine{
			ProductID: key.ProductID,
			Color:     key.Color,
			Size:      key.Size,
			Quantity:  qty,
			UnitPrice: p.PriceCents,
		}
		return nil
	})
}

// AddCombo snapshots the combo's components on first add; later adds only
// raise the quantity and keep the original snapshot.
func (s *Service) AddCombo(ctx context.Context, customerID, comboID string, qty int) (Snapshot, error) {
	if qty <= 0 {
		return Snapshot{}, fmt.Errorf("%w: quantity %d", apperr.ErrInvalidQuantity, qty)
	}
	comboID = strings.TrimSpace(comboID)

	return s.mutate(ctx, customerID, func(c *Cart) error {
		if line, ok := c.Combos[comboID]; ok {
			line.Quantity += qty
			c.Combos[comboID] = line
			return nil
		}
		res, err := s.combos.Resolve(ctx, comboID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return fmt.Errorf("%w: %v", apperr.ErrComboUnavailable, err)
			}
			return err
		}
		c.Combos[comboID] = ComboLine{
			ComboID:    res.ComboID,
			Quantity:   qty,
			UnitPrice:  res.UnitPrice,
			Components: res.Components,
		}
		return nil
	})
}

// ChangeProductQuantity applies delta and clamps the result at 1; removing a
// line takes an explicit RemoveProduct.
func (s *Service) ChangeProductQuantity(ctx context.Context, customerID string, key LineKey, delta int) (Snapshot, error) {
	key = normalizeKey(key)
	return s.mutate(ctx, customerID, func(c *Cart) error {
		line, ok := c.Products[key]
		if !ok {
			return fmt.Errorf("%w: cart line %s", apperr.ErrNotFound, key)
		}
		line.Quantity = clampQty(line.Quantity + delta)
		c.Products[key] = line
		return nil
	})
}

func (s *Service) ChangeComboQuantity(ctx context.Context, customerID, comboID string, delta int) (Snapshot, error) {
	comboID = strings.TrimSpace(comboID)
	return s.mutate(ctx, customerID, func(c *Cart) error {
		line, ok := c.Combos[comboID]
		if !ok {
			return fmt.Errorf("%w: cart combo %s", apperr.ErrNotFound, comboID)
		}
		line.Quantity = clampQty(line.Quantity + delta)
		c.Combos[comboID] = line
		return nil
	})
}

func (s *Service) RemoveProduct(ctx context.Context, customerID string, key LineKey) (Snapshot, error) {
	key = normalizeKey(key)
	return s.mutate(ctx, customerID, func(c *Cart) error {
		delete(c.Products, key)
		return nil
	})
}

func (s *Service) RemoveCombo(ctx context.Context, customerID, comboID string) (Snapshot, error) {
	comboID = strings.TrimSpace(comboID)
	return s.mutate(ctx, customerID, func(c *Cart) error {
		delete(c.Combos, comboID)
		return nil
	})
}

func (s *Service) Clear(ctx context.Context, customerID string) error {
	customerID, err := requireCustomer(customerID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(customerID)
	defer unlock()
	return s.store.Delete(ctx, customerID)
}

// RemoveLines drops every line present in consumed, typically the snapshot an
// order was just created from. Lines added after that snapshot survive.
func (s *Service) RemoveLines(ctx context.Context, customerID string, consumed Snapshot) (Snapshot, error) {
	return s.mutate(ctx, customerID, func(c *Cart) error {
		removeLines(c, consumed)
		return nil
	})
}

// Consume hands the current snapshot to place while the customer's cart is
// locked. When place succeeds the snapshot's lines leave the cart before the
// lock is released, so one cart feeds at most one order.
func (s *Service) Consume(ctx context.Context, customerID string, place func(ctx context.Context, snap Snapshot) error) error {
	customerID, err := requireCustomer(customerID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(customerID)
	defer unlock()

	c, err := s.store.Load(ctx, customerID)
	if err != nil {
		return err
	}
	snap := c.Snapshot()
	if err := place(ctx, snap); err != nil {
		return err
	}
	removeLines(c, snap)
	if err := s.persist(ctx, c); err != nil {
		s.log.Warn("consumed lines left in cart", zap.String("customer_id", customerID), zap.Error(err))
	}
	return nil
}

func removeLines(c *Cart, consumed Snapshot) {
	for _, l := range consumed.Products {
		delete(c.Products, l.Key())
	}
	for _, l := range consumed.Combos {
		delete(c.Combos, l.ComboID)
	}
}

func (s *Service) mutate(ctx context.Context, customerID string, fn func(c *Cart) error) (Snapshot, error) {
	customerID, err := requireCustomer(customerID)
	if err != nil {
		return Snapshot{}, err
	}
	unlock := s.locks.lock(customerID)
	defer unlock()

	c, err := s.store.Load(ctx, customerID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := fn(c); err != nil {
		return Snapshot{}, err
	}
	if err := s.persist(ctx, c); err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// persist must run under the customer's lock.
func (s *Service) persist(ctx context.Context, c *Cart) error {
	c.UpdatedAt = s.now()
	var err error
	if c.Empty() {
		err = s.store.Delete(ctx, c.CustomerID)
	} else {
		err = s.store.Save(ctx, c)
	}
	if err != nil {
		s.log.Error("persist cart", zap.String("customer_id", c.CustomerID), zap.Error(err))
	}
	return err
}

func requireCustomer(customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", fmt.Errorf("%w: customer id is required", apperr.ErrInvalidInput)
	}
	return customerID, nil
}

func normalizeKey(k LineKey) LineKey {
	return LineKey{
		ProductID: strings.TrimSpace(k.ProductID),
		Color:     strings.TrimSpace(k.Color),
		Size:      strings.TrimSpace(k.Size),
	}
}

func clampQty(q int) int {
	if q < 1 {
		return 1
	}
	return q
}
