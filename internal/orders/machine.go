package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
)

// StockReleaser returns reserved stock of a cancelled order. It must be safe to
// call more than once for the same order.
type StockReleaser interface {
	ReleaseAll(ctx context.Context, orderID string) error
}

// Guard is the caller's view of the order: the status and/or version it saw
// when deciding to act. Approve and Cancel require at least one of them, so
// two callers acting on the same view cannot both succeed.
type Guard struct {
	ExpectedStatus  *Status
	ExpectedVersion int64
}

func (g Guard) empty() bool { return g.ExpectedStatus == nil && g.ExpectedVersion <= 0 }

// GuardStatus guards on the status the caller saw.
func GuardStatus(s Status) Guard { return Guard{ExpectedStatus: &s} }

// GuardVersion guards on the version the caller saw.
func GuardVersion(v int64) Guard { return Guard{ExpectedVersion: v} }

type TransitionCommand struct {
	OrderID string
	Guard   Guard
	ActorID string
}

type CancelCommand struct {
	OrderID string
	Reason  string
	Guard   Guard
	ActorID string
}

type PaymentCommand struct {
	OrderID   string
	Reference string
	ActorID   string
}

type MachineDeps struct {
	Repo     Repository
	Notifier Notifier
	Stock    StockReleaser
	Now      func() time.Time
	Logger   *zap.Logger
}

// StateMachine is the only writer of an order after creation. Every change is
// a compare-and-set on the status and version that were read.
type StateMachine struct {
	repo     Repository
	notifier Notifier
	stock    StockReleaser
	now      func() time.Time
	log      *zap.Logger
}

func NewStateMachine(d MachineDeps) (*StateMachine, error) {
	if d.Repo == nil {
		return nil, errors.New("orders: state machine requires a repository")
	}
	m := &StateMachine{repo: d.Repo, notifier: d.Notifier, stock: d.Stock, now: d.Now, log: d.Logger}
	if m.notifier == nil {
		m.notifier = NopNotifier{}
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	return m, nil
}

// Approve advances the order one step along the happy path, provided it still
// matches the caller's guard.
func (m *StateMachine) Approve(ctx context.Context, cmd TransitionCommand) (Order, error) {
	o, err := m.load(ctx, cmd.OrderID, cmd.Guard, true)
	if err != nil {
		return Order{}, err
	}
	to, ok := Next(o.Status, ActionApprove)
	if !ok {
		return Order{}, fmt.Errorf("%w: cannot approve order in status %s", apperr.ErrInvalidTransition, o.Status)
	}
	updated, err := m.repo.ApplyChange(ctx, StatusChange{
		OrderID:            o.ID,
		FromStatus:         o.Status,
		FromVersion:        o.Version,
		ToStatus:           to,
		PaymentStatus:      o.PaymentStatus,
		PaymentRef:         o.PaymentRef,
		CancellationReason: o.CancellationReason,
		At:                 m.now(),
	})
	if err != nil {
		return Order{}, err
	}
	m.log.Info("order approved",
		zap.String("order_id", updated.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(updated.Status)),
		zap.String("actor_id", cmd.ActorID))

	evType := EventOrderApproved
	if updated.Status == StatusCompleted {
		evType = EventOrderCompleted
	}
	m.emit(ctx, Event{Type: evType, Order: updated, PreviousStatus: o.Status, ActorID: cmd.ActorID, OccurredAt: updated.UpdatedAt})
	return updated, nil
}

// Cancel rejects a blank reason before reading the order, so the stored order
// is never touched in that case.
func (m *StateMachine) Cancel(ctx context.Context, cmd CancelCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: order %s", apperr.ErrMissingCancellationReason, cmd.OrderID)
	}
	o, err := m.load(ctx, cmd.OrderID, cmd.Guard, true)
	if err != nil {
		return Order{}, err
	}
	to, ok := Next(o.Status, ActionCancel)
	if !ok {
		return Order{}, fmt.Errorf("%w: cannot cancel order in status %s", apperr.ErrInvalidTransition, o.Status)
	}
	updated, err := m.repo.ApplyChange(ctx, StatusChange{
		OrderID:            o.ID,
		FromStatus:         o.Status,
		FromVersion:        o.Version,
		ToStatus:           to,
		PaymentStatus:      o.PaymentStatus,
		PaymentRef:         o.PaymentRef,
		CancellationReason: reason,
		At:                 m.now(),
	})
	if err != nil {
		return Order{}, err
	}
	m.log.Info("order cancelled",
		zap.String("order_id", updated.ID),
		zap.String("from", string(o.Status)),
		zap.String("reason", reason),
		zap.String("actor_id", cmd.ActorID))

	if m.stock != nil {
		if err := m.stock.ReleaseAll(ctx, updated.ID); err != nil {
			m.log.Warn("release stock failed", zap.String("order_id", updated.ID), zap.Error(err))
		}
	}
	m.emit(ctx, Event{Type: EventOrderCancelled, Order: updated, PreviousStatus: o.Status, ActorID: cmd.ActorID, OccurredAt: updated.UpdatedAt})
	return updated, nil
}

// RecordPayment marks the order paid. Cash on delivery is accepted only once
// the order is completed; prepaid methods in any status short of cancelled.
func (m *StateMachine) RecordPayment(ctx context.Context, cmd PaymentCommand) (Order, error) {
	ref := strings.TrimSpace(cmd.Reference)
	if ref == "" {
		return Order{}, fmt.Errorf("%w: payment reference required", apperr.ErrInvalidInput)
	}
	o, err := m.load(ctx, cmd.OrderID, Guard{}, false)
	if err != nil {
		return Order{}, err
	}
	if o.PaymentStatus == PaymentPaid {
		return o, nil
	}
	switch {
	case o.Status == StatusCancelled:
		return Order{}, fmt.Errorf("%w: order %s is cancelled", apperr.ErrInvalidTransition, o.ID)
	case !o.PaymentMethod.Prepaid() && o.Status != StatusCompleted:
		return Order{}, fmt.Errorf("%w: %s payment requires a completed order, got %s",
			apperr.ErrInvalidTransition, o.PaymentMethod, o.Status)
	}
	updated, err := m.repo.ApplyChange(ctx, StatusChange{
		OrderID:            o.ID,
		FromStatus:         o.Status,
		FromVersion:        o.Version,
		ToStatus:           o.Status,
		PaymentStatus:      PaymentPaid,
		PaymentRef:         ref,
		CancellationReason: o.CancellationReason,
		At:                 m.now(),
	})
	if err != nil {
		return Order{}, err
	}
	m.log.Info("payment recorded", zap.String("order_id", updated.ID), zap.String("reference", ref))
	m.emit(ctx, Event{Type: EventPaymentRecorded, Order: updated, PreviousStatus: o.Status, ActorID: cmd.ActorID, OccurredAt: updated.UpdatedAt})
	return updated, nil
}

func (m *StateMachine) load(ctx context.Context, orderID string, g Guard, guarded bool) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id required", apperr.ErrInvalidInput)
	}
	if guarded && g.empty() {
		return Order{}, fmt.Errorf("%w: expected status or version required", apperr.ErrInvalidInput)
	}
	o, err := m.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if g.ExpectedStatus != nil && o.Status != *g.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: order %s is %s, expected %s",
			apperr.ErrConcurrentModification, o.ID, o.Status, *g.ExpectedStatus)
	}
	if g.ExpectedVersion > 0 && o.Version != g.ExpectedVersion {
		return Order{}, fmt.Errorf("%w: order %s is at version %d, expected %d",
			apperr.ErrConcurrentModification, o.ID, o.Version, g.ExpectedVersion)
	}
	return o, nil
}

func (m *StateMachine) emit(ctx context.Context, ev Event) {
	if err := m.notifier.Notify(ctx, ev); err != nil {
		m.log.Warn("notify failed", zap.String("event", ev.Type), zap.String("order_id", ev.Order.ID), zap.Error(err))
	}
}
