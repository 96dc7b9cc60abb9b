package orders

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/enums"
	"github.com/angelmondragon/stockledger/pkg/outbox"
	"github.com/angelmondragon/stockledger/pkg/outbox/payloads"
)

// Transition describes one committed status change.
type Transition struct {
	OrderID   int64
	SessionID string
	UserID    *string
	From      enums.OrderStatus
	To        enums.OrderStatus
	Actor     *string
	At        time.Time
}

// Cancellation describes one committed cancellation.
type Cancellation struct {
	Transition
	Reason string
}

// Notifier hands order events to the notification pipeline. It is only
// called after the state change committed; errors are logged, not propagated.
type Notifier interface {
	StatusChanged(ctx context.Context, t Transition) error
	Canceled(ctx context.Context, c Cancellation) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (string, error)
}

// OutboxNotifier queues notifications as outbox rows in a short transaction
// of their own.
type OutboxNotifier struct {
	db     db.TxRunner
	outbox outboxEmitter
}

func NewOutboxNotifier(txRunner db.TxRunner, emitter outboxEmitter) (*OutboxNotifier, error) {
	if txRunner == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &OutboxNotifier{db: txRunner, outbox: emitter}, nil
}

func (n *OutboxNotifier) StatusChanged(ctx context.Context, t Transition) error {
	return n.emit(ctx, enums.EventOrderStatusChanged, t, payloads.OrderStatusChangedEvent{
		OrderID:        t.OrderID,
		SessionID:      t.SessionID,
		UserID:         t.UserID,
		PreviousStatus: t.From,
		NewStatus:      t.To,
		ChangedBy:      t.Actor,
		ChangedAt:      t.At,
	})
}

func (n *OutboxNotifier) Canceled(ctx context.Context, c Cancellation) error {
	return n.emit(ctx, enums.EventOrderCanceled, c.Transition, payloads.OrderCanceledEvent{
		OrderID:        c.OrderID,
		SessionID:      c.SessionID,
		UserID:         c.UserID,
		PreviousStatus: c.From,
		Reason:         c.Reason,
		CanceledBy:     c.Actor,
		CanceledAt:     c.At,
	})
}

func (n *OutboxNotifier) emit(ctx context.Context, eventType enums.OutboxEventType, t Transition, data any) error {
	return n.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := n.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   t.OrderID,
			Actor:         actorRef(t.Actor),
			Data:          data,
			OccurredAt:    t.At,
		})
		return err
	})
}

func actorRef(actor *string) *outbox.ActorRef {
	if actor == nil || *actor == "" {
		return nil
	}
	return &outbox.ActorRef{ID: *actor}
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) StatusChanged(context.Context, Transition) error { return nil }

func (NopNotifier) Canceled(context.Context, Cancellation) error { return nil }
