package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/internal/inventory"
	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

const restockReason = "order canceled"

// StockRestorer is the slice of the stock manager cancellation needs.
type StockRestorer interface {
	Increment(ctx context.Context, in inventory.AdjustInput) (*models.StockLog, error)
	Release(ctx context.Context, reservationID int64, performedBy *string) error
	Reservation(ctx context.Context, reservationID int64) (*models.StockReservation, error)
	ReservationsByOrder(ctx context.Context, orderID int64) ([]models.StockReservation, error)
}

// Service defines the order lifecycle operations.
type Service interface {
	CreateTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, orderID int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status enums.OrderStatus, actor *string) (*models.Order, error)
	UpdateStatusTx(ctx context.Context, tx *gorm.DB, orderID int64, status enums.OrderStatus, actor *string) (*models.Order, *Transition, error)
	NotifyTransition(ctx context.Context, t *Transition)
	CancelOrder(ctx context.Context, orderID int64, input CancelInput) (*models.Order, error)
	AddNote(ctx context.Context, orderID int64, note string, createdBy *string) error
	AddNoteTx(ctx context.Context, tx *gorm.DB, orderID int64, note string, createdBy *string) error
}

// CreateItem is one purchased line.
type CreateItem struct {
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
}

// CreateInput carries everything needed to persist a new PENDING order.
type CreateInput struct {
	SessionID      string
	UserID         *string
	PaymentID      string
	Items          []CreateItem
	ReservationIDs []int64
}

// CancelInput explains a cancellation.
type CancelInput struct {
	Reason     string
	CanceledBy *string
}

// ServiceParams configure the order service.
type ServiceParams struct {
	DB         db.TxRunner
	Repository Repository
	Stock      StockRestorer
	Notifier   Notifier
	Logger     *logger.Logger
	Clock      func() time.Time
}

type service struct {
	db       db.TxRunner
	repo     Repository
	stock    StockRestorer
	notifier Notifier
	logg     *logger.Logger
	clock    func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock restorer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		db:       params.DB,
		repo:     params.Repository,
		stock:    params.Stock,
		notifier: notifier,
		logg:     params.Logger,
		clock:    clock,
	}, nil
}

func (s *service) now() time.Time {
	return s.clock().UTC()
}

func (s *service) CreateTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Order, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return nil, pkgerrors.NewInvalidOrderData("session_id is required", nil)
	}
	if strings.TrimSpace(input.PaymentID) == "" {
		return nil, pkgerrors.NewInvalidOrderData("payment_id is required", nil)
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.NewInvalidOrderData("order requires at least one item", nil)
	}
	now := s.now()
	order := &models.Order{
		SessionID:       input.SessionID,
		UserID:          input.UserID,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.PaymentStatusPending,
		PaymentID:       input.PaymentID,
		StatusUpdatedAt: now,
		Metadata:        models.OrderMetadata{StockReservationIDs: input.ReservationIDs},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, item := range input.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			CreatedAt: now,
		})
	}
	repo := s.repo.WithTx(tx)
	if err := repo.Create(ctx, order); err != nil {
		if db.IsUniqueViolation(err, "ux_orders_payment_id") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "an order already exists for this payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	if err := s.appendNote(ctx, repo, order.ID, "order created", input.UserID, now); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(orderID, err, "load order")
	}
	return order, nil
}

// UpdateStatus moves the order to status in its own transaction and queues a
// notification once it commits. Moving to the current status is a no-op.
func (s *service) UpdateStatus(ctx context.Context, orderID int64, status enums.OrderStatus, actor *string) (*models.Order, error) {
	var (
		order      *models.Order
		transition *Transition
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, transition, err = s.UpdateStatusTx(ctx, tx, orderID, status, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.NotifyTransition(ctx, transition)
	return order, nil
}

// UpdateStatusTx validates and applies a transition inside tx. The returned
// transition is nil when nothing changed; callers pass it to NotifyTransition
// after commit.
func (s *service) UpdateStatusTx(ctx context.Context, tx *gorm.DB, orderID int64, status enums.OrderStatus, actor *string) (*models.Order, *Transition, error) {
	if !status.IsValid() {
		return nil, nil, pkgerrors.NewInvalidOrderData("unknown order status", map[string]any{"status": status})
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.LockForUpdate(ctx, orderID)
	if err != nil {
		return nil, nil, mapOrderErr(orderID, err, "lock order")
	}
	if order.Status == status {
		logCtx := s.logg.WithOrderID(ctx, orderID)
		s.logg.Info(s.logg.WithField(logCtx, "status", status), "order already in requested status")
		return order, nil, nil
	}
	if !CanTransition(order.Status, status) {
		return nil, nil, pkgerrors.NewInvalidTransition(string(order.Status), string(status), statusStrings(AllowedTransitions(order.Status)))
	}
	transition, err := s.applyTransition(ctx, repo, order, status, actor)
	if err != nil {
		return nil, nil, err
	}
	return order, transition, nil
}

func (s *service) applyTransition(ctx context.Context, repo Repository, order *models.Order, status enums.OrderStatus, actor *string) (*Transition, error) {
	now := s.now()
	previous := order.Status
	if err := repo.UpdateStatus(ctx, order.ID, status, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	entry := &models.OrderHistory{
		OrderID:       order.ID,
		Kind:          enums.OrderHistoryStatusChange,
		PreviousValue: map[string]any{"status": string(previous)},
		NewValue:      map[string]any{"status": string(status)},
		CreatedBy:     actor,
		CreatedAt:     now,
	}
	if err := repo.AppendHistory(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order history")
	}
	order.Status = status
	order.StatusUpdatedAt = now
	order.UpdatedAt = now
	return &Transition{
		OrderID:   order.ID,
		SessionID: order.SessionID,
		UserID:    order.UserID,
		From:      previous,
		To:        status,
		Actor:     actor,
		At:        now,
	}, nil
}

func (s *service) NotifyTransition(ctx context.Context, t *Transition) {
	if t == nil {
		return
	}
	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, t.OrderID), map[string]any{
		"event": "order.status_changed",
		"from":  t.From,
		"to":    t.To,
	})
	s.logg.Info(logCtx, "order status changed")
	if err := s.notifier.StatusChanged(ctx, *t); err != nil {
		s.logg.Error(logCtx, "order status notification failed", err)
	}
}

// CancelOrder cancels a PENDING or PROCESSING order, then restores stock on a
// best-effort basis. Restoration failures never undo the cancellation.
func (s *service) CancelOrder(ctx context.Context, orderID int64, input CancelInput) (*models.Order, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "canceled"
	}
	var (
		order      *models.Order
		transition *Transition
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = repo.LockForUpdate(ctx, orderID)
		if err != nil {
			return mapOrderErr(orderID, err, "lock order")
		}
		if !CanCancel(order.Status) {
			return pkgerrors.NewCancellationError(orderID, fmt.Sprintf("order is %s", order.Status))
		}
		transition, err = s.applyTransition(ctx, repo, order, enums.OrderStatusCanceled, input.CanceledBy)
		if err != nil {
			return err
		}
		order.Metadata.Cancellation = &models.OrderCancellation{
			Reason:     reason,
			CanceledBy: input.CanceledBy,
			CanceledAt: transition.At,
		}
		if err := repo.UpdateMetadata(ctx, orderID, order.Metadata, transition.At); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store cancellation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, orderID), map[string]any{
		"event":  "order.canceled",
		"from":   transition.From,
		"reason": reason,
	})
	s.logg.Info(logCtx, "order canceled")

	s.restoreStock(ctx, order)

	if err := s.notifier.Canceled(ctx, Cancellation{Transition: *transition, Reason: reason}); err != nil {
		s.logg.Error(logCtx, "order cancellation notification failed", err)
	}
	return order, nil
}

// restoreStock gives back what the order took. Converted reservations are
// restocked, still-active holds are released, and orders placed without
// reservations restock their items. Each step is its own transaction.
func (s *service) restoreStock(ctx context.Context, order *models.Order) {
	var (
		errs     error
		restored int
		released int
	)
	orderID := order.ID
	restock := func(productID int64, quantity int) {
		_, err := s.stock.Increment(ctx, inventory.AdjustInput{
			ProductID:   productID,
			Quantity:    quantity,
			OrderID:     &orderID,
			Reason:      restockReason,
			PerformedBy: order.Metadata.Cancellation.CanceledBy,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restock product %d: %w", productID, err))
			return
		}
		restored++
	}

	ids := order.Metadata.StockReservationIDs
	if len(ids) == 0 {
		items := order.Items
		if items == nil {
			loaded, err := s.repo.FindByID(ctx, orderID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("load order items: %w", err))
			} else {
				items = loaded.Items
			}
		}
		for _, item := range items {
			restock(item.ProductID, item.Quantity)
		}
	} else {
		converted, err := s.stock.ReservationsByOrder(ctx, orderID)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		sold := make(map[int64]bool, len(converted))
		for _, reservation := range converted {
			sold[reservation.ID] = true
			restock(reservation.ProductID, reservation.Quantity)
		}
		now := s.now()
		for _, id := range ids {
			if sold[id] {
				continue
			}
			reservation, err := s.stock.Reservation(ctx, id)
			if err != nil {
				if reason, ok := pkgerrors.ReservationReasonOf(err); ok && reason == pkgerrors.ReservationNotFound {
					continue
				}
				errs = multierr.Append(errs, fmt.Errorf("load reservation %d: %w", id, err))
				continue
			}
			if soldTo(reservation, orderID) {
				restock(reservation.ProductID, reservation.Quantity)
				continue
			}
			if !reservation.IsActive(now) {
				continue
			}
			if err := s.stock.Release(ctx, id, order.Metadata.Cancellation.CanceledBy); err != nil {
				// A payment conversion can commit between the read and the release.
				if reason, ok := pkgerrors.ReservationReasonOf(err); ok && reason == pkgerrors.ReservationAlreadyConsumed {
					if reloaded, lerr := s.stock.Reservation(ctx, id); lerr == nil && soldTo(reloaded, orderID) {
						restock(reloaded.ProductID, reloaded.Quantity)
						continue
					}
				}
				errs = multierr.Append(errs, fmt.Errorf("release reservation %d: %w", id, err))
				continue
			}
			released++
		}
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, orderID), map[string]any{
		"event":    "order.stock_restore",
		"restored": restored,
		"released": released,
	})
	if errs == nil {
		s.logg.Info(logCtx, "order stock restored")
		return
	}
	failures := multierr.Errors(errs)
	s.logg.Error(s.logg.WithField(logCtx, "failures", len(failures)), "order stock restoration incomplete", errs)
	note := fmt.Sprintf("stock restoration incomplete (%d failed): %s", len(failures), errs.Error())
	if err := s.AddNote(ctx, orderID, note, nil); err != nil {
		s.logg.Error(logCtx, "failed to record stock restoration note", err)
	}
}

func soldTo(reservation *models.StockReservation, orderID int64) bool {
	return reservation.Consumed && reservation.OrderID != nil && *reservation.OrderID == orderID
}

func (s *service) AddNote(ctx context.Context, orderID int64, note string, createdBy *string) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.AddNoteTx(ctx, tx, orderID, note, createdBy)
	})
}

func (s *service) AddNoteTx(ctx context.Context, tx *gorm.DB, orderID int64, note string, createdBy *string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return pkgerrors.NewInvalidOrderData("note is required", nil)
	}
	return s.appendNote(ctx, s.repo.WithTx(tx), orderID, note, createdBy, s.now())
}

func (s *service) appendNote(ctx context.Context, repo Repository, orderID int64, note string, createdBy *string, now time.Time) error {
	entry := &models.OrderHistory{
		OrderID:   orderID,
		Kind:      enums.OrderHistoryNote,
		Note:      note,
		CreatedBy: createdBy,
		CreatedAt: now,
	}
	if err := repo.AppendHistory(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order note")
	}
	return nil
}

func mapOrderErr(orderID int64, err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("order %d not found", orderID))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
