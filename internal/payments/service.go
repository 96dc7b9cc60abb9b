// Package payments applies payment gateway outcomes to orders and converts
// their stock reservations into sales.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/internal/inventory"
	"github.com/angelmondragon/stockledger/internal/orders"
	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

// ReservationConverter turns one reservation into a sale without failing on
// replays.
type ReservationConverter interface {
	ConvertReservationTx(ctx context.Context, tx *gorm.DB, reservationID, orderID int64) (inventory.ConversionResult, error)
	ObserveConversion(ctx context.Context, orderID int64, result inventory.ConversionResult)
}

type ServiceParams struct {
	DB              db.TxRunner
	Orders          orders.Service
	OrderRepository orders.Repository
	Stock           ReservationConverter
	Logger          *logger.Logger
	Clock           func() time.Time
}

type Service struct {
	db     db.TxRunner
	orders orders.Service
	repo   orders.Repository
	stock  ReservationConverter
	logg   *logger.Logger
	clock  func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.OrderRepository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("reservation converter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		clock:  clock,
		db:     params.DB,
		orders: params.Orders,
		repo:   params.OrderRepository,
		stock:  params.Stock,
		logg:   params.Logger,
	}, nil
}

// HandlePaymentSucceeded marks the payment COMPLETED, advances a PENDING
// order to PROCESSING and converts its reservations. Unknown payment ids
// return nil, nil. Replays are safe: reservations already converted for
// this order are skipped.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, paymentID string) (*models.Order, error) {
	var transition *orders.Transition
	order, err := s.applyPaymentStatus(ctx, paymentID, enums.PaymentStatusCompleted, func(tx *gorm.DB, order *models.Order) error {
		if order.Status != enums.OrderStatusPending {
			return nil
		}
		updated, t, err := s.orders.UpdateStatusTx(ctx, tx, order.ID, enums.OrderStatusProcessing, nil)
		if err != nil {
			return err
		}
		order.Status = updated.Status
		transition = t
		return nil
	})
	if err != nil || order == nil {
		return nil, err
	}
	s.orders.NotifyTransition(ctx, transition)

	if order.Status == enums.OrderStatusProcessing {
		if err := s.convertReservations(ctx, order); err != nil {
			return nil, err
		}
	}
	return s.orders.Get(ctx, order.ID)
}

// HandlePaymentFailed records the failure only. The order keeps its status
// and its reservations lapse on their own.
func (s *Service) HandlePaymentFailed(ctx context.Context, paymentID string) (*models.Order, error) {
	order, err := s.applyPaymentStatus(ctx, paymentID, enums.PaymentStatusFailed, nil)
	if err != nil || order == nil {
		return nil, err
	}
	return s.orders.Get(ctx, order.ID)
}

func (s *Service) applyPaymentStatus(ctx context.Context, paymentID string, status enums.PaymentStatus, then func(tx *gorm.DB, order *models.Order) error) (*models.Order, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, pkgerrors.NewInvalidOrderData("payment_id is required", nil)
	}
	var order *models.Order
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		found, err := repo.LockByPaymentID(ctx, paymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order by payment")
		}
		if err := repo.UpdatePaymentStatus(ctx, found.ID, status, s.clock().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		found.PaymentStatus = status
		if then != nil {
			if err := then(tx, found); err != nil {
				return err
			}
		}
		order = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event":          "payment.status",
		"payment_id":     paymentID,
		"payment_status": status,
	})
	if order == nil {
		s.logg.Warn(logCtx, "payment event for unknown order ignored")
		return nil, nil
	}
	s.logg.Info(s.logg.WithOrderID(logCtx, order.ID), "payment status applied")
	return order, nil
}

// convertReservations converts each reservation in its own transaction
// holding the order row lock, so a cancellation that commits first stops
// the remaining conversions.
func (s *Service) convertReservations(ctx context.Context, order *models.Order) error {
	ids := order.Metadata.StockReservationIDs
	if len(ids) == 0 {
		return nil
	}
	var notes map[string]bool
	for _, id := range ids {
		var (
			result   inventory.ConversionResult
			canceled bool
		)
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			locked, err := s.repo.WithTx(tx).LockForUpdate(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
			}
			if locked.Status == enums.OrderStatusCanceled {
				canceled = true
				return nil
			}
			result, err = s.stock.ConvertReservationTx(ctx, tx, id, order.ID)
			return err
		})
		if err != nil {
			return err
		}
		if canceled {
			s.logg.Warn(s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID), map[string]any{
				"event":          "payment.conversion_stopped",
				"reservation_id": id,
			}), "order canceled during conversion")
			return nil
		}
		s.stock.ObserveConversion(ctx, order.ID, result)

		var note string
		switch result.Outcome {
		case inventory.ConvertedLate:
			note = fmt.Sprintf("reservation %d sold after its hold expired", id)
		case inventory.Lapsed:
			note = fmt.Sprintf("reservation %d not converted: %s", id, result.Reason)
		default:
			continue
		}

		if notes == nil {
			if notes, err = s.existingNotes(ctx, order.ID); err != nil {
				return err
			}
		}
		if notes[note] {
			continue
		}
		if err := s.orders.AddNote(ctx, order.ID, note, nil); err != nil {
			return err
		}
		notes[note] = true
	}
	return nil
}

func (s *Service) existingNotes(ctx context.Context, orderID int64) (map[string]bool, error) {
	history, err := s.repo.ListHistory(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order history")
	}
	notes := make(map[string]bool, len(history))
	for _, entry := range history {
		if entry.Kind == enums.OrderHistoryNote {
			notes[entry.Note] = true
		}
	}
	return notes, nil
}
