package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/internal/inventory"
	"github.com/angelmondragon/stockledger/internal/orders"
	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

type reserver interface {
	ReserveTx(ctx context.Context, tx *gorm.DB, in inventory.ReserveInput) (*models.StockReservation, error)
}

type orderCreator interface {
	CreateTx(ctx context.Context, tx *gorm.DB, input orders.CreateInput) (*models.Order, error)
}

// Service places orders against reserved stock.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
}

// PlaceOrderLine is one requested product line.
type PlaceOrderLine struct {
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
}

// PlaceOrderInput is the checkout request.
type PlaceOrderInput struct {
	SessionID string
	UserID    *string
	PaymentID string
	Items     []PlaceOrderLine
}

type ServiceParams struct {
	DB     db.TxRunner
	Stock  reserver
	Orders orderCreator
	Logger *logger.Logger
}

type service struct {
	tx     db.TxRunner
	stock  reserver
	orders orderCreator
	logg   *logger.Logger
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock reserver required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order creator required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:     params.DB,
		stock:  params.Stock,
		orders: params.Orders,
		logg:   params.Logger,
	}, nil
}

// PlaceOrder reserves every line and records a PENDING order holding the
// reservations. Either all of it commits or none of it does.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		reservationIDs := make([]int64, 0, len(input.Items))
		items := make([]orders.CreateItem, 0, len(input.Items))
		for _, line := range input.Items {
			reservation, err := s.stock.ReserveTx(ctx, tx, inventory.ReserveInput{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				SessionID: input.SessionID,
				UserID:    input.UserID,
			})
			if err != nil {
				return err
			}
			reservationIDs = append(reservationIDs, reservation.ID)
			items = append(items, orders.CreateItem{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Price:     line.Price,
			})
		}

		created, err := s.orders.CreateTx(ctx, tx, orders.CreateInput{
			SessionID:      input.SessionID,
			UserID:         input.UserID,
			PaymentID:      input.PaymentID,
			Items:          items,
			ReservationIDs: reservationIDs,
		})
		if err != nil {
			return err
		}
		order = created
		return nil
	})
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event":      "checkout.place_order",
			"session_id": input.SessionID,
			"payment_id": input.PaymentID,
			"error_code": pkgerrors.CodeOf(err),
		})
		s.logg.Warn(logCtx, "checkout rejected")
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID), map[string]any{
		"event":      "checkout.place_order",
		"session_id": input.SessionID,
		"lines":      len(input.Items),
	})
	s.logg.Info(logCtx, "order placed")
	return order, nil
}

func validateInput(input PlaceOrderInput) error {
	if strings.TrimSpace(input.SessionID) == "" {
		return pkgerrors.NewInvalidOrderData("session_id is required", nil)
	}
	if strings.TrimSpace(input.PaymentID) == "" {
		return pkgerrors.NewInvalidOrderData("payment_id is required", nil)
	}
	if len(input.Items) == 0 {
		return pkgerrors.NewInvalidOrderData("checkout requires at least one item", nil)
	}
	for i, line := range input.Items {
		switch {
		case line.ProductID <= 0:
			return pkgerrors.NewInvalidOrderData("product_id is required", map[string]any{"line": i})
		case line.Quantity <= 0:
			return pkgerrors.NewInvalidOrderData("quantity must be positive", map[string]any{"line": i, "quantity": line.Quantity})
		case line.Price.IsNegative():
			return pkgerrors.NewInvalidOrderData("price must not be negative", map[string]any{"line": i, "price": line.Price.String()})
		}
	}
	return nil
}
