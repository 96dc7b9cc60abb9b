package checkout

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/stockledger/internal/inventory"
	"github.com/angelmondragon/stockledger/internal/orders"
	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/dbtest"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

type checkoutFixture struct {
	client  *db.Client
	stock   *inventory.Manager
	orders  orders.Service
	service Service
}

func newCheckoutFixture(t *testing.T) checkoutFixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})
	now := time.Date(2026, 7, 14, 8, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	stock, err := inventory.NewManager(inventory.ManagerParams{
		DB:         client,
		Repository: inventory.NewRepository(client.DB()),
		Logger:     logg,
		Clock:      clock,
	})
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		DB:         client,
		Repository: orders.NewRepository(client.DB()),
		Stock:      stock,
		Logger:     logg,
		Clock:      clock,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{DB: client, Stock: stock, Orders: orderSvc, Logger: logg})
	require.NoError(t, err)
	return checkoutFixture{client: client, stock: stock, orders: orderSvc, service: svc}
}

func (f checkoutFixture) available(t *testing.T, productID int64) int {
	t.Helper()
	n, err := f.stock.AvailableStock(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func TestPlaceOrderReservesEveryLine(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	apples := dbtest.SeedProduct(t, f.client, 10)
	pears := dbtest.SeedProduct(t, f.client, 6)
	user := "user-3"

	order, err := f.service.PlaceOrder(ctx, PlaceOrderInput{
		SessionID: "sess-a",
		UserID:    &user,
		PaymentID: "pay_a",
		Items: []PlaceOrderLine{
			{ProductID: apples.ID, Quantity: 4, Price: decimal.RequireFromString("1.25")},
			{ProductID: pears.ID, Quantity: 6, Price: decimal.RequireFromString("0.80")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	require.Len(t, order.Metadata.StockReservationIDs, 2)

	assert.Equal(t, 6, f.available(t, apples.ID))
	assert.Equal(t, 0, f.available(t, pears.ID))

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	for _, id := range stored.Metadata.StockReservationIDs {
		reservation, err := f.stock.Reservation(ctx, id)
		require.NoError(t, err)
		assert.False(t, reservation.Consumed)
		assert.Equal(t, "sess-a", reservation.SessionID)
	}
}

func TestPlaceOrderRollsBackOnShortLine(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	plenty := dbtest.SeedProduct(t, f.client, 50)
	scarce := dbtest.SeedProduct(t, f.client, 2)

	_, err := f.service.PlaceOrder(ctx, PlaceOrderInput{
		SessionID: "sess-b",
		PaymentID: "pay_b",
		Items: []PlaceOrderLine{
			{ProductID: plenty.ID, Quantity: 5, Price: decimal.NewFromInt(3)},
			{ProductID: scarce.ID, Quantity: 3, Price: decimal.NewFromInt(9)},
		},
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeInsufficientStock, pkgerrors.CodeOf(err))
	details, ok := pkgerrors.As(err).Details().(pkgerrors.InsufficientStockDetails)
	require.True(t, ok)
	assert.Equal(t, scarce.ID, details.ProductID)
	assert.Equal(t, 2, details.Available)
	assert.Equal(t, 3, details.Requested)

	assert.Equal(t, 50, f.available(t, plenty.ID))
	assert.Equal(t, 2, f.available(t, scarce.ID))

	var reservations int64
	require.NoError(t, f.client.DB().Model(&models.StockReservation{}).Count(&reservations).Error)
	assert.Zero(t, reservations)
	var placed int64
	require.NoError(t, f.client.DB().Model(&models.Order{}).Count(&placed).Error)
	assert.Zero(t, placed)
}

func TestPlaceOrderDuplicatePaymentIDRollsBackReservations(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 10)
	input := PlaceOrderInput{
		SessionID: "sess-c",
		PaymentID: "pay_dup",
		Items:     []PlaceOrderLine{{ProductID: product.ID, Quantity: 2, Price: decimal.NewFromInt(1)}},
	}

	_, err := f.service.PlaceOrder(ctx, input)
	require.NoError(t, err)
	_, err = f.service.PlaceOrder(ctx, input)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.Equal(t, 8, f.available(t, product.ID))
}

func TestPlaceOrderValidatesLines(t *testing.T) {
	f := newCheckoutFixture(t)
	product := dbtest.SeedProduct(t, f.client, 10)

	cases := map[string]PlaceOrderInput{
		"missing session": {PaymentID: "p", Items: []PlaceOrderLine{{ProductID: product.ID, Quantity: 1}}},
		"missing payment": {SessionID: "s", Items: []PlaceOrderLine{{ProductID: product.ID, Quantity: 1}}},
		"no items":        {SessionID: "s", PaymentID: "p"},
		"zero quantity":   {SessionID: "s", PaymentID: "p", Items: []PlaceOrderLine{{ProductID: product.ID}}},
		"missing product": {SessionID: "s", PaymentID: "p", Items: []PlaceOrderLine{{Quantity: 1}}},
		"negative price": {SessionID: "s", PaymentID: "p", Items: []PlaceOrderLine{
			{ProductID: product.ID, Quantity: 1, Price: decimal.NewFromInt(-1)},
		}},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.PlaceOrder(context.Background(), input)
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}
	assert.Equal(t, 10, f.available(t, product.ID))
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.service.PlaceOrder(context.Background(), PlaceOrderInput{
		SessionID: "s",
		PaymentID: "p",
		Items:     []PlaceOrderLine{{ProductID: 9999, Quantity: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeProductNotFound, pkgerrors.CodeOf(err))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
