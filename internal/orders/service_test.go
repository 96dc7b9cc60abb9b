package orders

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/internal/inventory"
	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/dbtest"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/outbox"
)

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu          sync.Mutex
	transitions []Transition
	cancels     []Cancellation
	err         error
}

func (n *recordingNotifier) StatusChanged(_ context.Context, t Transition) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitions = append(n.transitions, t)
	return n.err
}

func (n *recordingNotifier) Canceled(_ context.Context, c Cancellation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancels = append(n.cancels, c)
	return n.err
}

type ordersFixture struct {
	client   *db.Client
	stock    *inventory.Manager
	service  Service
	notifier *recordingNotifier
}

func newOrdersFixture(t *testing.T) ordersFixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	clock := func() time.Time { return testNow }
	stock, err := inventory.NewManager(inventory.ManagerParams{
		DB:         client,
		Repository: inventory.NewRepository(client.DB()),
		Logger:     logg,
		Clock:      clock,
	})
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	svc, err := NewService(ServiceParams{
		DB:         client,
		Repository: NewRepository(client.DB()),
		Stock:      stock,
		Notifier:   notifier,
		Logger:     logg,
		Clock:      clock,
	})
	require.NoError(t, err)
	return ordersFixture{client: client, stock: stock, service: svc, notifier: notifier}
}

// seedOrder writes an order directly in the given status.
func (f ordersFixture) seedOrder(t *testing.T, status enums.OrderStatus, reservationIDs []int64, items ...models.OrderItem) *models.Order {
	t.Helper()
	order := &models.Order{
		SessionID:       "sess-" + uuid.NewString()[:8],
		Status:          status,
		PaymentStatus:   enums.PaymentStatusPending,
		PaymentID:       "pay_" + uuid.NewString(),
		StatusUpdatedAt: testNow,
		Metadata:        models.OrderMetadata{StockReservationIDs: reservationIDs},
		Items:           items,
	}
	require.NoError(t, NewRepository(f.client.DB()).Create(context.Background(), order))
	return order
}

func (f ordersFixture) history(t *testing.T, orderID int64) []models.OrderHistory {
	t.Helper()
	rows, err := NewRepository(f.client.DB()).ListHistory(context.Background(), orderID)
	require.NoError(t, err)
	return rows
}

func (f ordersFixture) stockOf(t *testing.T, productID int64) int {
	t.Helper()
	var product models.Product
	require.NoError(t, f.client.DB().First(&product, productID).Error)
	return product.Stock
}

func TestCreateTxPersistsPendingOrder(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	user := "user-9"

	var created *models.Order
	err := f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = f.service.CreateTx(ctx, tx, CreateInput{
			SessionID:      "sess-1",
			UserID:         &user,
			PaymentID:      "pay_1",
			Items:          []CreateItem{{ProductID: 3, Quantity: 2, Price: decimal.RequireFromString("19.99")}},
			ReservationIDs: []int64{11},
		})
		return err
	})
	require.NoError(t, err)

	order, err := f.service.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, []int64{11}, order.Metadata.StockReservationIDs)
	require.Len(t, order.Items, 1)
	assert.True(t, decimal.RequireFromString("39.98").Equal(order.Items[0].LineTotal()))
	require.Len(t, order.History, 1)
	assert.Equal(t, enums.OrderHistoryNote, order.History[0].Kind)

	err = f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.service.CreateTx(ctx, tx, CreateInput{
			SessionID: "sess-2",
			PaymentID: "pay_1",
			Items:     []CreateItem{{ProductID: 3, Quantity: 1, Price: decimal.NewFromInt(1)}},
		})
		return err
	})
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}

func TestCreateTxValidatesInput(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	cases := []CreateInput{
		{PaymentID: "p", Items: []CreateItem{{ProductID: 1, Quantity: 1}}},
		{SessionID: "s", Items: []CreateItem{{ProductID: 1, Quantity: 1}}},
		{SessionID: "s", PaymentID: "p"},
	}
	for _, in := range cases {
		_, err := f.service.CreateTx(ctx, f.client.DB(), in)
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	}
}

func TestUpdateStatusRecordsHistoryAndNotifies(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusPending, nil)
	actor := "ops-1"

	updated, err := f.service.UpdateStatus(ctx, order.ID, enums.OrderStatusProcessing, &actor)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, updated.Status)

	rows := f.history(t, order.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.OrderHistoryStatusChange, rows[0].Kind)
	assert.Equal(t, "PENDING", rows[0].PreviousValue["status"])
	assert.Equal(t, "PROCESSING", rows[0].NewValue["status"])
	require.NotNil(t, rows[0].CreatedBy)
	assert.Equal(t, actor, *rows[0].CreatedBy)

	require.Len(t, f.notifier.transitions, 1)
	assert.Equal(t, enums.OrderStatusPending, f.notifier.transitions[0].From)
	assert.Equal(t, enums.OrderStatusProcessing, f.notifier.transitions[0].To)
}

func TestUpdateStatusSameStatusIsNoop(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedOrder(t, enums.OrderStatusShipped, nil)

	updated, err := f.service.UpdateStatus(context.Background(), order.ID, enums.OrderStatusShipped, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, updated.Status)
	assert.Empty(t, f.history(t, order.ID))
	assert.Empty(t, f.notifier.transitions)
}

func TestUpdateStatusSafetyOverAllPairs(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()

	for _, from := range enums.OrderStatuses() {
		for _, to := range enums.OrderStatuses() {
			if from == to {
				continue
			}
			order := f.seedOrder(t, from, nil)
			_, err := f.service.UpdateStatus(ctx, order.ID, to, nil)

			stored, getErr := f.service.Get(ctx, order.ID)
			require.NoError(t, getErr)
			if CanTransition(from, to) {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, stored.Status)
				assert.Len(t, stored.History, 1)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.Equal(t, pkgerrors.CodeInvalidStatusTransition, pkgerrors.CodeOf(err))
			details, ok := pkgerrors.As(err).Details().(pkgerrors.InvalidTransitionDetails)
			require.True(t, ok)
			assert.Equal(t, string(from), details.CurrentStatus)
			assert.Equal(t, string(to), details.NewStatus)
			assert.Equal(t, statusStrings(AllowedTransitions(from)), details.Allowed)
			assert.Equal(t, from, stored.Status)
			assert.Empty(t, stored.History)
		}
	}
}

func TestUpdateStatusUnknownOrder(t *testing.T) {
	f := newOrdersFixture(t)
	_, err := f.service.UpdateStatus(context.Background(), 404, enums.OrderStatusProcessing, nil)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = f.service.UpdateStatus(context.Background(), 404, enums.OrderStatus("LOST"), nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	f := newOrdersFixture(t)
	f.notifier.err = errors.New("broker down")
	order := f.seedOrder(t, enums.OrderStatusPending, nil)

	_, err := f.service.UpdateStatus(context.Background(), order.ID, enums.OrderStatusProcessing, nil)
	require.NoError(t, err)

	stored, err := f.service.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, stored.Status)
}

func TestCancelOrderReleasesActiveReservations(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 10)
	reservation, err := f.stock.Reserve(ctx, inventory.ReserveInput{ProductID: product.ID, Quantity: 4, SessionID: "s"})
	require.NoError(t, err)
	order := f.seedOrder(t, enums.OrderStatusPending, []int64{reservation.ID})
	actor := "user-1"

	canceled, err := f.service.CancelOrder(ctx, order.ID, CancelInput{Reason: "changed mind", CanceledBy: &actor})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, canceled.Status)

	stored, err := f.service.Get(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Metadata.Cancellation)
	assert.Equal(t, "changed mind", stored.Metadata.Cancellation.Reason)
	require.NotNil(t, stored.Metadata.Cancellation.CanceledBy)
	assert.Equal(t, actor, *stored.Metadata.Cancellation.CanceledBy)
	assert.Equal(t, []int64{reservation.ID}, stored.Metadata.StockReservationIDs)

	held, err := f.stock.Reservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.True(t, held.Consumed)
	available, err := f.stock.AvailableStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, available)
	assert.Equal(t, 10, f.stockOf(t, product.ID))

	require.Len(t, f.notifier.cancels, 1)
	assert.Equal(t, "changed mind", f.notifier.cancels[0].Reason)
	assert.Equal(t, enums.OrderStatusPending, f.notifier.cancels[0].From)
}

func TestCancelOrderRestocksConvertedReservations(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 10)
	reservation, err := f.stock.Reserve(ctx, inventory.ReserveInput{ProductID: product.ID, Quantity: 3, SessionID: "s"})
	require.NoError(t, err)
	order := f.seedOrder(t, enums.OrderStatusProcessing, []int64{reservation.ID})
	require.NoError(t, f.stock.ConvertToSale(ctx, reservation.ID, order.ID))
	require.Equal(t, 7, f.stockOf(t, product.ID))

	_, err = f.service.CancelOrder(ctx, order.ID, CancelInput{Reason: "out of area"})
	require.NoError(t, err)
	assert.Equal(t, 10, f.stockOf(t, product.ID))

	logs, err := f.stock.Logs(ctx, product.ID)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	assert.Equal(t, enums.StockOperationIncrement, last.OperationType)
	assert.Equal(t, restockReason, last.Reason)
	require.NotNil(t, last.OrderID)
	assert.Equal(t, order.ID, *last.OrderID)
}

func TestCancelOrderWithoutReservationsRestocksItems(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 2)
	order := f.seedOrder(t, enums.OrderStatusPending, nil, models.OrderItem{
		ProductID: product.ID,
		Quantity:  5,
		Price:     decimal.NewFromInt(3),
	})

	_, err := f.service.CancelOrder(ctx, order.ID, CancelInput{Reason: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, 7, f.stockOf(t, product.ID))
}

func TestCancelOrderRejectsLateStatuses(t *testing.T) {
	f := newOrdersFixture(t)
	for _, status := range []enums.OrderStatus{
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
		enums.OrderStatusCompleted,
		enums.OrderStatusCanceled,
		enums.OrderStatusReturned,
		enums.OrderStatusRefunded,
	} {
		order := f.seedOrder(t, status, nil)
		_, err := f.service.CancelOrder(context.Background(), order.ID, CancelInput{Reason: "late"})
		require.Error(t, err)
		assert.Equal(t, pkgerrors.CodeOrderCancellation, pkgerrors.CodeOf(err))
		details, ok := pkgerrors.As(err).Details().(pkgerrors.CancellationDetails)
		require.True(t, ok)
		assert.Equal(t, order.ID, details.OrderID)
		assert.Empty(t, f.history(t, order.ID))
	}
}

type failingRestorer struct{}

func (failingRestorer) Increment(context.Context, inventory.AdjustInput) (*models.StockLog, error) {
	return nil, errors.New("increment unavailable")
}

func (failingRestorer) Release(context.Context, int64, *string) error {
	return errors.New("release unavailable")
}

func (failingRestorer) Reservation(_ context.Context, id int64) (*models.StockReservation, error) {
	return &models.StockReservation{ID: id, ProductID: 1, Quantity: 1, ExpiresAt: testNow.Add(time.Hour)}, nil
}

func (failingRestorer) ReservationsByOrder(context.Context, int64) ([]models.StockReservation, error) {
	return []models.StockReservation{{ID: 1, ProductID: 1, Quantity: 2}}, nil
}

func TestCancelOrderSurvivesRestorationFailures(t *testing.T) {
	client := dbtest.Open(t)
	svc, err := NewService(ServiceParams{
		DB:         client,
		Repository: NewRepository(client.DB()),
		Stock:      failingRestorer{},
		Logger:     logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard}),
		Clock:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	f := ordersFixture{client: client, service: svc}
	order := f.seedOrder(t, enums.OrderStatusProcessing, []int64{1, 2})

	canceled, err := svc.CancelOrder(context.Background(), order.ID, CancelInput{Reason: "fraud"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, canceled.Status)

	rows := f.history(t, order.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.OrderHistoryStatusChange, rows[0].Kind)
	assert.Equal(t, enums.OrderHistoryNote, rows[1].Kind)
	assert.True(t, strings.Contains(rows[1].Note, "2 failed"), rows[1].Note)
}

// racingRestorer commits a payment conversion for the order at a chosen
// point of the cancellation's stock restoration.
type racingRestorer struct {
	*inventory.Manager
	t             *testing.T
	orderID       int64
	reservationID int64
	afterScan     bool
	converted     bool
}

func (r *racingRestorer) convert(ctx context.Context, reservationID int64) {
	if r.converted {
		return
	}
	r.converted = true
	result, err := r.Manager.ConvertReservation(ctx, reservationID, r.orderID)
	require.NoError(r.t, err)
	require.Equal(r.t, inventory.Converted, result.Outcome)
}

func (r *racingRestorer) ReservationsByOrder(ctx context.Context, orderID int64) ([]models.StockReservation, error) {
	rows, err := r.Manager.ReservationsByOrder(ctx, orderID)
	if r.afterScan {
		r.convert(ctx, r.reservationID)
	}
	return rows, err
}

func (r *racingRestorer) Reservation(ctx context.Context, reservationID int64) (*models.StockReservation, error) {
	snapshot, err := r.Manager.Reservation(ctx, reservationID)
	if !r.afterScan {
		r.convert(ctx, reservationID)
	}
	return snapshot, err
}

func TestCancelOrderRestocksConversionThatRacesRestoration(t *testing.T) {
	for name, afterScan := range map[string]bool{
		"converted between read and release": false,
		"converted between scan and read":    true,
	} {
		t.Run(name, func(t *testing.T) {
			f := newOrdersFixture(t)
			ctx := context.Background()
			product := dbtest.SeedProduct(t, f.client, 10)
			reservation, err := f.stock.Reserve(ctx, inventory.ReserveInput{ProductID: product.ID, Quantity: 4, SessionID: "s"})
			require.NoError(t, err)
			order := f.seedOrder(t, enums.OrderStatusProcessing, []int64{reservation.ID})

			restorer := &racingRestorer{Manager: f.stock, t: t, orderID: order.ID, reservationID: reservation.ID, afterScan: afterScan}
			svc, err := NewService(ServiceParams{
				DB:         f.client,
				Repository: NewRepository(f.client.DB()),
				Stock:      restorer,
				Logger:     logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard}),
				Clock:      func() time.Time { return testNow },
			})
			require.NoError(t, err)

			_, err = svc.CancelOrder(ctx, order.ID, CancelInput{Reason: "buyer request"})
			require.NoError(t, err)
			require.True(t, restorer.converted)

			assert.Equal(t, 10, f.stockOf(t, product.ID))
			for _, row := range f.history(t, order.ID) {
				assert.NotContains(t, row.Note, "restoration incomplete")
			}
			logs, err := f.stock.Logs(ctx, product.ID)
			require.NoError(t, err)
			last := logs[len(logs)-1]
			assert.Equal(t, enums.StockOperationIncrement, last.OperationType)
			assert.Equal(t, 4, last.QuantityDelta)
		})
	}
}

func TestOutboxNotifierQueuesEvents(t *testing.T) {
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	repo := outbox.NewRepository(client.DB())
	notifier, err := NewOutboxNotifier(client, outbox.NewService(repo, logg))
	require.NoError(t, err)
	ctx := context.Background()

	transition := Transition{OrderID: 5, SessionID: "s", From: enums.OrderStatusPending, To: enums.OrderStatusProcessing, At: testNow}
	require.NoError(t, notifier.StatusChanged(ctx, transition))
	transition.To = enums.OrderStatusCanceled
	require.NoError(t, notifier.Canceled(ctx, Cancellation{Transition: transition, Reason: "x"}))

	rows, err := repo.ListByAggregate(ctx, string(enums.AggregateOrder), 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.EventOrderStatusChanged, rows[0].EventType)
	assert.Equal(t, enums.EventOrderCanceled, rows[1].EventType)
}

func TestAddNoteRequiresText(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedOrder(t, enums.OrderStatusPending, nil)
	err := f.service.AddNote(context.Background(), order.ID, "   ", nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	require.NoError(t, f.service.AddNote(context.Background(), order.ID, "called customer", nil))
	assert.Len(t, f.history(t, order.ID), 1)
}
