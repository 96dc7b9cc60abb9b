package inventory

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/dbtest"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "inventory-test", Output: io.Discard})
}

type managerFixture struct {
	client  *db.Client
	manager *Manager
	clock   *testClock
	metrics *metrics.StockMetrics
}

func newManagerFixture(t *testing.T, batchSize int) managerFixture {
	t.Helper()
	client := dbtest.Open(t)
	clock := newTestClock()
	stockMetrics := metrics.NewStockMetrics(prometheus.NewRegistry())
	manager, err := NewManager(ManagerParams{
		DB:               client,
		Repository:       NewRepository(client.DB()),
		Logger:           testLogger(),
		Metrics:          stockMetrics,
		ReservationTTL:   15 * time.Minute,
		CleanupBatchSize: batchSize,
		Clock:            clock.Now,
	})
	require.NoError(t, err)
	return managerFixture{client: client, manager: manager, clock: clock, metrics: stockMetrics}
}

func (f managerFixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	var product models.Product
	require.NoError(t, f.client.DB().First(&product, productID).Error)
	return product.Stock
}

func (f managerFixture) logs(t *testing.T, productID int64) []models.StockLog {
	t.Helper()
	rows, err := f.manager.Logs(context.Background(), productID)
	require.NoError(t, err)
	return rows
}

func (f managerFixture) reserve(t *testing.T, productID int64, qty int) *models.StockReservation {
	t.Helper()
	reservation, err := f.manager.Reserve(context.Background(), ReserveInput{
		ProductID: productID,
		Quantity:  qty,
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	return reservation
}

func countOps(rows []models.StockLog, op enums.StockOperationType) int {
	n := 0
	for _, row := range rows {
		if row.OperationType == op {
			n++
		}
	}
	return n
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := NewManager(ManagerParams{})
	require.Error(t, err)
}

func TestReserveHoldsWithoutTouchingStock(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 10)

	reservation := f.reserve(t, product.ID, 3)

	assert.Equal(t, 3, reservation.Quantity)
	assert.False(t, reservation.Consumed)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), reservation.ExpiresAt.UTC())
	assert.Equal(t, 10, f.stock(t, product.ID))

	available, err := f.manager.AvailableStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, available)

	rows := f.logs(t, product.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.StockOperationReserve, rows[0].OperationType)
	assert.Equal(t, -3, rows[0].QuantityDelta)
	assert.Equal(t, 10, rows[0].StockBefore)
	assert.Equal(t, 10, rows[0].StockAfter)
	require.NotNil(t, rows[0].ReservationID)
	assert.Equal(t, reservation.ID, *rows[0].ReservationID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReservationsCounter(metrics.ReserveOutcomeReserved)))
}

func TestReserveInsufficientStock(t *testing.T) {
	f := newManagerFixture(t, 0)
	product := dbtest.SeedProduct(t, f.client, 5)
	f.reserve(t, product.ID, 4)

	_, err := f.manager.Reserve(context.Background(), ReserveInput{ProductID: product.ID, Quantity: 2, SessionID: "sess-2"})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientStock))

	details, ok := pkgerrors.As(err).Details().(pkgerrors.InsufficientStockDetails)
	require.True(t, ok)
	assert.Equal(t, product.ID, details.ProductID)
	assert.Equal(t, 1, details.Available)
	assert.Equal(t, 2, details.Requested)

	assert.Len(t, f.logs(t, product.ID), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReservationsCounter(metrics.ReserveOutcomeInsufficient)))
}

func TestReserveRejectsInvalidInput(t *testing.T) {
	f := newManagerFixture(t, 0)
	product := dbtest.SeedProduct(t, f.client, 5)
	ctx := context.Background()

	cases := []ReserveInput{
		{ProductID: product.ID, Quantity: 0, SessionID: "s"},
		{ProductID: product.ID, Quantity: -2, SessionID: "s"},
		{ProductID: 0, Quantity: 1, SessionID: "s"},
		{ProductID: product.ID, Quantity: 1, SessionID: "  "},
	}
	for _, in := range cases {
		_, err := f.manager.Reserve(ctx, in)
		require.Error(t, err)
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	}
	assert.Empty(t, f.logs(t, product.ID))
}

func TestReserveUnknownProduct(t *testing.T) {
	f := newManagerFixture(t, 0)
	_, err := f.manager.Reserve(context.Background(), ReserveInput{ProductID: 404, Quantity: 1, SessionID: "s"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeProductNotFound, pkgerrors.CodeOf(err))
}

func TestExpiredReservationStopsCounting(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 4)
	f.reserve(t, product.ID, 4)

	available, err := f.manager.AvailableStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, available)

	f.clock.Advance(16 * time.Minute)

	available, err = f.manager.AvailableStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, available)

	// The lapsed hold no longer blocks a new one even before the reaper runs.
	f.reserve(t, product.ID, 4)
}

func TestReleaseRestoresAvailability(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 10)
	reservation := f.reserve(t, product.ID, 6)

	require.NoError(t, f.manager.Release(ctx, reservation.ID, nil))

	available, err := f.manager.AvailableStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, available)
	assert.Equal(t, 10, f.stock(t, product.ID))

	stored, err := f.manager.Reservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.True(t, stored.Consumed)
	assert.Nil(t, stored.OrderID)

	rows := f.logs(t, product.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.StockOperationRelease, rows[1].OperationType)
	assert.Equal(t, 6, rows[1].QuantityDelta)
	assert.Equal(t, rows[1].StockBefore, rows[1].StockAfter)

	err = f.manager.Release(ctx, reservation.ID, nil)
	reason, ok := pkgerrors.ReservationReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, pkgerrors.ReservationAlreadyConsumed, reason)
}

func TestReleaseUnknownReservation(t *testing.T) {
	f := newManagerFixture(t, 0)
	err := f.manager.Release(context.Background(), 999, nil)
	reason, ok := pkgerrors.ReservationReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, pkgerrors.ReservationNotFound, reason)
}

func TestConvertToSaleDecrementsOnce(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 10)
	reservation := f.reserve(t, product.ID, 4)

	require.NoError(t, f.manager.ConvertToSale(ctx, reservation.ID, 77))

	assert.Equal(t, 6, f.stock(t, product.ID))
	stored, err := f.manager.Reservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.True(t, stored.Consumed)
	require.NotNil(t, stored.OrderID)
	assert.Equal(t, int64(77), *stored.OrderID)

	available, err := f.manager.AvailableStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, available)

	err = f.manager.ConvertToSale(ctx, reservation.ID, 77)
	reason, ok := pkgerrors.ReservationReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, pkgerrors.ReservationAlreadyConsumed, reason)

	rows := f.logs(t, product.ID)
	require.Equal(t, 1, countOps(rows, enums.StockOperationDecrement))
	for _, row := range rows {
		if row.OperationType == enums.StockOperationDecrement {
			assert.True(t, row.Balanced())
			assert.Equal(t, -4, row.QuantityDelta)
			require.NotNil(t, row.OrderID)
			assert.Equal(t, int64(77), *row.OrderID)
		}
	}
	assert.Equal(t, 6, f.stock(t, product.ID))
}

func TestConvertToSaleRejectsExpired(t *testing.T) {
	f := newManagerFixture(t, 0)
	product := dbtest.SeedProduct(t, f.client, 10)
	reservation := f.reserve(t, product.ID, 2)

	f.clock.Advance(15 * time.Minute)

	err := f.manager.ConvertToSale(context.Background(), reservation.ID, 1)
	reason, ok := pkgerrors.ReservationReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, pkgerrors.ReservationExpired, reason)
	assert.Equal(t, 10, f.stock(t, product.ID))
	assert.Zero(t, countOps(f.logs(t, product.ID), enums.StockOperationDecrement))
}

func TestConvertAfterReleaseFails(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 3)
	reservation := f.reserve(t, product.ID, 3)
	require.NoError(t, f.manager.Release(ctx, reservation.ID, nil))

	err := f.manager.ConvertToSale(ctx, reservation.ID, 9)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeReservation, pkgerrors.CodeOf(err))
	assert.Equal(t, 3, f.stock(t, product.ID))
}

func TestDecrementAndIncrement(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 5)
	actor := "admin-1"

	entry, err := f.manager.Decrement(ctx, AdjustInput{ProductID: product.ID, Quantity: 5, Reason: "damaged", PerformedBy: &actor})
	require.NoError(t, err)
	assert.Equal(t, 5, entry.StockBefore)
	assert.Equal(t, 0, entry.StockAfter)
	assert.True(t, entry.Balanced())
	assert.Equal(t, 0, f.stock(t, product.ID))

	_, err = f.manager.Decrement(ctx, AdjustInput{ProductID: product.ID, Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, pkgerrors.CodeOf(err))
	assert.Equal(t, 0, f.stock(t, product.ID))

	entry, err = f.manager.Increment(ctx, AdjustInput{ProductID: product.ID, Quantity: 12, Reason: "restock"})
	require.NoError(t, err)
	assert.Equal(t, 12, entry.QuantityDelta)
	assert.Equal(t, 12, f.stock(t, product.ID))

	_, err = f.manager.Increment(ctx, AdjustInput{ProductID: product.ID, Quantity: 0})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	rows := f.logs(t, product.ID)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row.Balanced())
	}
}

func TestDecrementIgnoresReservations(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 5)
	f.reserve(t, product.ID, 5)

	_, err := f.manager.Decrement(ctx, AdjustInput{ProductID: product.ID, Quantity: 2})
	require.NoError(t, err)

	available, err := f.manager.AvailableStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, available)
}

func TestCleanupExpiredInBatches(t *testing.T) {
	f := newManagerFixture(t, 2)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 100)

	for i := 0; i < 5; i++ {
		f.reserve(t, product.ID, 1)
	}
	f.clock.Advance(20 * time.Minute)
	active := f.reserve(t, product.ID, 3)
	f.clock.Advance(time.Second)

	closed, err := f.manager.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, closed)
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.ReapedCounter()))

	stored, err := f.manager.Reservation(ctx, active.ID)
	require.NoError(t, err)
	assert.False(t, stored.Consumed)

	rows := f.logs(t, product.ID)
	assert.Equal(t, 5, countOps(rows, enums.StockOperationRelease))
	for _, row := range rows {
		if row.OperationType == enums.StockOperationRelease {
			assert.Equal(t, reasonExpired, row.Reason)
		}
	}
	assert.Equal(t, 100, f.stock(t, product.ID))

	closed, err = f.manager.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
}

func TestCleanupSkipsConvertedReservations(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 10)
	sold := f.reserve(t, product.ID, 2)
	require.NoError(t, f.manager.ConvertToSale(ctx, sold.ID, 5))

	f.clock.Advance(time.Hour)
	closed, err := f.manager.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Equal(t, 8, f.stock(t, product.ID))
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	f := newManagerFixture(t, 0)
	product := dbtest.SeedProduct(t, f.client, 5)

	var (
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 12; i++ {
		g.Go(func() error {
			_, err := f.manager.Reserve(ctx, ReserveInput{ProductID: product.ID, Quantity: 1, SessionID: "race"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case pkgerrors.Is(err, pkgerrors.CodeInsufficientStock):
				insufficient++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 7, insufficient)

	available, err := f.manager.AvailableStock(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, available)
}

func TestConcurrentConversionSingleWinner(t *testing.T) {
	f := newManagerFixture(t, 0)
	product := dbtest.SeedProduct(t, f.client, 10)
	reservation := f.reserve(t, product.ID, 4)

	var (
		mu       sync.Mutex
		winners  int
		consumed int
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			err := f.manager.ConvertToSale(ctx, reservation.ID, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return nil
			}
			if reason, ok := pkgerrors.ReservationReasonOf(err); ok && reason == pkgerrors.ReservationAlreadyConsumed {
				consumed++
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, winners)
	assert.Equal(t, 5, consumed)
	assert.Equal(t, 6, f.stock(t, product.ID))
	assert.Equal(t, 1, countOps(f.logs(t, product.ID), enums.StockOperationDecrement))
}
