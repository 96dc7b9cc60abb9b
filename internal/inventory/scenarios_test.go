package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/stockledger/pkg/db/dbtest"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/pagination"
)

func TestDefaultReservationTTL(t *testing.T) {
	assert.Equal(t, 15*time.Minute, DefaultReservationTTL)

	client := dbtest.Open(t)
	manager, err := NewManager(ManagerParams{
		DB:         client,
		Repository: NewRepository(client.DB()),
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, manager.ReservationTTL())
}

func TestScenarioBasicReservation(t *testing.T) {
	f := newManagerFixture(t, 0)
	product := dbtest.SeedProduct(t, f.client, 100)

	f.reserve(t, product.ID, 30)

	available, err := f.manager.AvailableStock(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, available)
}

func TestScenarioRaceToZero(t *testing.T) {
	f := newManagerFixture(t, 0)
	product := dbtest.SeedProduct(t, f.client, 10)

	var (
		mu     sync.Mutex
		failed []pkgerrors.InsufficientStockDetails
		won    int
	)
	g, ctx := errgroup.WithContext(context.Background())
	for _, qty := range []int{10, 5} {
		g.Go(func() error {
			_, err := f.manager.Reserve(ctx, ReserveInput{ProductID: product.ID, Quantity: qty, SessionID: "race"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
				return nil
			}
			details, ok := pkgerrors.As(err).Details().(pkgerrors.InsufficientStockDetails)
			if !ok {
				return err
			}
			failed = append(failed, details)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1, won)
	require.Len(t, failed, 1)

	loser := failed[0]
	switch loser.Requested {
	case 5:
		assert.Equal(t, 0, loser.Available)
	case 10:
		assert.Equal(t, 5, loser.Available)
	default:
		t.Fatalf("unexpected requested quantity %d", loser.Requested)
	}
}

func TestScenarioExpiredVersusActive(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 100)

	expired := f.reserve(t, product.ID, 50)
	f.clock.Advance(20 * time.Minute)
	f.reserve(t, product.ID, 25)
	consumed := f.reserve(t, product.ID, 30)
	require.NoError(t, f.manager.Release(ctx, consumed.ID, nil))

	stored, err := f.manager.Reservation(ctx, expired.ID)
	require.NoError(t, err)
	require.False(t, stored.Consumed)

	available, err := f.manager.AvailableStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, available)
}

func TestScenarioFullLifecycle(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 50)

	reservation := f.reserve(t, product.ID, 10)
	require.NoError(t, f.manager.ConvertToSale(ctx, reservation.ID, 42))

	assert.Equal(t, 40, f.stock(t, product.ID))
	stored, err := f.manager.Reservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.True(t, stored.Consumed)
	require.NotNil(t, stored.OrderID)
	assert.Equal(t, int64(42), *stored.OrderID)

	var decrements []models.StockLog
	for _, row := range f.logs(t, product.ID) {
		if row.OperationType == enums.StockOperationDecrement {
			decrements = append(decrements, row)
		}
	}
	require.Len(t, decrements, 1)
	assert.Equal(t, -10, decrements[0].QuantityDelta)
}

func TestScenarioCleanup(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 100)

	// Holds created 35, 25 and 20 minutes before "now" expire 20, 10 and 5
	// minutes ago respectively.
	var expired []int64
	for _, step := range []time.Duration{10 * time.Minute, 5 * time.Minute, 20 * time.Minute} {
		expired = append(expired, f.reserve(t, product.ID, 1).ID)
		f.clock.Advance(step)
	}
	active := []int64{
		f.reserve(t, product.ID, 2).ID,
		f.reserve(t, product.ID, 2).ID,
	}

	closed, err := f.manager.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, closed)

	for _, id := range expired {
		stored, err := f.manager.Reservation(ctx, id)
		require.NoError(t, err)
		assert.True(t, stored.Consumed)
	}
	for _, id := range active {
		stored, err := f.manager.Reservation(ctx, id)
		require.NoError(t, err)
		assert.False(t, stored.Consumed)
	}
	assert.Equal(t, 3, countOps(f.logs(t, product.ID), enums.StockOperationRelease))
}

func TestConservationAcrossMixedOperations(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 40)

	sold := f.reserve(t, product.ID, 7)
	released := f.reserve(t, product.ID, 3)
	require.NoError(t, f.manager.ConvertToSale(ctx, sold.ID, 1))
	require.NoError(t, f.manager.Release(ctx, released.ID, nil))
	_, err := f.manager.Increment(ctx, AdjustInput{ProductID: product.ID, Quantity: 9})
	require.NoError(t, err)
	_, err = f.manager.Decrement(ctx, AdjustInput{ProductID: product.ID, Quantity: 4})
	require.NoError(t, err)

	physical := 40
	for _, row := range f.logs(t, product.ID) {
		assert.True(t, row.Balanced(), "log %d is unbalanced", row.ID)
		if row.OperationType.AffectsPhysicalStock() {
			physical += row.QuantityDelta
		}
	}
	assert.Equal(t, physical, f.stock(t, product.ID))
	assert.Equal(t, 38, physical)
}

func TestConvertReservationOutcomes(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 20)

	own := f.reserve(t, product.ID, 2)
	other := f.reserve(t, product.ID, 2)
	require.NoError(t, f.manager.Release(ctx, other.ID, nil))
	lapsing := f.reserve(t, product.ID, 2)

	result, err := f.manager.ConvertReservation(ctx, own.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, Converted, result.Outcome)

	result, err = f.manager.ConvertReservation(ctx, own.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, AlreadyConverted, result.Outcome)

	result, err = f.manager.ConvertReservation(ctx, own.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, Lapsed, result.Outcome)
	assert.Equal(t, pkgerrors.ReservationAlreadyConsumed, result.Reason)

	result, err = f.manager.ConvertReservation(ctx, other.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, Lapsed, result.Outcome)

	result, err = f.manager.ConvertReservation(ctx, 12345, 8)
	require.NoError(t, err)
	assert.Equal(t, Lapsed, result.Outcome)
	assert.Equal(t, pkgerrors.ReservationNotFound, result.Reason)

	f.clock.Advance(time.Hour)
	result, err = f.manager.ConvertReservation(ctx, lapsing.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, ConvertedLate, result.Outcome)

	result, err = f.manager.ConvertReservation(ctx, lapsing.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, AlreadyConverted, result.Outcome)

	assert.Equal(t, 16, f.stock(t, product.ID))
	assert.Equal(t, 2, countOps(f.logs(t, product.ID), enums.StockOperationDecrement))
}

func TestConvertExpiredReservationRespectsActiveHolds(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 5)
	expired := f.reserve(t, product.ID, 3)
	f.clock.Advance(time.Hour)
	f.reserve(t, product.ID, 4)

	result, err := f.manager.ConvertReservation(ctx, expired.ID, 11)
	require.NoError(t, err)
	assert.Equal(t, Lapsed, result.Outcome)
	assert.Equal(t, pkgerrors.ReservationExpired, result.Reason)

	stored, err := f.manager.Reservation(ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, stored.Consumed)
	assert.Equal(t, 5, f.stock(t, product.ID))
	assert.Zero(t, countOps(f.logs(t, product.ID), enums.StockOperationDecrement))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ConversionsCounter(string(Lapsed))))
}

func TestConvertReservationSurfacesStockFault(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 5)
	reservation := f.reserve(t, product.ID, 5)
	_, err := f.manager.Decrement(ctx, AdjustInput{ProductID: product.ID, Quantity: 3, Reason: "shrinkage"})
	require.NoError(t, err)

	_, err = f.manager.ConvertReservation(ctx, reservation.ID, 3)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, pkgerrors.CodeOf(err))

	stored, err := f.manager.Reservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.False(t, stored.Consumed)
	assert.Equal(t, 2, f.stock(t, product.ID))
}

func TestLogsPageWalksNewestFirst(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.client, 10)
	for qty := 1; qty <= 5; qty++ {
		_, err := f.manager.Increment(ctx, AdjustInput{ProductID: product.ID, Quantity: qty})
		require.NoError(t, err)
	}

	first, err := f.manager.LogsPage(ctx, product.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, 5, first.Items[0].QuantityDelta)
	assert.Equal(t, 4, first.Items[1].QuantityDelta)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.manager.LogsPage(ctx, product.ID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.Equal(t, 3, second.Items[0].QuantityDelta)

	last, err := f.manager.LogsPage(ctx, product.ID, pagination.Params{Limit: 2, Cursor: second.NextCursor})
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.Empty(t, last.NextCursor)

	_, err = f.manager.LogsPage(ctx, product.ID, pagination.Params{Cursor: "not-a-cursor"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.manager.LogsPage(ctx, 999, pagination.Params{})
	assert.Equal(t, pkgerrors.CodeProductNotFound, pkgerrors.CodeOf(err))
}
