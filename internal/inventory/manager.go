package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
	"github.com/angelmondragon/stockledger/pkg/pagination"
)

const (
	DefaultReservationTTL   = 15 * time.Minute
	DefaultCleanupBatchSize = 500

	reasonReserved = "reservation created"
	reasonReleased = "reservation released"
	reasonExpired  = "reservation expired"
	reasonSold     = "reservation converted to sale"
	reasonSoldLate = "expired reservation sold on late payment"
)

// ReserveInput describes one hold request.
type ReserveInput struct {
	ProductID int64
	Quantity  int
	SessionID string
	UserID    *string
}

// AdjustInput describes a direct physical stock change.
type AdjustInput struct {
	ProductID   int64
	Quantity    int
	OrderID     *int64
	Reason      string
	PerformedBy *string
}

// ManagerParams configure the stock manager.
type ManagerParams struct {
	DB               db.TxRunner
	Repository       Repository
	Logger           *logger.Logger
	Metrics          *metrics.StockMetrics
	ReservationTTL   time.Duration
	CleanupBatchSize int
	Clock            func() time.Time
}

// Manager owns every mutation of Product.stock and the reservation ledger.
// Each operation is one transaction; the Tx variants join a caller's transaction.
type Manager struct {
	db        db.TxRunner
	repo      Repository
	logg      *logger.Logger
	metrics   *metrics.StockMetrics
	ttl       time.Duration
	batchSize int
	clock     func() time.Time
}

// NewManager builds a stock manager.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.ReservationTTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	batch := params.CleanupBatchSize
	if batch <= 0 {
		batch = DefaultCleanupBatchSize
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		db:        params.DB,
		repo:      params.Repository,
		logg:      params.Logger,
		metrics:   params.Metrics,
		ttl:       ttl,
		batchSize: batch,
		clock:     clock,
	}, nil
}

// ReservationTTL is the hold lifetime applied to new reservations.
func (m *Manager) ReservationTTL() time.Duration {
	return m.ttl
}

func (m *Manager) now() time.Time {
	return m.clock().UTC()
}

// Reserve places a hold of in.Quantity units if enough stock is available.
func (m *Manager) Reserve(ctx context.Context, in ReserveInput) (*models.StockReservation, error) {
	var reservation *models.StockReservation
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		reservation, err = m.ReserveTx(ctx, tx, in)
		return err
	})
	m.metrics.ObserveReserve(reserveOutcome(err))
	if err != nil {
		return nil, err
	}
	m.metrics.IncOperation(enums.StockOperationReserve.String())
	logCtx := m.logg.WithReservationID(m.logg.WithProductID(ctx, reservation.ProductID), reservation.ID)
	logCtx = m.logg.WithFields(logCtx, map[string]any{
		"event":      "stock.reserve",
		"quantity":   reservation.Quantity,
		"expires_at": reservation.ExpiresAt,
	})
	m.logg.Info(logCtx, "stock reserved")
	return reservation, nil
}

// ReserveTx runs Reserve inside the caller's transaction.
func (m *Manager) ReserveTx(ctx context.Context, tx *gorm.DB, in ReserveInput) (*models.StockReservation, error) {
	if err := validateQuantity(in.ProductID, in.Quantity); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, pkgerrors.NewInvalidOrderData("session_id is required", nil)
	}
	repo := m.repo.WithTx(tx)
	now := m.now()

	product, err := m.lockProduct(ctx, repo, in.ProductID)
	if err != nil {
		return nil, err
	}
	held, err := repo.SumActiveReservations(ctx, product.ID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum active reservations")
	}
	available := product.Stock - held
	if available < in.Quantity {
		return nil, pkgerrors.NewInsufficientStock(product.ID, max(available, 0), in.Quantity)
	}

	reservation := &models.StockReservation{
		ProductID:  product.ID,
		Quantity:   in.Quantity,
		ReservedBy: in.UserID,
		SessionID:  in.SessionID,
		ExpiresAt:  now.Add(m.ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.CreateReservation(ctx, reservation); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
	}
	entry := &models.StockLog{
		ProductID:     product.ID,
		ReservationID: &reservation.ID,
		OperationType: enums.StockOperationReserve,
		QuantityDelta: -in.Quantity,
		StockBefore:   product.Stock,
		StockAfter:    product.Stock,
		Reason:        reasonReserved,
		PerformedBy:   in.UserID,
		CreatedAt:     now,
	}
	if err := m.appendLog(ctx, repo, entry); err != nil {
		return nil, err
	}
	return reservation, nil
}

// Release closes an unconverted hold. Releasing a consumed reservation fails.
func (m *Manager) Release(ctx context.Context, reservationID int64, performedBy *string) error {
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		return m.ReleaseTx(ctx, tx, reservationID, performedBy)
	})
	if err != nil {
		return err
	}
	m.metrics.IncOperation(enums.StockOperationRelease.String())
	logCtx := m.logg.WithField(m.logg.WithReservationID(ctx, reservationID), "event", "stock.release")
	m.logg.Info(logCtx, "reservation released")
	return nil
}

// ReleaseTx runs Release inside the caller's transaction.
func (m *Manager) ReleaseTx(ctx context.Context, tx *gorm.DB, reservationID int64, performedBy *string) error {
	repo := m.repo.WithTx(tx)
	reservation, err := m.lockReservation(ctx, repo, reservationID)
	if err != nil {
		return err
	}
	if reservation.Consumed {
		return pkgerrors.NewReservationError(reservationID, pkgerrors.ReservationAlreadyConsumed)
	}
	return m.closeReservation(ctx, repo, reservation, reasonReleased, performedBy)
}

// closeReservation marks a locked, unconsumed reservation consumed and logs
// the RELEASE. Physical stock is untouched.
func (m *Manager) closeReservation(ctx context.Context, repo Repository, reservation *models.StockReservation, reason string, performedBy *string) error {
	product, err := m.lockProduct(ctx, repo, reservation.ProductID)
	if err != nil {
		return err
	}
	now := m.now()
	if err := m.consume(ctx, repo, reservation.ID, nil, now); err != nil {
		return err
	}
	return m.appendLog(ctx, repo, &models.StockLog{
		ProductID:     product.ID,
		ReservationID: &reservation.ID,
		OperationType: enums.StockOperationRelease,
		QuantityDelta: reservation.Quantity,
		StockBefore:   product.Stock,
		StockAfter:    product.Stock,
		Reason:        reason,
		PerformedBy:   performedBy,
		CreatedAt:     now,
	})
}

// ConvertToSale turns an active hold into a physical decrement linked to orderID.
// It is the only path from a reservation to a DECREMENT and fails on a
// consumed or expired reservation.
func (m *Manager) ConvertToSale(ctx context.Context, reservationID, orderID int64) error {
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		return m.ConvertToSaleTx(ctx, tx, reservationID, orderID)
	})
	if err != nil {
		return err
	}
	m.metrics.IncOperation(enums.StockOperationDecrement.String())
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"event":          "stock.convert",
		"reservation_id": reservationID,
		"order_id":       orderID,
	}), "reservation converted to sale")
	return nil
}

// ConvertToSaleTx runs ConvertToSale inside the caller's transaction.
func (m *Manager) ConvertToSaleTx(ctx context.Context, tx *gorm.DB, reservationID, orderID int64) error {
	_, err := m.convertLocked(ctx, m.repo.WithTx(tx), reservationID, orderID)
	return err
}

// convertLocked returns the locked reservation alongside any reservation
// error so callers can inspect who consumed it.
func (m *Manager) convertLocked(ctx context.Context, repo Repository, reservationID, orderID int64) (*models.StockReservation, error) {
	reservation, err := m.lockReservation(ctx, repo, reservationID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if reservation.Consumed {
		return reservation, pkgerrors.NewReservationError(reservationID, pkgerrors.ReservationAlreadyConsumed)
	}
	if reservation.IsExpired(now) {
		return reservation, pkgerrors.NewReservationError(reservationID, pkgerrors.ReservationExpired)
	}

	product, err := m.lockProduct(ctx, repo, reservation.ProductID)
	if err != nil {
		return reservation, err
	}
	if product.Stock < reservation.Quantity {
		return reservation, pkgerrors.NewInsufficientStock(product.ID, product.Stock, reservation.Quantity)
	}
	// Consume first: a lost compare-and-set must leave nothing written.
	if err := m.consume(ctx, repo, reservation.ID, &orderID, now); err != nil {
		return reservation, err
	}
	after := product.Stock - reservation.Quantity
	if err := repo.UpdateProductStock(ctx, product.ID, after, now); err != nil {
		return reservation, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement product stock")
	}
	entry := &models.StockLog{
		ProductID:     product.ID,
		OrderID:       &orderID,
		ReservationID: &reservation.ID,
		OperationType: enums.StockOperationDecrement,
		QuantityDelta: -reservation.Quantity,
		StockBefore:   product.Stock,
		StockAfter:    after,
		Reason:        reasonSold,
		CreatedAt:     now,
	}
	if err := m.appendLog(ctx, repo, entry); err != nil {
		return reservation, err
	}
	reservation.Consumed = true
	reservation.OrderID = &orderID
	return reservation, nil
}

// ConversionOutcome classifies a ConvertReservation call that did not hard-fail.
type ConversionOutcome string

const (
	Converted        ConversionOutcome = "converted"
	ConvertedLate    ConversionOutcome = "converted_late"
	AlreadyConverted ConversionOutcome = "already_converted"
	Lapsed           ConversionOutcome = "lapsed"
)

// ConversionResult reports what happened to one reservation of an order.
// Reason is set only for Lapsed.
type ConversionResult struct {
	Outcome       ConversionOutcome
	ReservationID int64
	Reason        pkgerrors.ReservationReason
}

// ConvertReservation is the replay-safe form of ConvertToSale used by the
// payment handlers. A reservation already consumed by this order reports
// AlreadyConverted. An expired, unreaped hold is still sold (ConvertedLate)
// when stock not held by anyone else covers it. Anything else that cannot be
// converted reports Lapsed. Only dependency and stock faults come back as
// errors.
func (m *Manager) ConvertReservation(ctx context.Context, reservationID, orderID int64) (ConversionResult, error) {
	var result ConversionResult
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = m.ConvertReservationTx(ctx, tx, reservationID, orderID)
		return err
	})
	if err != nil {
		return ConversionResult{}, err
	}
	m.ObserveConversion(ctx, orderID, result)
	return result, nil
}

// ConvertReservationTx runs ConvertReservation inside the caller's
// transaction. Callers report the committed result with ObserveConversion.
func (m *Manager) ConvertReservationTx(ctx context.Context, tx *gorm.DB, reservationID, orderID int64) (ConversionResult, error) {
	repo := m.repo.WithTx(tx)
	result := ConversionResult{ReservationID: reservationID}
	reservation, err := m.convertLocked(ctx, repo, reservationID, orderID)
	if err == nil {
		result.Outcome = Converted
		return result, nil
	}
	reason, ok := pkgerrors.ReservationReasonOf(err)
	if !ok {
		return ConversionResult{}, err
	}
	switch {
	case reason == pkgerrors.ReservationAlreadyConsumed && reservation != nil &&
		reservation.OrderID != nil && *reservation.OrderID == orderID:
		result.Outcome = AlreadyConverted
		return result, nil
	case reason == pkgerrors.ReservationExpired && reservation != nil:
		sold, err := m.convertExpired(ctx, repo, reservation, orderID)
		if err != nil {
			return ConversionResult{}, err
		}
		if sold {
			result.Outcome = ConvertedLate
			return result, nil
		}
	}
	result.Outcome = Lapsed
	result.Reason = reason
	return result, nil
}

// ObserveConversion records a committed conversion result.
func (m *Manager) ObserveConversion(ctx context.Context, orderID int64, result ConversionResult) {
	if result.Outcome == Converted || result.Outcome == ConvertedLate {
		m.metrics.IncOperation(enums.StockOperationDecrement.String())
	}
	m.metrics.ObserveConversion(string(result.Outcome))
	fields := map[string]any{
		"event":          "stock.convert",
		"reservation_id": result.ReservationID,
		"order_id":       orderID,
		"outcome":        result.Outcome,
	}
	if result.Outcome == Lapsed {
		fields["reason"] = result.Reason
		m.logg.Warn(m.logg.WithFields(ctx, fields), "reservation lapsed before conversion")
		return
	}
	m.logg.Info(m.logg.WithFields(ctx, fields), "reservation conversion evaluated")
}

// convertExpired sells an expired hold that the reaper has not closed yet.
// The reservation row is still locked by convertLocked. Stock promised to
// active holds is never taken.
func (m *Manager) convertExpired(ctx context.Context, repo Repository, reservation *models.StockReservation, orderID int64) (bool, error) {
	now := m.now()
	product, err := m.lockProduct(ctx, repo, reservation.ProductID)
	if err != nil {
		return false, err
	}
	held, err := repo.SumActiveReservations(ctx, product.ID, now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum active reservations")
	}
	if product.Stock-held < reservation.Quantity {
		return false, nil
	}
	if err := m.consume(ctx, repo, reservation.ID, &orderID, now); err != nil {
		return false, err
	}
	after := product.Stock - reservation.Quantity
	if err := repo.UpdateProductStock(ctx, product.ID, after, now); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement product stock")
	}
	entry := &models.StockLog{
		ProductID:     product.ID,
		OrderID:       &orderID,
		ReservationID: &reservation.ID,
		OperationType: enums.StockOperationDecrement,
		QuantityDelta: -reservation.Quantity,
		StockBefore:   product.Stock,
		StockAfter:    after,
		Reason:        reasonSoldLate,
		CreatedAt:     now,
	}
	if err := m.appendLog(ctx, repo, entry); err != nil {
		return false, err
	}
	reservation.Consumed = true
	reservation.OrderID = &orderID
	return true, nil
}

// Decrement removes stock outside the reservation system.
func (m *Manager) Decrement(ctx context.Context, in AdjustInput) (*models.StockLog, error) {
	return m.adjust(ctx, in, enums.StockOperationDecrement)
}

// DecrementTx runs Decrement inside the caller's transaction.
func (m *Manager) DecrementTx(ctx context.Context, tx *gorm.DB, in AdjustInput) (*models.StockLog, error) {
	return m.adjustTx(ctx, tx, in, enums.StockOperationDecrement)
}

// Increment adds stock. There is no upper bound.
func (m *Manager) Increment(ctx context.Context, in AdjustInput) (*models.StockLog, error) {
	return m.adjust(ctx, in, enums.StockOperationIncrement)
}

// IncrementTx runs Increment inside the caller's transaction.
func (m *Manager) IncrementTx(ctx context.Context, tx *gorm.DB, in AdjustInput) (*models.StockLog, error) {
	return m.adjustTx(ctx, tx, in, enums.StockOperationIncrement)
}

func (m *Manager) adjust(ctx context.Context, in AdjustInput, op enums.StockOperationType) (*models.StockLog, error) {
	var entry *models.StockLog
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = m.adjustTx(ctx, tx, in, op)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.metrics.IncOperation(op.String())
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"event":        "stock.adjust",
		"operation":    op,
		"product_id":   entry.ProductID,
		"delta":        entry.QuantityDelta,
		"stock_before": entry.StockBefore,
		"stock_after":  entry.StockAfter,
	}), "stock adjusted")
	return entry, nil
}

func (m *Manager) adjustTx(ctx context.Context, tx *gorm.DB, in AdjustInput, op enums.StockOperationType) (*models.StockLog, error) {
	if err := validateQuantity(in.ProductID, in.Quantity); err != nil {
		return nil, err
	}
	repo := m.repo.WithTx(tx)
	product, err := m.lockProduct(ctx, repo, in.ProductID)
	if err != nil {
		return nil, err
	}

	delta := in.Quantity
	if op == enums.StockOperationDecrement {
		if product.Stock < in.Quantity {
			return nil, pkgerrors.NewInsufficientStock(product.ID, product.Stock, in.Quantity)
		}
		delta = -in.Quantity
	}
	now := m.now()
	after := product.Stock + delta
	if err := repo.UpdateProductStock(ctx, product.ID, after, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update product stock")
	}
	entry := &models.StockLog{
		ProductID:     product.ID,
		OrderID:       in.OrderID,
		OperationType: op,
		QuantityDelta: delta,
		StockBefore:   product.Stock,
		StockAfter:    after,
		Reason:        strings.TrimSpace(in.Reason),
		PerformedBy:   in.PerformedBy,
		CreatedAt:     now,
	}
	if err := m.appendLog(ctx, repo, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AvailableStock returns stock minus active holds, floored at zero. It takes
// no lock, so the figure can be stale by the time the caller reads it.
func (m *Manager) AvailableStock(ctx context.Context, productID int64) (int, error) {
	product, err := m.repo.FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.NewProductNotFound(productID)
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	held, err := m.repo.SumActiveReservations(ctx, productID, m.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum active reservations")
	}
	return max(product.Stock-held, 0), nil
}

// Reservation loads a reservation without locking it.
func (m *Manager) Reservation(ctx context.Context, reservationID int64) (*models.StockReservation, error) {
	reservation, err := m.repo.FindReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NewReservationError(reservationID, pkgerrors.ReservationNotFound)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	return reservation, nil
}

// ReservationsByOrder lists the reservations converted for orderID.
func (m *Manager) ReservationsByOrder(ctx context.Context, orderID int64) ([]models.StockReservation, error) {
	rows, err := m.repo.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order reservations")
	}
	return rows, nil
}

// Logs lists the audit trail of a product, oldest first.
func (m *Manager) Logs(ctx context.Context, productID int64) ([]models.StockLog, error) {
	rows, err := m.repo.ListLogs(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock logs")
	}
	return rows, nil
}

// LogPage is one newest-first slice of a product's audit trail.
type LogPage struct {
	Items      []models.StockLog
	NextCursor string
}

// LogsPage walks a product's audit trail newest first using an opaque cursor.
func (m *Manager) LogsPage(ctx context.Context, productID int64, params pagination.Params) (*LogPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if _, err := m.repo.FindProduct(ctx, productID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NewProductNotFound(productID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}

	var beforeID int64
	if cursor != nil {
		beforeID = cursor.ID
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := m.repo.ListLogsPage(ctx, productID, beforeID, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock logs")
	}

	page := &LogPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{ID: rows[limit-1].ID})
	}
	return page, nil
}

// CleanupExpired closes every unconsumed reservation whose expires_at has
// passed, one bounded transaction per batch, and returns how many it closed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var scanned, closed int
		err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			scanned, closed, err = m.cleanupBatch(ctx, tx)
			return err
		})
		if err != nil {
			return total, err
		}
		total += closed
		m.metrics.AddReaped(closed)
		if scanned < m.batchSize || closed == 0 {
			break
		}
	}
	if total > 0 {
		m.logg.Info(m.logg.WithFields(ctx, map[string]any{
			"event": "stock.cleanup",
			"count": total,
		}), "expired reservations released")
	}
	return total, nil
}

func (m *Manager) cleanupBatch(ctx context.Context, tx *gorm.DB) (int, int, error) {
	repo := m.repo.WithTx(tx)
	now := m.now()
	ids, err := repo.ListExpiredReservationIDs(ctx, now, m.batchSize)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired reservations")
	}
	closed := 0
	for _, id := range ids {
		reservation, err := m.lockReservation(ctx, repo, id)
		if err != nil {
			return len(ids), closed, err
		}
		// A concurrent release or conversion may have won since the scan.
		if reservation.Consumed || !reservation.ExpiresAt.Before(now) {
			continue
		}
		if err := m.closeReservation(ctx, repo, reservation, reasonExpired, nil); err != nil {
			return len(ids), closed, err
		}
		closed++
	}
	return len(ids), closed, nil
}

func (m *Manager) lockProduct(ctx context.Context, repo Repository, productID int64) (*models.Product, error) {
	product, err := repo.LockProductForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NewProductNotFound(productID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock product")
	}
	return product, nil
}

func (m *Manager) lockReservation(ctx context.Context, repo Repository, reservationID int64) (*models.StockReservation, error) {
	reservation, err := repo.LockReservationForUpdate(ctx, reservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NewReservationError(reservationID, pkgerrors.ReservationNotFound)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock reservation")
	}
	return reservation, nil
}

func (m *Manager) consume(ctx context.Context, repo Repository, reservationID int64, orderID *int64, now time.Time) error {
	if err := repo.ConsumeReservation(ctx, reservationID, orderID, now); err != nil {
		if errors.Is(err, errReservationNotOpen) {
			return pkgerrors.NewReservationError(reservationID, pkgerrors.ReservationAlreadyConsumed)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume reservation")
	}
	return nil
}

func (m *Manager) appendLog(ctx context.Context, repo Repository, entry *models.StockLog) error {
	if err := repo.AppendLog(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append stock log")
	}
	return nil
}

func validateQuantity(productID int64, quantity int) error {
	if productID <= 0 {
		return pkgerrors.NewInvalidOrderData("product_id is required", map[string]any{"product_id": productID})
	}
	if quantity <= 0 {
		return pkgerrors.NewInvalidOrderData("quantity must be a positive integer", map[string]any{"quantity": quantity})
	}
	return nil
}

func reserveOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.ReserveOutcomeReserved
	case pkgerrors.Is(err, pkgerrors.CodeInsufficientStock):
		return metrics.ReserveOutcomeInsufficient
	default:
		return metrics.ReserveOutcomeError
	}
}
