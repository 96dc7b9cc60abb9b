package inventory

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/models"
)

// errReservationNotOpen is returned when a consume races with another consumer.
var errReservationNotOpen = errors.New("reservation already consumed")

// Repository is the narrow persistence surface of the stock ledger. Stock logs
// can only be appended and listed.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindProduct(ctx context.Context, productID int64) (*models.Product, error)
	LockProductForUpdate(ctx context.Context, productID int64) (*models.Product, error)
	UpdateProductStock(ctx context.Context, productID int64, stock int, now time.Time) error

	SumActiveReservations(ctx context.Context, productID int64, now time.Time) (int, error)
	CreateReservation(ctx context.Context, reservation *models.StockReservation) error
	FindReservation(ctx context.Context, reservationID int64) (*models.StockReservation, error)
	LockReservationForUpdate(ctx context.Context, reservationID int64) (*models.StockReservation, error)
	ConsumeReservation(ctx context.Context, reservationID int64, orderID *int64, now time.Time) error
	ListExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ListReservationsByOrder(ctx context.Context, orderID int64) ([]models.StockReservation, error)

	AppendLog(ctx context.Context, entry *models.StockLog) error
	ListLogs(ctx context.Context, productID int64) ([]models.StockLog, error)
	ListLogsAfter(ctx context.Context, afterID int64, limit int) ([]models.StockLog, error)
	ListLogsPage(ctx context.Context, productID, beforeID int64, limit int) ([]models.StockLog, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindProduct(ctx context.Context, productID int64) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", productID).Take(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) LockProductForUpdate(ctx context.Context, productID int64) (*models.Product, error) {
	var product models.Product
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", productID).Take(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) UpdateProductStock(ctx context.Context, productID int64, stock int, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{
			"stock":      stock,
			"updated_at": now,
		}).Error
}

func (r *repository) SumActiveReservations(ctx context.Context, productID int64, now time.Time) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("product_id = ? AND consumed = ? AND expires_at > ?", productID, false, now).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.StockReservation) error {
	return r.db.WithContext(ctx).Omit("Product").Create(reservation).Error
}

func (r *repository) FindReservation(ctx context.Context, reservationID int64) (*models.StockReservation, error) {
	var reservation models.StockReservation
	if err := r.db.WithContext(ctx).Where("id = ?", reservationID).Take(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) LockReservationForUpdate(ctx context.Context, reservationID int64) (*models.StockReservation, error) {
	var reservation models.StockReservation
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", reservationID).Take(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// ConsumeReservation flips consumed with a compare-and-set so a second
// consumer can never succeed, even without the row lock.
func (r *repository) ConsumeReservation(ctx context.Context, reservationID int64, orderID *int64, now time.Time) error {
	updates := map[string]any{
		"consumed":   true,
		"updated_at": now,
	}
	if orderID != nil {
		updates["order_id"] = *orderID
	}
	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND consumed = ?", reservationID, false).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errReservationNotOpen
	}
	return nil
}

func (r *repository) ListExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("consumed = ? AND expires_at < ?", false, now).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) ListReservationsByOrder(ctx context.Context, orderID int64) ([]models.StockReservation, error) {
	var rows []models.StockReservation
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) AppendLog(ctx context.Context, entry *models.StockLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListLogs(ctx context.Context, productID int64) ([]models.StockLog, error) {
	var rows []models.StockLog
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListLogsPage returns a product's log rows newest first. A zero beforeID
// starts from the most recent row.
func (r *repository) ListLogsPage(ctx context.Context, productID, beforeID int64, limit int) ([]models.StockLog, error) {
	query := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}

	var rows []models.StockLog
	err := query.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ListLogsAfter pages through every product's log rows in id order.
func (r *repository) ListLogsAfter(ctx context.Context, afterID int64, limit int) ([]models.StockLog, error) {
	var rows []models.StockLog
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
