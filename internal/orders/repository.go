package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/enums"
)

// Repository defines persistence operations for orders and their history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID int64) (*models.Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	LockForUpdate(ctx context.Context, orderID int64) (*models.Order, error)
	LockByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status enums.OrderStatus, now time.Time) error
	UpdatePaymentStatus(ctx context.Context, orderID int64, status enums.PaymentStatus, now time.Time) error
	UpdateMetadata(ctx context.Context, orderID int64, metadata models.OrderMetadata, now time.Time) error
	AppendHistory(ctx context.Context, entry *models.OrderHistory) error
	ListHistory(ctx context.Context, orderID int64) ([]models.OrderHistory, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order with its items. History is appended separately.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("History").Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", orderID).
		Take(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) LockForUpdate(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", orderID).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) LockByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	var order models.Order
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("payment_id = ?", paymentID).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateStatus(ctx context.Context, orderID int64, status enums.OrderStatus, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"status":            status,
			"status_updated_at": now,
			"updated_at":        now,
		}).Error
}

func (r *repository) UpdatePaymentStatus(ctx context.Context, orderID int64, status enums.PaymentStatus, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"payment_status": status,
			"updated_at":     now,
		}).Error
}

func (r *repository) UpdateMetadata(ctx context.Context, orderID int64, metadata models.OrderMetadata, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{ID: orderID}).
		Select("metadata", "updated_at").
		Updates(&models.Order{Metadata: metadata, UpdatedAt: now}).Error
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.OrderHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, orderID int64) ([]models.OrderHistory, error) {
	var rows []models.OrderHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
