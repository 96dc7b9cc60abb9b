package bigquery

import (
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/angelmondragon/stockledger/pkg/db/models"
)

// StockLogRow is the warehouse shape of one stock log entry.
type StockLogRow struct {
	LogID         int64
	ProductID     int64
	OrderID       *int64
	ReservationID *int64
	OperationType string
	QuantityDelta int
	StockBefore   int
	StockAfter    int
	Reason        string
	PerformedBy   *string
	CreatedAt     time.Time
}

// NewStockLogRow copies a persisted log row into its export form.
func NewStockLogRow(log models.StockLog) StockLogRow {
	return StockLogRow{
		LogID:         log.ID,
		ProductID:     log.ProductID,
		OrderID:       log.OrderID,
		ReservationID: log.ReservationID,
		OperationType: string(log.OperationType),
		QuantityDelta: log.QuantityDelta,
		StockBefore:   log.StockBefore,
		StockAfter:    log.StockAfter,
		Reason:        log.Reason,
		PerformedBy:   log.PerformedBy,
		CreatedAt:     log.CreatedAt.UTC(),
	}
}

// Save implements bigquery.ValueSaver. The log id is the insert id.
func (r StockLogRow) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"log_id":         r.LogID,
		"product_id":     r.ProductID,
		"order_id":       nullableInt(r.OrderID),
		"reservation_id": nullableInt(r.ReservationID),
		"operation_type": r.OperationType,
		"quantity_delta": r.QuantityDelta,
		"stock_before":   r.StockBefore,
		"stock_after":    r.StockAfter,
		"reason":         r.Reason,
		"performed_by":   nullableString(r.PerformedBy),
		"created_at":     r.CreatedAt,
	}
	return row, strconv.FormatInt(r.LogID, 10), nil
}

func nullableInt(v *int64) bigquery.Value {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) bigquery.Value {
	if v == nil {
		return nil
	}
	return *v
}
