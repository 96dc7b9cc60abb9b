package enums

import "fmt"

// StockOperationType classifies a stock log row.
type StockOperationType string

const (
	StockOperationReserve   StockOperationType = "RESERVE"
	StockOperationRelease   StockOperationType = "RELEASE"
	StockOperationDecrement StockOperationType = "DECREMENT"
	StockOperationIncrement StockOperationType = "INCREMENT"
)

var validStockOperationTypes = []StockOperationType{
	StockOperationReserve,
	StockOperationRelease,
	StockOperationDecrement,
	StockOperationIncrement,
}

func (o StockOperationType) String() string {
	return string(o)
}

// AffectsPhysicalStock is false for holds, which never move Product.stock.
func (o StockOperationType) AffectsPhysicalStock() bool {
	return o == StockOperationDecrement || o == StockOperationIncrement
}

func (o StockOperationType) IsValid() bool {
	for _, candidate := range validStockOperationTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

func ParseStockOperationType(value string) (StockOperationType, error) {
	for _, candidate := range validStockOperationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock operation %q", value)
}
