package enums

// OrderHistoryKind distinguishes status transitions from free-text notes.
type OrderHistoryKind string

const (
	OrderHistoryStatusChange OrderHistoryKind = "status_change"
	OrderHistoryNote         OrderHistoryKind = "note"
)

func (k OrderHistoryKind) IsValid() bool {
	return k == OrderHistoryStatusChange || k == OrderHistoryNote
}
