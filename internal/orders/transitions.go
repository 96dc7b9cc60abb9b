package orders

import "github.com/angelmondragon/stockledger/pkg/enums"

// allowedTransitions is the complete order lifecycle. States missing from
// the map have no outgoing transitions.
var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusProcessing, enums.OrderStatusCanceled},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped, enums.OrderStatusCanceled},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered, enums.OrderStatusReturned},
	enums.OrderStatusDelivered:  {enums.OrderStatusCompleted, enums.OrderStatusReturned},
	enums.OrderStatusReturned:   {enums.OrderStatusRefunded},
}

// cancelableStatuses are the states a customer or operator may cancel from.
var cancelableStatuses = map[enums.OrderStatus]bool{
	enums.OrderStatusPending:    true,
	enums.OrderStatusProcessing: true,
}

// AllowedTransitions returns a copy of the targets reachable from status.
func AllowedTransitions(status enums.OrderStatus) []enums.OrderStatus {
	targets := allowedTransitions[status]
	out := make([]enums.OrderStatus, len(targets))
	copy(out, targets)
	return out
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CanCancel reports whether an order in status may still be canceled.
func CanCancel(status enums.OrderStatus) bool {
	return cancelableStatuses[status]
}

func statusStrings(statuses []enums.OrderStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}
