package order

import "fmt"

// Status is the order lifecycle state.
//
// The success path is PENDING -> PROCESSING -> DISPATCHED -> DELIVERED with
// no skipped steps. CANCELLED is reachable from PENDING only. DELIVERED and
// CANCELLED are terminal.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDispatched Status = "DISPATCHED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusDispatched, StatusDelivered, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether the transition s -> next is legal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusDispatched
	case StatusDispatched:
		return next == StatusDelivered
	}
	return false
}

// IllegalTransitionError indicates a rejected status transition.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order status transition %s -> %s", e.From, e.To)
}
