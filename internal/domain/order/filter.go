package order

import "time"

// Filter selects orders for listing. AND semantics across fields, OR
// semantics within Statuses. Zero values mean "no constraint".
type Filter struct {
	Statuses          []Status
	CustomerID        string
	PaymentMethod     string
	CreatedFrom       *time.Time
	CreatedTo         *time.Time
	ContainsProductID string // matches either product or variant references
}

// Page bounds a listing. A zero Limit falls back to DefaultPageLimit.
type Page struct {
	Limit  int
	Offset int
}

// DefaultPageLimit bounds unpaginated listing requests.
const DefaultPageLimit = 50

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
