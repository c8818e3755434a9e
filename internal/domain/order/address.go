package order

// ResolveBilling returns the effective billing address for display.
//
// Orders created before the billing address existed store only a shipping
// address; billing defaults to shipping at read time. This is compatibility
// logic, not a migration: historical records are never rewritten, which
// keeps delivered orders immutable.
func ResolveBilling(billing, shipping *Address) *Address {
	if billing == nil {
		return shipping
	}
	return billing
}
