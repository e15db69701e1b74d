package sim

// Counter aggregates accepted payment volume for the run summary.
type Counter struct {
	Payments        int
	TotalMinorUnits int64
	Currency        string
}

// Add records one accepted payment. The first currency seen labels the total;
// mixed-currency runs report volume in that label without conversion.
func (c *Counter) Add(amountMinor int64, currency string) {
	c.Payments++
	c.TotalMinorUnits += amountMinor
	if c.Currency == "" {
		c.Currency = currency
	}
}

// MajorAmount reports the accumulated volume in major units.
func (c Counter) MajorAmount() float64 {
	return float64(c.TotalMinorUnits) / 100
}
