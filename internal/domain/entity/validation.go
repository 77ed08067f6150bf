package entity

// MaxRate is the upper sanity bound for an exchange rate
const MaxRate = 50000.0

// ValidationOutcome classifies a candidate rate
type ValidationOutcome int

const (
	// Valid rates become records
	Valid ValidationOutcome = iota
	// Missing means the snapshot had no rate for the currency
	Missing
	// NonPositive means the rate is zero or negative
	NonPositive
	// OutOfRange means the rate is above MaxRate or not finite
	OutOfRange
)

// String returns the outcome label used in logs and metrics
func (o ValidationOutcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Missing:
		return "missing"
	case NonPositive:
		return "non_positive"
	case OutOfRange:
		return "out_of_range"
	default:
		return "unknown"
	}
}

// ValidateRate classifies a rate looked up from a snapshot. present is false
// when the snapshot carried no rate for the currency.
func ValidateRate(rate float64, present bool) ValidationOutcome {
	switch {
	case !present:
		return Missing
	case rate <= 0:
		return NonPositive
	case !isFinite(rate) || rate > MaxRate:
		return OutOfRange
	default:
		return Valid
	}
}
