package fetch

import "fmt"

// ParseErrorPolicy decides whether a segment that failed to demux is
// skipped or fetched again.
type ParseErrorPolicy int

const (
	// SkipSegment keeps the samples pushed before the error and advances.
	SkipSegment ParseErrorPolicy = iota
	// RetrySegment leaves the sequence number unchanged.
	RetrySegment
)

func (p ParseErrorPolicy) String() string {
	switch p {
	case SkipSegment:
		return "skip"
	case RetrySegment:
		return "retry"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a configured policy name. Empty selects SkipSegment.
func ParsePolicy(s string) (ParseErrorPolicy, error) {
	switch s {
	case "", "skip":
		return SkipSegment, nil
	case "retry":
		return RetrySegment, nil
	default:
		return 0, fmt.Errorf("unknown parse error policy %q", s)
	}
}

// Outcome classifies how a fetch ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransportError
	OutcomeParseError
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeParseError:
		return "parse_error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// advance returns how far the sequence number moves after outcome.
func (p ParseErrorPolicy) advance(o Outcome) int {
	switch o {
	case OutcomeSuccess:
		return 1
	case OutcomeParseError:
		if p == SkipSegment {
			return 1
		}
	}
	return 0
}
