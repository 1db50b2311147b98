package models

// Outcomes recorded for a segment fetch. They match fetch.Outcome strings.
const (
	OutcomeSuccess        = "success"
	OutcomeTransportError = "transport_error"
	OutcomeParseError     = "parse_error"
	OutcomeCancelled      = "cancelled"
)

// FetchRecord is one completed segment fetch.
type FetchRecord struct {
	BaseModel

	SessionID string `gorm:"not null;size:36;index" json:"session_id"`
	// RequestID is the fetch request's ULID.
	RequestID      string `gorm:"size:26;index" json:"request_id"`
	Sequence       int    `gorm:"not null" json:"sequence"`
	VariantBitrate int    `gorm:"not null" json:"variant_bitrate"`
	// URL is stored with credentials and signed query parameters masked.
	URL        string `gorm:"not null;size:2048" json:"url"`
	Encrypted  bool   `json:"encrypted"`
	Bytes      int64  `json:"bytes"`
	Samples    int    `json:"samples"`
	DurationMs int64  `json:"duration_ms"`
	Outcome    string `gorm:"not null;size:20;index" json:"outcome"`
	Error      string `gorm:"size:1024" json:"error,omitempty"`
	Advance    int    `json:"advance"`
}

// TableName returns the table name for fetch records.
func (FetchRecord) TableName() string {
	return "fetch_records"
}

// Succeeded reports whether the fetch completed without error.
func (r *FetchRecord) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Validate checks the record before it is persisted.
func (r *FetchRecord) Validate() error {
	if r.SessionID == "" {
		return ErrSessionIDRequired
	}
	if r.URL == "" {
		return ErrURLRequired
	}
	switch r.Outcome {
	case OutcomeSuccess, OutcomeTransportError, OutcomeParseError, OutcomeCancelled:
	default:
		return ErrInvalidOutcome
	}
	if r.Sequence < 0 {
		return ErrValidation{Field: "sequence", Message: "must not be negative"}
	}
	if r.Bytes < 0 {
		return ErrValidation{Field: "bytes", Message: "must not be negative"}
	}
	return nil
}
