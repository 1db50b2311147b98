package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchRecord_Validate(t *testing.T) {
	valid := func() FetchRecord {
		return FetchRecord{
			SessionID: "0b6a1a8e-3f3c-4c43-9d2c-7d0f1c6f2a11",
			URL:       "http://cdn.test/800k/12.ts",
			Sequence:  12,
			Outcome:   OutcomeSuccess,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*FetchRecord)
		wantErr error
	}{
		{"valid", func(*FetchRecord) {}, nil},
		{"missing session", func(r *FetchRecord) { r.SessionID = "" }, ErrSessionIDRequired},
		{"missing url", func(r *FetchRecord) { r.URL = "" }, ErrURLRequired},
		{"unknown outcome", func(r *FetchRecord) { r.Outcome = "timeout" }, ErrInvalidOutcome},
		{"parse error outcome", func(r *FetchRecord) { r.Outcome = OutcomeParseError }, nil},
		{"negative sequence", func(r *FetchRecord) { r.Sequence = -1 }, ErrValidation{Field: "sequence", Message: "must not be negative"}},
		{"negative bytes", func(r *FetchRecord) { r.Bytes = -5 }, ErrValidation{Field: "bytes", Message: "must not be negative"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestFetchRecord_Succeeded(t *testing.T) {
	assert.True(t, (&FetchRecord{Outcome: OutcomeSuccess}).Succeeded())
	assert.False(t, (&FetchRecord{Outcome: OutcomeCancelled}).Succeeded())
}

func TestErrValidation_Error(t *testing.T) {
	err := ErrValidation{Field: "bytes", Message: "must not be negative"}
	assert.Equal(t, "validation error on field bytes: must not be negative", err.Error())
}
