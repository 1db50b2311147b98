// Package models defines the GORM models persisted by hlsabr.
package models

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID is a lexically sortable identifier stored as a 26 character string.
type ULID ulid.ULID

// NewULID generates a ULID for the current time.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseULID parses a ULID string.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(id), nil
}

func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero reports whether u is the zero ULID.
func (u ULID) IsZero() bool {
	return u == ULID{}
}

// Time returns the timestamp component.
func (u ULID) Time() time.Time {
	return ulid.Time(ulid.ULID(u).Time())
}

// Value implements driver.Valuer.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan implements sql.Scanner.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = ULID(id)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (u ULID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *ULID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = ULID{}
		return nil
	}
	id, err := ParseULID(string(data))
	if err != nil {
		return err
	}
	*u = id
	return nil
}

// GormDataType returns the column type used for ULIDs.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// BaseModel carries the primary key and creation time of append-only records.
type BaseModel struct {
	ID        ULID      `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate generates a ULID if not already set.
func (b *BaseModel) BeforeCreate(*gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewULID()
	}
	return nil
}
