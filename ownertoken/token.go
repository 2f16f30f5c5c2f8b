// Package ownertoken provides the 128-bit worker identity used to mark which
// process currently owns an in-progress row across every outboxkit queue.
package ownertoken

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// Token uniquely identifies one claim batch performed by one worker process.
// A fresh Token should be generated once per process (or per claim batch, if
// a process wants finer-grained crash blast radius) and reused across Claim
// calls so that Ack/Abandon/Fail can verify ownership.
type Token uuid.UUID

// New generates a random Token.
func New() Token {
	return Token(uuid.New())
}

// Nil reports whether the token is the zero value.
func (t Token) Nil() bool {
	return t == Token(uuid.Nil)
}

// String returns the canonical hyphenated hex representation.
func (t Token) String() string {
	return uuid.UUID(t).String()
}

// MarshalText implements encoding.TextMarshaler.
func (t Token) MarshalText() ([]byte, error) {
	return uuid.UUID(t).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Token) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*t = Token(u)
	return nil
}

// Value implements database/sql/driver.Valuer.
func (t Token) Value() (driver.Value, error) {
	if t.Nil() {
		return nil, nil
	}
	return uuid.UUID(t).String(), nil
}

// Scan implements database/sql.Scanner.
func (t *Token) Scan(src interface{}) error {
	if src == nil {
		*t = Token(uuid.Nil)
		return nil
	}
	switch v := src.(type) {
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		*t = Token(u)
		return nil
	case []byte:
		u, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		*t = Token(u)
		return nil
	default:
		return fmt.Errorf("ownertoken: cannot scan %T into Token", src)
	}
}
