// Package domain holds the shared value objects: typed ULID identifiers, money
// and timestamp rules. Everything here is transport- and storage-agnostic.
package domain

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	dErrors "myapi/pkg/domain-errors"
)

// EntityID identifies an aggregate. ULIDs sort lexicographically in creation
// order, which the list endpoints rely on for cursor pagination.
type EntityID ulid.ULID

// UserID identifies an account. Distinct from EntityID so the compiler rejects
// mixing them up.
type UserID ulid.ULID

// NewEntityID returns a fresh, monotonic ULID. Safe for concurrent use.
func NewEntityID() EntityID {
	return EntityID(ulid.Make())
}

// NewUserID returns a fresh, monotonic ULID. Safe for concurrent use.
func NewUserID() UserID {
	return UserID(ulid.Make())
}

// ParseEntityID validates s at a trust boundary.
func ParseEntityID(s string) (EntityID, error) {
	u, err := parseULID(s, "entity id")
	return EntityID(u), err
}

// ParseUserID validates s at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseULID(s, "user id")
	return UserID(u), err
}

// MustParseEntityID is for tests and constants only.
func MustParseEntityID(s string) EntityID {
	id, err := ParseEntityID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func parseULID(s, kind string) (ulid.ULID, error) {
	if s == "" {
		return ulid.ULID{}, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) != ulid.EncodedSize {
		return ulid.ULID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := ulid.ParseStrict(strings.ToUpper(s))
	if err != nil {
		return ulid.ULID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u.Compare(ulid.ULID{}) == 0 {
		return ulid.ULID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return u, nil
}

func (id EntityID) String() string { return ulid.ULID(id).String() }
func (id EntityID) IsNil() bool    { return ulid.ULID(id).Compare(ulid.ULID{}) == 0 }

// Time returns the creation timestamp embedded in the ID.
func (id EntityID) Time() time.Time { return ulid.Time(ulid.ULID(id).Time()).UTC() }

// Compare orders IDs by creation time, then entropy.
func (id EntityID) Compare(other EntityID) int {
	return ulid.ULID(id).Compare(ulid.ULID(other))
}

func (id EntityID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *EntityID) UnmarshalText(b []byte) error {
	parsed, err := ParseEntityID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id UserID) String() string {
	if id.IsNil() {
		return ""
	}
	return ulid.ULID(id).String()
}

func (id UserID) IsNil() bool { return ulid.ULID(id).Compare(ulid.ULID{}) == 0 }

func (id UserID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *UserID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
