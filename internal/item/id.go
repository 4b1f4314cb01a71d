package item

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tildaslashalef/obrasync/internal/ulid"
)

// Kind tells whether an ItemID was assigned on the device or by the server
type Kind int

// ItemID kinds
const (
	KindLocal Kind = iota + 1
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	default:
		return "none"
	}
}

// localPrefixes are the id prefixes written by every client generation that created
// records offline. Only ParseID looks at them.
var localPrefixes = []string{"offline_", "local_", "temp_"}

// ItemID identifies a work record either by its device-local id or by its server id
type ItemID struct {
	kind  Kind
	value string
}

// Local wraps a device-local id
func Local(value string) ItemID {
	return ItemID{kind: KindLocal, value: value}
}

// Remote wraps a server-assigned id
func Remote(value string) ItemID {
	return ItemID{kind: KindRemote, value: value}
}

// NewLocalID generates a fresh local id of the form offline_<unix-millis>_<random>
func NewLocalID() ItemID {
	return Local(ulid.OfflineItemID())
}

// ParseID decodes a stored id string. Legacy local prefixes decode as Local, anything else
// as Remote. The empty string decodes to the zero ItemID.
func ParseID(s string) ItemID {
	if s == "" {
		return ItemID{}
	}
	for _, prefix := range localPrefixes {
		if strings.HasPrefix(s, prefix) {
			return Local(s)
		}
	}
	return Remote(s)
}

// Kind returns the id kind
func (id ItemID) Kind() Kind { return id.kind }

// IsLocal reports whether the id was assigned on the device
func (id ItemID) IsLocal() bool { return id.kind == KindLocal }

// IsRemote reports whether the id was assigned by the server
func (id ItemID) IsRemote() bool { return id.kind == KindRemote }

// IsZero reports whether the id is unset
func (id ItemID) IsZero() bool { return id.value == "" }

// String returns the raw id
func (id ItemID) String() string { return id.value }

// MarshalJSON implements json.Marshaler
func (id ItemID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ItemID) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("item id must be a string: %w", err)
	}
	if s == nil {
		*id = ItemID{}
		return nil
	}
	*id = ParseID(*s)
	return nil
}

// Value implements driver.Valuer
func (id ItemID) Value() (driver.Value, error) {
	return id.value, nil
}

// Scan implements sql.Scanner
func (id *ItemID) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*id = ItemID{}
	case string:
		*id = ParseID(v)
	case []byte:
		*id = ParseID(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ItemID", src)
	}
	return nil
}
