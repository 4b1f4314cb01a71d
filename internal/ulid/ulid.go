// Package ulid wraps github.com/oklog/ulid/v2 with prefixed identifiers used across obrasync.
//
// ULIDs sort by creation time, which keeps queue and photo tables naturally ordered by
// insertion when the id is the primary key.
package ulid

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the different kinds of identifiers
const (
	// PrefixOffline marks items created on the device that the server has not seen yet
	PrefixOffline = "offline"

	// PrefixPhoto marks captured photos
	PrefixPhoto = "photo"

	// PrefixPass marks a single sync pass, used to correlate log lines
	PrefixPass = "pass"

	// PrefixRequest marks outgoing HTTP requests
	PrefixRequest = "req"

	// PrefixSetting marks rows of the settings table
	PrefixSetting = "set"

	// PrefixSyncLog marks sync attempt log rows
	PrefixSyncLog = "slog"

	// PrefixSeparator separates the prefix from the ULID
	PrefixSeparator = "_"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
	// Nil is the zero ULID
	Nil = ULID{ulid.ULID{}, ""}
)

// ULID is a ulid.ULID with an optional prefix
type ULID struct {
	ulid.ULID
	prefix string
}

// Generate creates a new ULID with the current timestamp.
func Generate() ULID {
	return NewWithTime(time.Now())
}

// GenerateWithPrefix creates a new ULID with the current timestamp and a prefix.
func GenerateWithPrefix(prefix string) ULID {
	id := NewWithTime(time.Now())
	id.prefix = prefix
	return id
}

// NewWithTime creates a new ULID with a specific timestamp.
func NewWithTime(t time.Time) ULID {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return ULID{id, ""}
}

// Parse parses a plain or prefixed ULID string. The prefix is everything before the
// last separator, so prefixes may themselves contain separators.
func Parse(id string) (ULID, error) {
	prefix, raw := split(id)
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return ULID{}, err
	}
	return ULID{parsed, prefix}, nil
}

// Validate reports whether id is a valid plain or prefixed ULID.
func Validate(id string) bool {
	_, raw := split(id)
	_, err := ulid.Parse(raw)
	return err == nil
}

func split(id string) (string, string) {
	i := strings.LastIndex(id, PrefixSeparator)
	if i < 0 {
		return "", id
	}
	return id[:i], id[i+1:]
}

// IsZero returns true if the ULID is the zero value.
func (u ULID) IsZero() bool {
	return u.ULID == ulid.ULID{}
}

// Prefix returns the prefix of the ULID.
func (u ULID) Prefix() string {
	return u.prefix
}

// String returns "prefix_ULID", or the bare ULID when there is no prefix.
func (u ULID) String() string {
	if u.prefix != "" {
		return u.prefix + PrefixSeparator + u.ULID.String()
	}
	return u.ULID.String()
}

// Time returns the timestamp component of the ULID.
func (u ULID) Time() time.Time {
	return ulid.Time(u.ULID.Time())
}

// MarshalJSON implements json.Marshaler.
func (u ULID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *ULID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Value implements driver.Valuer.
func (u ULID) Value() (driver.Value, error) {
	return u.String(), nil
}

// Scan implements sql.Scanner.
func (u *ULID) Scan(src interface{}) error {
	switch src := src.(type) {
	case nil:
		return nil
	case string:
		parsed, err := Parse(src)
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(src))
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into ULID", src)
}

// OfflineItemID returns a fresh device-local item id of the form
// offline_<unix-millis>_<random>.
func OfflineItemID() string {
	now := time.Now()
	id := NewWithTime(now).ULID.String()
	// The last 16 characters of a ULID are its random component.
	random := strings.ToLower(id[10:])
	return PrefixOffline + PrefixSeparator + strconv.FormatInt(now.UnixMilli(), 10) + PrefixSeparator + random
}

// PhotoID generates a new photo id
func PhotoID() string {
	return GenerateWithPrefix(PrefixPhoto).String()
}

// PassID generates a new sync pass id
func PassID() string {
	return GenerateWithPrefix(PrefixPass).String()
}

// RequestID generates a new request id
func RequestID() string {
	return GenerateWithPrefix(PrefixRequest).String()
}

// SettingID generates a new settings row id
func SettingID() string {
	return GenerateWithPrefix(PrefixSetting).String()
}

// RandomSuffix returns a short lowercase random token for object keys
func RandomSuffix() string {
	id := Generate().ULID.String()
	return strings.ToLower(id[len(id)-9:])
}

// SyncLogID generates a new sync attempt log id
func SyncLogID() string {
	return GenerateWithPrefix(PrefixSyncLog).String()
}
