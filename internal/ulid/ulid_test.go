package ulid

import (
	"database/sql/driver"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	assert.False(t, id.IsZero(), "Generated ULID should not be zero")
	assert.True(t, time.Since(id.Time()) < time.Second, "ULID timestamp should be close to now")
}

func TestGenerateWithPrefix(t *testing.T) {
	prefixes := []string{PrefixPhoto, PrefixPass, PrefixRequest, PrefixSyncLog, "custom"}

	for _, prefix := range prefixes {
		id := GenerateWithPrefix(prefix)

		assert.Equal(t, prefix, id.Prefix())
		assert.True(t, strings.HasPrefix(id.String(), prefix+PrefixSeparator))
	}
}

func TestParse(t *testing.T) {
	raw := Generate()
	parsedRaw, err := Parse(raw.String())
	require.NoError(t, err)
	assert.Equal(t, raw, parsedRaw)

	prefixed := GenerateWithPrefix(PrefixPhoto)
	parsedPrefixed, err := Parse(prefixed.String())
	require.NoError(t, err)
	assert.Equal(t, prefixed, parsedPrefixed)
	assert.Equal(t, PrefixPhoto, parsedPrefixed.Prefix())

	_, err = Parse("invalid-ulid")
	assert.Error(t, err)
}

func TestParseNestedPrefix(t *testing.T) {
	id := GenerateWithPrefix("photo_offline")
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, "photo_offline", parsed.Prefix())
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(Generate().String()))
	assert.True(t, Validate(PhotoID()))
	assert.False(t, Validate("not a ulid"))
	assert.False(t, Validate(""))
}

func TestJSONMarshalUnmarshal(t *testing.T) {
	original := GenerateWithPrefix(PrefixPass)

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, `"`+original.String()+`"`, string(data))

	var decoded ULID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)

	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &decoded))
}

func TestDatabaseSerialization(t *testing.T) {
	original := GenerateWithPrefix(PrefixSetting)

	value, err := original.Value()
	require.NoError(t, err)
	assert.Equal(t, original.String(), value)

	var fromString ULID
	require.NoError(t, fromString.Scan(original.String()))
	assert.Equal(t, original, fromString)

	var fromBytes ULID
	require.NoError(t, fromBytes.Scan([]byte(original.String())))
	assert.Equal(t, original, fromBytes)

	var fromNil ULID
	require.NoError(t, fromNil.Scan(nil))
	assert.True(t, fromNil.IsZero())

	var fromInt ULID
	assert.Error(t, fromInt.Scan(42))

	var _ driver.Valuer = original
}

func TestOfflineItemID(t *testing.T) {
	before := time.Now().UnixMilli()
	id := OfflineItemID()
	after := time.Now().UnixMilli()

	parts := strings.Split(id, PrefixSeparator)
	require.Len(t, parts, 3)
	assert.Equal(t, PrefixOffline, parts[0])

	ms, err := strconv.ParseInt(parts[1], 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ms, before)
	assert.LessOrEqual(t, ms, after)

	assert.Len(t, parts[2], 16)
	assert.Equal(t, strings.ToLower(parts[2]), parts[2])

	assert.NotEqual(t, id, OfflineItemID(), "consecutive ids must differ")
}

func TestDomainIDGeneration(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"photo", PhotoID, PrefixPhoto},
		{"pass", PassID, PrefixPass},
		{"request", RequestID, PrefixRequest},
		{"setting", SettingID, PrefixSetting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.gen()
			parsed, err := Parse(id)
			require.NoError(t, err)
			assert.Equal(t, tt.prefix, parsed.Prefix())
		})
	}
}

func BenchmarkOfflineItemID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		OfflineItemID()
	}
}

func TestRandomSuffix(t *testing.T) {
	a := RandomSuffix()
	assert.Len(t, a, 9)
	assert.Equal(t, strings.ToLower(a), a)
	assert.NotEqual(t, a, RandomSuffix())
}
