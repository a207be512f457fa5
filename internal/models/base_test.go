package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	a := NewULID()
	b := NewULID()

	assert.False(t, a.IsZero())
	assert.NotEqual(t, a, b)
	assert.Len(t, a.String(), 26)
}

func TestULID_Sortability(t *testing.T) {
	// ULIDs order lexicographically by creation time; task listings rely
	// on this.
	first := NewULID()
	time.Sleep(2 * time.Millisecond)
	second := NewULID()
	assert.Less(t, first.String(), second.String())
}

func TestParseULID(t *testing.T) {
	original := NewULID()

	parsed, err := ParseULID(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)

	_, err = ParseULID("not-a-ulid")
	assert.Error(t, err)

	assert.Panics(t, func() { MustParseULID("nope") })
}

func TestULID_SQLRoundTrip(t *testing.T) {
	id := NewULID()

	value, err := id.Value()
	require.NoError(t, err)

	var scanned ULID
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, id, scanned)

	t.Run("zero stores as NULL", func(t *testing.T) {
		value, err := (ULID{}).Value()
		require.NoError(t, err)
		assert.Nil(t, value)

		var scanned ULID
		require.NoError(t, scanned.Scan(nil))
		assert.True(t, scanned.IsZero())
	})

	t.Run("bytes accepted", func(t *testing.T) {
		var scanned ULID
		require.NoError(t, scanned.Scan([]byte(id.String())))
		assert.Equal(t, id, scanned)
	})

	t.Run("unsupported type rejected", func(t *testing.T) {
		var scanned ULID
		assert.Error(t, scanned.Scan(42))
	})
}

func TestULID_JSONRoundTrip(t *testing.T) {
	id := NewULID()

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var decoded ULID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)

	t.Run("zero encodes as null", func(t *testing.T) {
		data, err := json.Marshal(ULID{})
		require.NoError(t, err)
		assert.Equal(t, "null", string(data))

		var decoded ULID
		require.NoError(t, json.Unmarshal([]byte("null"), &decoded))
		assert.True(t, decoded.IsZero())
	})

	t.Run("garbage rejected", func(t *testing.T) {
		var decoded ULID
		assert.Error(t, json.Unmarshal([]byte(`"xx"`), &decoded))
		assert.Error(t, json.Unmarshal([]byte(`12`), &decoded))
	})
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	t.Run("assigns id when unset", func(t *testing.T) {
		m := &BaseModel{}
		require.NoError(t, m.BeforeCreate(nil))
		assert.False(t, m.ID.IsZero())
	})

	t.Run("keeps caller-assigned id", func(t *testing.T) {
		id := NewULID()
		m := &BaseModel{ID: id}
		require.NoError(t, m.BeforeCreate(nil))
		assert.Equal(t, id, m.ID)
	})
}
