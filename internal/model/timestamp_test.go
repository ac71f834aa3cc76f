package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp(t *testing.T) {
	t.Run("encodes six fractional digits", func(t *testing.T) {
		ts := Timestamp(1700000000_250000)
		b, err := json.Marshal(ts)
		require.NoError(t, err)
		assert.Equal(t, "1700000000.250000", string(b))
	})

	t.Run("encodes negative values", func(t *testing.T) {
		assert.Equal(t, "-1.500000", Timestamp(-1_500_000).String())
	})

	t.Run("parses numbers and strings", func(t *testing.T) {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(`1700000000.25`), &ts))
		assert.Equal(t, Timestamp(1700000000_250000), ts)

		require.NoError(t, json.Unmarshal([]byte(`"1700000000"`), &ts))
		assert.Equal(t, Timestamp(1700000000_000000), ts)
	})

	t.Run("truncates beyond microseconds", func(t *testing.T) {
		ts, err := ParseTimestamp("12.1234567")
		require.NoError(t, err)
		assert.Equal(t, Timestamp(12_123456), ts)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		for _, in := range []string{"", "abc", "1e9", "1.2.3", "-"} {
			_, err := ParseTimestamp(in)
			assert.Error(t, err, in)
		}
	})

	t.Run("rejects values past the int64 range", func(t *testing.T) {
		for _, in := range []string{
			"99999999999999",
			"-99999999999999",
			"9223372036854.775808",
			"9223372036854775807",
		} {
			_, err := ParseTimestamp(in)
			assert.ErrorIs(t, err, ErrTimestampRange, in)
		}

		ts, err := ParseTimestamp("9223372036854.775807")
		require.NoError(t, err)
		assert.Equal(t, Timestamp(math.MaxInt64), ts)
	})

	t.Run("range checks times", func(t *testing.T) {
		_, err := NewTimestamp(time.Date(300000, 1, 1, 0, 0, 0, 0, time.UTC))
		assert.ErrorIs(t, err, ErrTimestampRange)
		_, err = NewTimestamp(time.Date(-300000, 1, 1, 0, 0, 0, 0, time.UTC))
		assert.ErrorIs(t, err, ErrTimestampRange)

		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		ts, err := NewTimestamp(now)
		require.NoError(t, err)
		assert.Equal(t, TimestampOf(now), ts)
	})

	t.Run("survives repeated round trips", func(t *testing.T) {
		ts := TimestampOf(time.Date(2024, 1, 2, 3, 4, 5, 678901000, time.UTC))
		for i := 0; i < 5; i++ {
			b, err := json.Marshal(ts)
			require.NoError(t, err)
			var back Timestamp
			require.NoError(t, json.Unmarshal(b, &back))
			assert.Equal(t, ts, back)
			ts = back
		}
		assert.Equal(t, 678901000, ts.Time().Nanosecond())
	})
}

func TestItemExpiry(t *testing.T) {
	item := Item{
		"session": json.RawMessage(`{}`),
		"ttl":     json.RawMessage(`1700000000.900000`),
		"nil":     json.RawMessage(`null`),
		"bad":     json.RawMessage(`"soon"`),
	}

	secs, err := item.Expiry("ttl")
	require.NoError(t, err)
	require.NotNil(t, secs)
	assert.Equal(t, int64(1700000000), *secs)

	secs, err = item.Expiry("")
	require.NoError(t, err)
	assert.Nil(t, secs)

	secs, err = item.Expiry("nil")
	require.NoError(t, err)
	assert.Nil(t, secs)

	_, err = item.Expiry("bad")
	assert.Error(t, err)
}

func TestItemScanValue(t *testing.T) {
	item := Item{"a": json.RawMessage(`1`)}
	v, err := item.Value()
	require.NoError(t, err)

	var back Item
	require.NoError(t, back.Scan(v))
	assert.JSONEq(t, `1`, string(back["a"]))

	require.NoError(t, back.Scan([]byte(`{"b":true}`)))
	assert.JSONEq(t, `true`, string(back["b"]))

	assert.Error(t, back.Scan(42))
}
