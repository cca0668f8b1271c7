package feed

import (
	"encoding/base64"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pattarap/tickbar/internal/domain"
)

// encodeRecord builds a wire-format pricing record the way the streamer does.
func encodeRecord(fn func(b []byte) []byte) []byte {
	raw := fn(nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendFloat(b []byte, num protowire.Number, f float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(f))
}

func appendSint64(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendEnum(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func TestDecodeTicker(t *testing.T) {
	payload := encodeRecord(func(b []byte) []byte {
		b = appendString(b, fieldID, "BTC-USD")
		b = appendFloat(b, fieldPrice, 64250.5)
		b = appendSint64(b, fieldTime, 1700000123)
		b = appendString(b, fieldExchange, "CCC")
		b = appendEnum(b, fieldMarketHours, 1)
		b = appendFloat(b, fieldChangePercent, -1.25)
		b = appendSint64(b, fieldDayVolume, 123456)
		b = appendFloat(b, fieldChange, -812.5)
		b = appendSint64(b, fieldLastSize, 3)
		b = appendSint64(b, fieldPriceHint, 2)
		return b
	})

	tick, err := DecodeTicker(payload)
	require.NoError(t, err)

	assert.Equal(t, "BTC-USD", tick.Instrument)
	assert.Equal(t, "CCC", tick.Exchange)
	assert.InDelta(t, 64250.5, tick.Price, 0.01)
	assert.Equal(t, int64(1700000123), tick.Timestamp)

	require.NotNil(t, tick.Session)
	assert.Equal(t, domain.SessionRegular, *tick.Session)
	require.NotNil(t, tick.ChangePercent)
	assert.InDelta(t, -1.25, *tick.ChangePercent, 0.0001)
	require.NotNil(t, tick.DayVolume)
	assert.Equal(t, int64(123456), *tick.DayVolume)
	require.NotNil(t, tick.Change)
	assert.InDelta(t, -812.5, *tick.Change, 0.01)
	require.NotNil(t, tick.Volume)
	assert.Equal(t, int64(3), *tick.Volume)
	require.NotNil(t, tick.PriceHint)
	assert.Equal(t, int64(2), *tick.PriceHint)
}

func TestDecodeTickerOmitsAbsentFields(t *testing.T) {
	payload := encodeRecord(func(b []byte) []byte {
		b = appendString(b, fieldID, "GC=F")
		b = appendFloat(b, fieldPrice, 2400.25)
		b = appendSint64(b, fieldTime, 1700000000)
		return b
	})

	tick, err := DecodeTicker(payload)
	require.NoError(t, err)

	assert.Equal(t, "GC=F", tick.Instrument)
	assert.Empty(t, tick.Exchange)
	assert.Nil(t, tick.Session)
	assert.Nil(t, tick.ChangePercent)
	assert.Nil(t, tick.Volume)
	assert.Nil(t, tick.DayVolume)
	assert.Nil(t, tick.Change)
	assert.Nil(t, tick.PriceHint)
}

func TestDecodeTickerSkipsUnknownFields(t *testing.T) {
	payload := encodeRecord(func(b []byte) []byte {
		b = appendString(b, fieldID, "ES=F")
		// Unknown fields of every wire type must be skipped, not rejected.
		b = protowire.AppendTag(b, 40, protowire.VarintType)
		b = protowire.AppendVarint(b, 99)
		b = protowire.AppendTag(b, 41, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte("future extension"))
		b = protowire.AppendTag(b, 42, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, 7)
		b = appendFloat(b, fieldPrice, 5000)
		return b
	})

	tick, err := DecodeTicker(payload)
	require.NoError(t, err)
	assert.Equal(t, "ES=F", tick.Instrument)
	assert.InDelta(t, 5000.0, tick.Price, 0.001)
}

func TestDecodeTickerRejectsBadBase64(t *testing.T) {
	_, err := DecodeTicker([]byte("not base64!!!"))
	assert.Error(t, err)
}

func TestDecodeTickerRejectsTruncatedRecord(t *testing.T) {
	raw := appendString(nil, fieldID, "BTC-USD")
	// Chop the record mid-field.
	raw = raw[:len(raw)-3]
	payload := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(payload, raw)

	_, err := DecodeTicker(payload)
	assert.Error(t, err)
}
