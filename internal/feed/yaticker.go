package feed

import (
	"encoding/base64"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pattarap/tickbar/internal/domain"
)

// Field numbers of the streamer's PricingData protobuf message. The streamer
// sends each update as a base64-encoded record; only the fields this system
// stores are decoded, everything else is skipped by wire type.
const (
	fieldID            = 1  // string ticker symbol
	fieldPrice         = 2  // float
	fieldTime          = 3  // sint64, seconds since epoch
	fieldExchange      = 5  // string
	fieldMarketHours   = 7  // enum: pre/regular/post/extended
	fieldChangePercent = 8  // float
	fieldDayVolume     = 9  // sint64
	fieldChange        = 12 // float
	fieldLastSize      = 22 // sint64, size of the last trade
	fieldPriceHint     = 27 // sint64, display precision
)

// DecodeTicker decodes one base64-encoded pricing record into a Tick.
// Optional fields absent from the record stay nil; required-field validation
// is the ingestion sink's job, not the decoder's.
func DecodeTicker(payload []byte) (domain.Tick, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(raw, payload)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("feed: decode base64: %w", err)
	}
	return decodePricingData(raw[:n])
}

func decodePricingData(b []byte) (domain.Tick, error) {
	var tick domain.Tick

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return domain.Tick{}, fmt.Errorf("feed: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldID, fieldExchange:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return domain.Tick{}, fmt.Errorf("feed: malformed string field %d: %w", num, protowire.ParseError(n))
			}
			if num == fieldID {
				tick.Instrument = string(v)
			} else {
				tick.Exchange = string(v)
			}
			b = b[n:]

		case fieldPrice, fieldChangePercent, fieldChange:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return domain.Tick{}, fmt.Errorf("feed: malformed float field %d: %w", num, protowire.ParseError(n))
			}
			f := float64(math.Float32frombits(v))
			switch num {
			case fieldPrice:
				tick.Price = f
			case fieldChangePercent:
				tick.ChangePercent = &f
			case fieldChange:
				tick.Change = &f
			}
			b = b[n:]

		case fieldTime, fieldDayVolume, fieldLastSize, fieldPriceHint, fieldMarketHours:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return domain.Tick{}, fmt.Errorf("feed: malformed varint field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case fieldTime:
				tick.Timestamp = protowire.DecodeZigZag(v)
			case fieldDayVolume:
				dv := protowire.DecodeZigZag(v)
				tick.DayVolume = &dv
			case fieldLastSize:
				ls := protowire.DecodeZigZag(v)
				tick.Volume = &ls
			case fieldPriceHint:
				ph := protowire.DecodeZigZag(v)
				tick.PriceHint = &ph
			case fieldMarketHours:
				s := domain.MarketSession(v)
				tick.Session = &s
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return domain.Tick{}, fmt.Errorf("feed: malformed field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return tick, nil
}
