package domain

// MarketSession indicates which trading session a tick was observed in.
// The values mirror the upstream streamer's marketHours enum.
type MarketSession int16

const (
	SessionPre MarketSession = iota
	SessionRegular
	SessionPost
	SessionExtended
)

// String returns the lowercase session name used in logs and JSON output.
func (s MarketSession) String() string {
	switch s {
	case SessionPre:
		return "pre"
	case SessionRegular:
		return "regular"
	case SessionPost:
		return "post"
	case SessionExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// ParseMarketSession maps a session name back to its enum value. The second
// return value is false for names String never produces.
func ParseMarketSession(name string) (MarketSession, bool) {
	switch name {
	case "pre":
		return SessionPre, true
	case "regular":
		return SessionRegular, true
	case "post":
		return SessionPost, true
	case "extended":
		return SessionExtended, true
	default:
		return 0, false
	}
}

// Tick is a single timestamped price observation for an instrument. Ticks are
// append-only: once stored they are never updated or deleted by normal
// operation, and duplicate arrivals (e.g. after a feed reconnect) are
// tolerated at the storage layer.
type Tick struct {
	// Seq is the arrival sequence number assigned by the tick store. It is
	// zero for ticks that have not been persisted yet and is the tie-breaker
	// for first/last price when two ticks share a timestamp.
	Seq int64

	Instrument string
	Exchange   string
	Price      float64
	// Timestamp is the event time in seconds since the Unix epoch.
	Timestamp int64

	// Optional fields; nil when the upstream message omitted them.
	Session       *MarketSession
	ChangePercent *float64
	Volume        *int64
	DayVolume     *int64
	Change        *float64
	PriceHint     *int64
}

// Pair identifies one (instrument, exchange) series.
type Pair struct {
	Instrument string
	Exchange   string
}
