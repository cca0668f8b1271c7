package domain

// BarWindowSeconds is the fixed width of an aggregation bucket.
const BarWindowSeconds int64 = 60

// BucketStart returns the start of the minute window containing ts, i.e.
// floor(ts/60)*60 for the half-open window [start, start+60).
func BucketStart(ts int64) int64 {
	start := ts - ts%BarWindowSeconds
	if ts < 0 && ts%BarWindowSeconds != 0 {
		start -= BarWindowSeconds
	}
	return start
}

// MinuteBar is the OHLV aggregate over all ticks for one (instrument,
// exchange) falling in a half-open minute window. At most one bar exists per
// (instrument, exchange, BucketStart); the aggregator merges new ticks into
// an existing bar, it never creates a second row for the same window.
type MinuteBar struct {
	Instrument  string
	Exchange    string
	BucketStart int64

	MinPrice   float64
	MaxPrice   float64
	FirstPrice float64
	LastPrice  float64

	// Recorded extremes of the ticks folded into this bar so far. They make
	// the merge deterministic: first/last price only move when a newly merged
	// tick is strictly earlier / not earlier than the stored extreme.
	FirstTickTS  int64
	FirstTickSeq int64
	LastTickTS   int64
	LastTickSeq  int64

	// Volume sums the per-trade volumes of the bucket's ticks; DayVolume sums
	// the cumulative day volumes as reported by the feed. Missing values
	// contribute zero.
	Volume    int64
	DayVolume int64
}
