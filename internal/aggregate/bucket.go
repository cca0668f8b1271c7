// Package aggregate implements the watermark-driven minute-bar aggregation
// engine: bucketing ticks into fixed 60-second windows, computing OHLV
// summaries, and committing them idempotently.
package aggregate

import (
	"github.com/pattarap/tickbar/internal/domain"
)

// Bucket holds the ticks of one minute window for one series.
type Bucket struct {
	Start int64
	Ticks []domain.Tick
}

// Closed reports whether the bucket's window has fully elapsed at the given
// wall-clock time. Only closed buckets are committed; the trailing open
// bucket may still receive ticks and is re-read on the next run.
func (b Bucket) Closed(nowUnix int64) bool {
	return b.Start+domain.BarWindowSeconds <= nowUnix
}

// Partition groups ticks into minute buckets, returned in ascending window
// order. The input must be ordered by timestamp then arrival sequence, which
// is how the tick store returns it; ticks of one window are therefore
// contiguous.
func Partition(ticks []domain.Tick) []Bucket {
	var buckets []Bucket
	for _, t := range ticks {
		start := domain.BucketStart(t.Timestamp)
		if n := len(buckets); n == 0 || buckets[n-1].Start != start {
			buckets = append(buckets, Bucket{Start: start})
		}
		last := &buckets[len(buckets)-1]
		last.Ticks = append(last.Ticks, t)
	}
	return buckets
}

// Summarize computes the OHLV aggregate over the bucket's ticks. First and
// last price follow tick timestamp order with ties broken by arrival
// sequence. Missing volumes contribute zero. The bucket must not be empty.
func Summarize(pair domain.Pair, b Bucket) domain.MinuteBar {
	first, last := b.Ticks[0], b.Ticks[0]
	bar := domain.MinuteBar{
		Instrument:  pair.Instrument,
		Exchange:    pair.Exchange,
		BucketStart: b.Start,
		MinPrice:    b.Ticks[0].Price,
		MaxPrice:    b.Ticks[0].Price,
	}

	for _, t := range b.Ticks {
		if t.Price < bar.MinPrice {
			bar.MinPrice = t.Price
		}
		if t.Price > bar.MaxPrice {
			bar.MaxPrice = t.Price
		}
		if earlier(t, first) {
			first = t
		}
		// A tick at the same (timestamp, sequence) replaces last so that the
		// latest arrival wins ties.
		if !earlier(t, last) {
			last = t
		}
		if t.Volume != nil {
			bar.Volume += *t.Volume
		}
		if t.DayVolume != nil {
			bar.DayVolume += *t.DayVolume
		}
	}

	bar.FirstPrice = first.Price
	bar.FirstTickTS = first.Timestamp
	bar.FirstTickSeq = first.Seq
	bar.LastPrice = last.Price
	bar.LastTickTS = last.Timestamp
	bar.LastTickSeq = last.Seq
	return bar
}

// earlier orders ticks by (timestamp, arrival sequence).
func earlier(a, b domain.Tick) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Seq < b.Seq
}
