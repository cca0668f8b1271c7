package domain

// Watermark is the per (instrument, exchange) aggregation cursor: the
// timestamp of the most recent tick already folded into a bar. It is owned
// exclusively by the aggregator and never consulted by the query path.
//
// A LastProcessed of zero is the "beginning of time" sentinel for a series
// that has never been aggregated.
type Watermark struct {
	Instrument    string
	Exchange      string
	LastProcessed int64
}
