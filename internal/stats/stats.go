// Package stats turns raw interface byte counters into throughput and
// running totals.
package stats

import "time"

// Counters is one raw reading of an interface's cumulative byte counters.
type Counters struct {
	TxBytes uint64
	RxBytes uint64
	Time    time.Time
}

// NetworkStats is the result of one sampling step.
type NetworkStats struct {
	// Interface is the sampled interface name (e.g. "wlp2s0").
	Interface string `json:"interface"`

	// BytesUp and BytesDown are the raw cumulative counters as read.
	BytesUp   uint64 `json:"bytes_up"`
	BytesDown uint64 `json:"bytes_down"`

	// SpeedUp and SpeedDown are bytes per second since the previous sample.
	// Both are zero on the first sample.
	SpeedUp   float64 `json:"speed_up"`
	SpeedDown float64 `json:"speed_down"`

	// TotalUp and TotalDown are bytes transferred since the monitor was
	// created. They never decrease and saturate instead of wrapping.
	TotalUp   uint64 `json:"total_up"`
	TotalDown uint64 `json:"total_down"`

	// Duration is the time elapsed since the monitor was created.
	Duration time.Duration `json:"duration"`

	// Timestamp is when the counters were read.
	Timestamp time.Time `json:"timestamp"`
}
