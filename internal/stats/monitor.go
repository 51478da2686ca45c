package stats

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"time"
)

// DefaultPollInterval is the default interval between samples.
const DefaultPollInterval = 2 * time.Second

var (
	// ErrInvalidInterfaceName is returned when the interface name is empty
	// or absent from the host's interface list.
	ErrInvalidInterfaceName = errors.New("invalid interface name")
	// ErrInterfaceValidation is returned when the host's interface list
	// could not be read.
	ErrInterfaceValidation = errors.New("interface validation failed")
)

// Monitor holds the sampling state of one interface: the previous raw
// reading and the running totals. A Monitor must not be sampled
// concurrently; each one is owned by a single goroutine.
type Monitor struct {
	source    CounterSource
	iface     string
	now       func() time.Time
	startTime time.Time

	last      *Counters
	totalUp   uint64
	totalDown uint64
}

// NewMonitor validates that name exists on the host and returns a monitor
// with no previous sample and zero totals.
func NewMonitor(ctx context.Context, source CounterSource, name string) (*Monitor, error) {
	if name == "" {
		return nil, ErrInvalidInterfaceName
	}

	names, err := source.Interfaces(ctx)
	if err != nil {
		slog.Error("Failed to enumerate interfaces", "error", err)
		return nil, errors.Join(ErrInterfaceValidation, err)
	}
	if !slices.Contains(names, name) {
		slog.Warn("Interface not found", "interface", name, "available", names)
		return nil, ErrInvalidInterfaceName
	}

	return &Monitor{
		source:    source,
		iface:     name,
		now:       time.Now,
		startTime: time.Now(),
	}, nil
}

// Interface returns the monitored interface name.
func (m *Monitor) Interface() string {
	return m.iface
}

// Sample reads the counters once and folds them into the monitor state.
// It returns false when the counters cannot be read; the failure is logged
// and the state is left untouched so the next sample can proceed.
func (m *Monitor) Sample(ctx context.Context) (NetworkStats, bool) {
	s, err := m.sample(ctx)
	return s, err == nil
}

func (m *Monitor) sample(ctx context.Context) (NetworkStats, error) {
	tx, rx, err := m.source.Counters(ctx, m.iface)
	if err != nil {
		slog.Debug("Failed to read interface counters", "interface", m.iface, "error", err)
		return NetworkStats{}, err
	}

	now := m.now()
	var upDiff, downDiff uint64
	var speedUp, speedDown float64
	if m.last != nil {
		// A counter lower than the previous reading means the interface was
		// reset; that interval contributes nothing.
		upDiff = saturatingSub(tx, m.last.TxBytes)
		downDiff = saturatingSub(rx, m.last.RxBytes)

		// A zero or negative interval yields no speed rather than Inf/NaN.
		if elapsed := now.Sub(m.last.Time).Seconds(); elapsed > 0 {
			speedUp = float64(upDiff) / elapsed
			speedDown = float64(downDiff) / elapsed
		}
	}

	m.last = &Counters{TxBytes: tx, RxBytes: rx, Time: now}
	m.totalUp = saturatingAdd(m.totalUp, upDiff)
	m.totalDown = saturatingAdd(m.totalDown, downDiff)

	s := NetworkStats{
		Interface: m.iface,
		BytesUp:   tx,
		BytesDown: rx,
		SpeedUp:   speedUp,
		SpeedDown: speedDown,
		TotalUp:   m.totalUp,
		TotalDown: m.totalDown,
		Duration:  now.Sub(m.startTime),
		Timestamp: now,
	}
	slog.Debug("Computed stats",
		"interface", m.iface,
		"speed_up", speedUp,
		"speed_down", speedDown,
		"total_up", m.totalUp,
		"total_down", m.totalDown)
	return s, nil
}

// Run samples immediately and then every interval until ctx is cancelled,
// passing each successful sample to onSample. Failed samples are skipped.
// onSample runs on the calling goroutine, so samples are delivered in order.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, onSample func(NetworkStats)) {
	m.run(ctx, interval, onSample, nil)
}

// run is Run with failed samples passed to onFailure.
func (m *Monitor) run(ctx context.Context, interval time.Duration, onSample func(NetworkStats), onFailure func(error)) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	emit := func() {
		s, err := m.sample(ctx)
		switch {
		case err == nil && onSample != nil:
			onSample(s)
		case err != nil && onFailure != nil && ctx.Err() == nil:
			onFailure(err)
		}
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit()
		}
	}
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
