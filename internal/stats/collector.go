package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StallThreshold is the number of consecutive failed samples after which a
// collector reports its interface as stalled.
const StallThreshold = 3

// Collector runs a Monitor in a background goroutine and delivers samples
// to a callback. It is the cancellable session used by the helper and the
// in-process frontends.
type Collector struct {
	source       CounterSource
	pollInterval time.Duration

	mu        sync.Mutex
	iface     string
	onStats   func(NetworkStats)
	onStalled func(error)
	cancel    context.CancelFunc
	done      chan struct{}

	// failures is only touched by the polling goroutine.
	failures int
}

// NewCollector creates a collector reading from source.
// If pollInterval is 0, DefaultPollInterval is used.
func NewCollector(source CounterSource, pollInterval time.Duration) *Collector {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Collector{
		source:       source,
		pollInterval: pollInterval,
	}
}

// OnStats registers a callback that is invoked for each sample.
// The callback is called from the polling goroutine and must not call Stop.
func (c *Collector) OnStats(callback func(NetworkStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStats = callback
}

// OnStalled registers a callback invoked once per failure streak, when
// StallThreshold samples in a row could not be read. It is called from the
// polling goroutine and must not call Stop.
func (c *Collector) OnStalled(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStalled = callback
}

// Start validates the interface and begins sampling it. ctx bounds the
// validation only; the polling loop lives until Stop.
// Starting an already running collector is a no-op.
func (c *Collector) Start(ctx context.Context, interfaceName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil
	}

	m, err := NewMonitor(ctx, c.source, interfaceName)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.iface = interfaceName
	c.cancel = cancel
	c.done = done
	c.failures = 0

	go func() {
		defer close(done)
		m.run(loopCtx, c.pollInterval, c.emit, c.fail)
	}()

	slog.Info("Stats collector started", "interface", interfaceName, "interval", c.pollInterval)
	return nil
}

// Stop cancels the polling loop and waits for it to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return
	}
	cancel, done, iface := c.cancel, c.done, c.iface
	c.cancel = nil
	c.done = nil
	c.iface = ""
	c.mu.Unlock()

	cancel()
	<-done
	slog.Info("Stats collector stopped", "interface", iface)
}

// IsRunning returns true if the collector is actively polling.
func (c *Collector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Interface returns the interface being polled, or "" when stopped.
func (c *Collector) Interface() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iface
}

func (c *Collector) emit(s NetworkStats) {
	c.failures = 0

	c.mu.Lock()
	callback := c.onStats
	c.mu.Unlock()

	if callback != nil {
		callback(s)
	}
}

func (c *Collector) fail(err error) {
	c.failures++
	if c.failures != StallThreshold {
		return
	}

	c.mu.Lock()
	callback, iface := c.onStalled, c.iface
	c.mu.Unlock()

	slog.Warn("Interface counters keep failing", "interface", iface, "failures", c.failures, "error", err)
	if callback != nil {
		callback(err)
	}
}
