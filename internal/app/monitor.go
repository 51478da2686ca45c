package app

import (
	"context"
	"time"

	"github.com/shini4i/wifimon/internal/client"
	"github.com/shini4i/wifimon/internal/helper/protocol"
	"github.com/shini4i/wifimon/internal/stats"
)

const reasonConnectionLost = "helper connection lost"

// Monitor is a throughput session on one interface, either sampled in
// process or run by the helper daemon.
type Monitor interface {
	// OnStats registers the sample callback. Must be called before Start.
	OnStats(func(stats.NetworkStats))
	// OnStopped registers a callback for sessions ended by the other side.
	OnStopped(func(reason string))
	// OnStalled registers a callback for a session whose counters keep
	// failing to read. Samples resume through OnStats if the interface returns.
	OnStalled(func(reason string))
	Start(ctx context.Context, iface string, interval time.Duration) error
	Stop(ctx context.Context) error
}

// localMonitor samples counters in this process.
type localMonitor struct {
	source    stats.CounterSource
	collector *stats.Collector
	onStats   func(stats.NetworkStats)
	onStalled func(string)
}

func newLocalMonitor(source stats.CounterSource) *localMonitor {
	return &localMonitor{source: source}
}

func (m *localMonitor) OnStats(callback func(stats.NetworkStats)) { m.onStats = callback }

// Local sessions only end when stopped.
func (m *localMonitor) OnStopped(func(string)) {}

func (m *localMonitor) OnStalled(callback func(string)) { m.onStalled = callback }

func (m *localMonitor) Start(ctx context.Context, iface string, interval time.Duration) error {
	m.collector = stats.NewCollector(m.source, interval)
	m.collector.OnStats(m.onStats)
	if m.onStalled != nil {
		m.collector.OnStalled(func(err error) { m.onStalled(err.Error()) })
	}
	return m.collector.Start(ctx, iface)
}

func (m *localMonitor) Stop(context.Context) error {
	if m.collector != nil {
		m.collector.Stop()
	}
	return nil
}

// remoteMonitor runs the session in the helper and follows its events.
type remoteMonitor struct {
	client    *client.HelperClient
	onStats   func(stats.NetworkStats)
	onStopped func(string)
	onStalled func(string)
	sessionID string
	stopped   chan struct{}
}

func newRemoteMonitor(c *client.HelperClient) *remoteMonitor {
	return &remoteMonitor{client: c}
}

func (m *remoteMonitor) OnStats(callback func(stats.NetworkStats)) { m.onStats = callback }

func (m *remoteMonitor) OnStopped(callback func(string)) { m.onStopped = callback }

func (m *remoteMonitor) OnStalled(callback func(string)) { m.onStalled = callback }

// Start subscribes before starting the session. Events are matched by
// interface because the first sample can arrive before the session id.
func (m *remoteMonitor) Start(ctx context.Context, iface string, interval time.Duration) error {
	m.client.OnStats(func(data protocol.StatsData) {
		if data.Interface == iface && m.onStats != nil {
			m.onStats(data.NetworkStats)
		}
	})
	m.client.OnMonitorStopped(func(data protocol.MonitorStoppedData) {
		if data.Interface == iface && m.onStopped != nil {
			m.onStopped(data.Reason)
		}
	})
	m.client.OnError(func(data protocol.ErrorData) {
		if data.Interface == iface && m.onStalled != nil {
			m.onStalled(data.Message)
		}
	})

	result, err := m.client.StartMonitor(ctx, iface, interval)
	if err != nil {
		return err
	}
	m.sessionID = result.SessionID
	m.stopped = make(chan struct{})
	go m.watchConnection(m.stopped)
	return nil
}

// watchConnection ends the session when the helper connection drops, since
// no monitor_stopped event can arrive after that.
func (m *remoteMonitor) watchConnection(stopped <-chan struct{}) {
	select {
	case <-m.client.Done():
		if m.onStopped != nil {
			m.onStopped(reasonConnectionLost)
		}
	case <-stopped:
	}
}

func (m *remoteMonitor) Stop(ctx context.Context) error {
	if m.sessionID == "" {
		return nil
	}
	close(m.stopped)
	id := m.sessionID
	m.sessionID = ""
	return m.client.StopMonitor(ctx, id)
}
