// Package manager dispatches helper requests to the Wi-Fi backend and owns
// the throughput monitoring sessions.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shini4i/wifimon/internal/helper/protocol"
	"github.com/shini4i/wifimon/internal/stats"
	"github.com/shini4i/wifimon/internal/wifi"
)

const (
	// DefaultCommandTimeout bounds a single scan, connect or interfaces call.
	DefaultCommandTimeout = 30 * time.Second

	reasonStopped      = "stopped"
	reasonShutdown     = "shutdown"
	reasonDisconnected = "client disconnected"
)

// EventBroadcaster is called to broadcast events to all clients.
type EventBroadcaster func(name protocol.EventName, data any)

// Options tunes a Manager.
type Options struct {
	// CommandTimeout bounds each host tool invocation. Zero uses DefaultCommandTimeout.
	CommandTimeout time.Duration
	// PollInterval is the default sampling interval of new sessions.
	PollInterval time.Duration
	// Version is reported by the status command.
	Version string
}

type session struct {
	id        string
	owner     uint64 // client connection that started it, 0 if none
	iface     string
	interval  time.Duration
	startedAt time.Time
	collector *stats.Collector
}

func (s *session) info() protocol.SessionInfo {
	return protocol.SessionInfo{
		SessionID: s.id,
		Interface: s.iface,
		Interval:  s.interval,
		StartedAt: s.startedAt,
	}
}

// Manager handles helper requests. At most one monitoring session runs per
// interface; each owns its sampler state in its own goroutine and lives no
// longer than the client connection that started it.
type Manager struct {
	wifi        wifi.Manager
	source      stats.CounterSource
	broadcaster EventBroadcaster
	opts        Options

	mu       sync.Mutex
	sessions map[string]*session // keyed by interface
	starting map[string]bool     // interfaces reserved by an in-flight monitor_start
	closed   bool
}

// NewManager creates a manager over the given Wi-Fi backend and counter source.
func NewManager(wm wifi.Manager, source stats.CounterSource, broadcaster EventBroadcaster, opts Options) *Manager {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = stats.DefaultPollInterval
	}
	if broadcaster == nil {
		broadcaster = func(protocol.EventName, any) {}
	}
	return &Manager{
		wifi:        wm,
		source:      source,
		broadcaster: broadcaster,
		opts:        opts,
		sessions:    make(map[string]*session),
		starting:    make(map[string]bool),
	}
}

// HandleRequest processes a request and returns a response.
func (m *Manager) HandleRequest(req *protocol.Request) *protocol.Response {
	switch req.Command {
	case protocol.CommandScan:
		return m.handleScan(req)
	case protocol.CommandConnect:
		return m.handleConnect(req)
	case protocol.CommandInterfaces:
		return m.handleInterfaces(req)
	case protocol.CommandMonitorStart:
		return m.handleMonitorStart(req)
	case protocol.CommandMonitorStop:
		return m.handleMonitorStop(req)
	case protocol.CommandStatus:
		return m.handleStatus(req)
	default:
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", req.Command))
	}
}

func (m *Manager) handleScan(req *protocol.Request) *protocol.Response {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CommandTimeout)
	defer cancel()

	networks, err := m.wifi.Scan(ctx)
	if err != nil {
		slog.Error("Scan failed", "error", err)
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeScanFailed, err.Error())
	}
	return success(req.ID, protocol.ScanResult{Networks: networks})
}

func (m *Manager) handleInterfaces(req *protocol.Request) *protocol.Response {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CommandTimeout)
	defer cancel()

	names, err := m.wifi.Interfaces(ctx)
	if err != nil {
		slog.Error("Listing interfaces failed", "error", err)
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInterfacesFailed, err.Error())
	}
	return success(req.ID, protocol.InterfacesResult{Interfaces: names})
}

func (m *Manager) handleConnect(req *protocol.Request) *protocol.Response {
	var params protocol.ConnectParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams,
			"invalid connect params")
	}
	if params.BSSID == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams, "bssid is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CommandTimeout)
	defer cancel()

	err := m.wifi.Connect(ctx, params.BSSID, params.Password)
	if err == nil {
		return success(req.ID, protocol.ConnectedEnvelope())
	}

	var ce *wifi.ConnectError
	switch {
	case errors.Is(err, wifi.ErrInvalidBSSID):
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams, err.Error())
	case errors.As(err, &ce):
		return protocol.NewErrorInfoResponse(req.ID, protocol.NewConnectErrorInfo(ce))
	default:
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeConnectFailed, err.Error())
	}
}

func (m *Manager) handleMonitorStart(req *protocol.Request) *protocol.Response {
	var params protocol.MonitorStartParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams,
			"invalid monitor_start params")
	}
	if params.Interface == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams, "interface is required")
	}

	interval := m.opts.PollInterval
	if params.IntervalMillis > 0 {
		interval = time.Duration(params.IntervalMillis) * time.Millisecond
	}

	if resp := m.reserve(req.ID, params.Interface); resp != nil {
		return resp
	}

	s := &session{
		id:        uuid.NewString(),
		owner:     req.ClientID,
		iface:     params.Interface,
		interval:  interval,
		startedAt: time.Now(),
		collector: stats.NewCollector(m.source, interval),
	}
	s.collector.OnStats(func(ns stats.NetworkStats) {
		m.broadcaster(protocol.EventNetworkStats, protocol.StatsData{SessionID: s.id, NetworkStats: ns})
	})
	s.collector.OnStalled(func(err error) {
		m.broadcaster(protocol.EventError, protocol.ErrorData{
			SessionID: s.id,
			Interface: s.iface,
			Message:   fmt.Sprintf("cannot read counters of %s: %v", s.iface, err),
		})
	})

	// Interface validation runs host tools, so it happens outside the lock
	// while the reservation keeps the interface taken.
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CommandTimeout)
	defer cancel()
	err := s.collector.Start(ctx, params.Interface)

	m.mu.Lock()
	delete(m.starting, params.Interface)
	closed := m.closed
	if err == nil && !closed {
		m.sessions[params.Interface] = s
	}
	m.mu.Unlock()

	switch {
	case errors.Is(err, stats.ErrInvalidInterfaceName):
		slog.Warn("Failed to start monitoring", "interface", params.Interface, "error", err)
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams, err.Error())
	case err != nil:
		slog.Warn("Failed to start monitoring", "interface", params.Interface, "error", err)
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeMonitorFailed, err.Error())
	case closed:
		s.collector.Stop()
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidState, "helper is shutting down")
	}

	slog.Info("Monitoring session started",
		"session", s.id, "interface", s.iface, "interval", interval, "client", s.owner)
	return success(req.ID, protocol.MonitorStartResult{
		SessionID: s.id,
		Interface: s.iface,
		Envelope:  protocol.Envelope{Message: "Monitoring started", Status: http.StatusOK},
	})
}

// reserve claims iface for a starting session. It returns an error response
// when the interface is already monitored or being started.
func (m *Manager) reserve(id, iface string) *protocol.Response {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch existing, ok := m.sessions[iface]; {
	case m.closed:
		return protocol.NewErrorResponse(id, protocol.ErrCodeInvalidState, "helper is shutting down")
	case ok:
		return protocol.NewErrorResponse(id, protocol.ErrCodeInvalidState,
			fmt.Sprintf("interface %s is already monitored by session %s", iface, existing.id))
	case m.starting[iface]:
		return protocol.NewErrorResponse(id, protocol.ErrCodeInvalidState,
			fmt.Sprintf("interface %s is already being started", iface))
	}
	m.starting[iface] = true
	return nil
}

func (m *Manager) handleMonitorStop(req *protocol.Request) *protocol.Response {
	var params protocol.MonitorStopParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams,
			"invalid monitor_stop params")
	}
	if params.SessionID == "" && params.Interface == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams,
			"session_id or interface is required")
	}

	m.mu.Lock()
	s := m.findLocked(params)
	if s != nil {
		delete(m.sessions, s.iface)
	}
	m.mu.Unlock()

	if s == nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeSessionNotFound, "no matching monitoring session")
	}

	m.stopSession(s, reasonStopped)
	return success(req.ID, protocol.Envelope{Message: "Monitoring stopped", Status: http.StatusOK})
}

func (m *Manager) findLocked(params protocol.MonitorStopParams) *session {
	if params.Interface != "" {
		s, ok := m.sessions[params.Interface]
		if !ok || (params.SessionID != "" && s.id != params.SessionID) {
			return nil
		}
		return s
	}
	for _, s := range m.sessions {
		if s.id == params.SessionID {
			return s
		}
	}
	return nil
}

func (m *Manager) handleStatus(req *protocol.Request) *protocol.Response {
	return success(req.ID, protocol.StatusResult{
		Version:           m.opts.Version,
		ClassifierVersion: wifi.ClassifierVersion,
		Sessions:          m.Sessions(),
	})
}

// Sessions returns the active monitoring sessions ordered by interface.
func (m *Manager) Sessions() []protocol.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]protocol.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Interface < infos[j].Interface })
	return infos
}

// stopSession cancels the session loop, waits for it and announces the stop.
func (m *Manager) stopSession(s *session, reason string) {
	s.collector.Stop()
	m.broadcaster(protocol.EventMonitorStopped, protocol.MonitorStoppedData{
		SessionID: s.id,
		Interface: s.iface,
		Reason:    reason,
	})
	slog.Info("Monitoring session stopped", "session", s.id, "interface", s.iface, "reason", reason)
}

// StopClientSessions stops the sessions started by the given client
// connection. The server calls it when that connection goes away, since a
// caller that is gone can no longer stop its own sessions.
func (m *Manager) StopClientSessions(clientID uint64) {
	if clientID == 0 {
		return
	}
	sessions := m.detach(func(s *session) bool { return s.owner == clientID })
	if len(sessions) > 0 {
		slog.Info("Client gone, stopping its monitoring sessions", "client", clientID, "count", len(sessions))
	}
	m.stopAll(sessions, reasonDisconnected)
}

// Shutdown stops every monitoring session and waits for their loops to
// exit. Later monitor_start requests are refused.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	sessions := m.detach(func(*session) bool { return true })
	if len(sessions) > 0 {
		slog.Info("Stopping monitoring sessions before shutdown", "count", len(sessions))
	}
	m.stopAll(sessions, reasonShutdown)
}

// detach removes the matching sessions from the table and returns them.
func (m *Manager) detach(match func(*session) bool) []*session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*session
	for iface, s := range m.sessions {
		if match(s) {
			out = append(out, s)
			delete(m.sessions, iface)
		}
	}
	return out
}

func (m *Manager) stopAll(sessions []*session, reason string) {
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			m.stopSession(s, reason)
		}(s)
	}
	wg.Wait()
}

func success(id string, result any) *protocol.Response {
	resp, err := protocol.NewSuccessResponse(id, result)
	if err != nil {
		return protocol.NewErrorResponse(id, protocol.ErrCodeInternalError, err.Error())
	}
	return resp
}
