// Package client provides the client for communicating with the helper daemon.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shini4i/wifimon/internal/helper/protocol"
	"github.com/shini4i/wifimon/internal/helper/server"
	"github.com/shini4i/wifimon/internal/wifi"
)

const (
	// DefaultTimeout for RPC calls.
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrHelperNotAvailable is returned when the helper daemon is not running.
	ErrHelperNotAvailable = errors.New("helper daemon not available")
	// ErrClientClosed is returned for requests pending when the client closes.
	ErrClientClosed = errors.New("client closed")
)

// HelperClient implements wifi.Manager by forwarding calls to the helper
// daemon, and exposes the helper's monitoring sessions.
type HelperClient struct {
	socketPath string
	conn       net.Conn
	reader     *bufio.Reader
	status     *protocol.StatusResult // answer to the handshake status request

	mu               sync.RWMutex
	onStats          func(protocol.StatsData)
	onMonitorStopped func(protocol.MonitorStoppedData)
	onError          func(protocol.ErrorData)

	// writeMu serializes NDJSON writes to prevent interleaved JSON lines
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Response

	closeChan chan struct{}
	closeOnce sync.Once
}

// NewHelperClient creates a new client connected to the helper daemon.
func NewHelperClient() (*HelperClient, error) {
	return NewHelperClientWithPath(server.DefaultSocketPath)
}

// NewHelperClientWithPath connects to the helper at socketPath and checks
// that it answers a status request. The answer is kept; see HelperStatus.
func NewHelperClientWithPath(socketPath string) (*HelperClient, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHelperNotAvailable, err)
	}

	client := &HelperClient{
		socketPath: socketPath,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		pending:    make(map[string]chan *protocol.Response),
		closeChan:  make(chan struct{}),
	}

	go client.readLoop()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	status, err := client.Status(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			slog.Warn("Failed to close client after status error", "error", closeErr)
		}
		return nil, err
	}
	client.status = status

	return client, nil
}

// HelperStatus returns the status the helper reported when the client connected.
func (c *HelperClient) HelperStatus() *protocol.StatusResult {
	return c.status
}

// Done is closed once the connection to the helper is gone, whether Close
// was called or the helper went away.
func (c *HelperClient) Done() <-chan struct{} {
	return c.closeChan
}

// IsHelperAvailable checks if the helper daemon is available.
func IsHelperAvailable() bool {
	return IsHelperAvailableAt(server.DefaultSocketPath)
}

// IsHelperAvailableAt checks if the helper daemon is available at the given path.
func IsHelperAvailableAt(socketPath string) bool {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return false
	}
	_ = conn.Close() // Error intentionally ignored; we only check connectivity
	return true
}

// Close closes the connection to the helper daemon.
func (c *HelperClient) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if c.conn != nil {
			closeErr = c.conn.Close()
		}
	})
	return closeErr
}

// Scan asks the helper for visible networks.
func (c *HelperClient) Scan(ctx context.Context) ([]wifi.Network, error) {
	var result protocol.ScanResult
	if err := c.call(ctx, protocol.CommandScan, nil, &result); err != nil {
		return nil, toCommandError(err)
	}
	if result.Networks == nil {
		result.Networks = []wifi.Network{}
	}
	return result.Networks, nil
}

// Interfaces asks the helper for host interface names.
func (c *HelperClient) Interfaces(ctx context.Context) ([]string, error) {
	var result protocol.InterfacesResult
	if err := c.call(ctx, protocol.CommandInterfaces, nil, &result); err != nil {
		return nil, toCommandError(err)
	}
	if result.Interfaces == nil {
		result.Interfaces = []string{}
	}
	return result.Interfaces, nil
}

// Connect asks the helper to join bssid. Classified failures come back as
// *wifi.ConnectError, exactly as the local backend reports them.
func (c *HelperClient) Connect(ctx context.Context, bssid, credential string) error {
	params := protocol.ConnectParams{BSSID: bssid, Password: credential}
	err := c.call(ctx, protocol.CommandConnect, params, nil)
	if err == nil {
		return nil
	}

	var info *protocol.ErrorInfo
	if !errors.As(err, &info) {
		return err
	}
	switch {
	case info.Kind != "":
		return &wifi.ConnectError{Kind: info.Kind, BSSID: bssid, Diagnostic: info.Diagnostic}
	case info.Code == protocol.ErrCodeInvalidParams:
		return fmt.Errorf("%w: %s", wifi.ErrInvalidBSSID, info.Message)
	default:
		return &wifi.ConnectError{Kind: wifi.KindUnknown, BSSID: bssid, Err: info}
	}
}

// StartMonitor starts a monitoring session on iface. A zero interval uses
// the helper's configured default.
func (c *HelperClient) StartMonitor(ctx context.Context, iface string, interval time.Duration) (*protocol.MonitorStartResult, error) {
	params := protocol.MonitorStartParams{Interface: iface, IntervalMillis: interval.Milliseconds()}
	var result protocol.MonitorStartResult
	if err := c.call(ctx, protocol.CommandMonitorStart, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopMonitor stops the session with the given id.
func (c *HelperClient) StopMonitor(ctx context.Context, sessionID string) error {
	return c.call(ctx, protocol.CommandMonitorStop, protocol.MonitorStopParams{SessionID: sessionID}, nil)
}

// Status returns the helper's version and active sessions.
func (c *HelperClient) Status(ctx context.Context) (*protocol.StatusResult, error) {
	var result protocol.StatusResult
	if err := c.call(ctx, protocol.CommandStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OnStats registers a callback for network-stats events of any session.
func (c *HelperClient) OnStats(callback func(protocol.StatsData)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStats = callback
}

// OnMonitorStopped registers a callback for ended sessions.
func (c *HelperClient) OnMonitorStopped(callback func(protocol.MonitorStoppedData)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMonitorStopped = callback
}

// OnError registers a callback for sessions that keep failing to sample.
func (c *HelperClient) OnError(callback func(protocol.ErrorData)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// toCommandError maps remote scan and listing failures onto the local
// sentinel so callers can match either backend with errors.Is.
func toCommandError(err error) error {
	var info *protocol.ErrorInfo
	if errors.As(err, &info) &&
		(info.Code == protocol.ErrCodeScanFailed || info.Code == protocol.ErrCodeInterfacesFailed) {
		return fmt.Errorf("%w: %s", wifi.ErrCommandExecution, info.Message)
	}
	return err
}

// call sends a request and decodes a successful result into out (if non-nil).
// A failed response is returned as *protocol.ErrorInfo.
func (c *HelperClient) call(ctx context.Context, cmd protocol.Command, params, out any) error {
	resp, err := c.sendRequest(ctx, cmd, params)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", cmd, err)
	}
	return nil
}

func (c *HelperClient) sendRequest(ctx context.Context, cmd protocol.Command, params interface{}) (*protocol.Response, error) {
	id := uuid.New().String()

	req, err := protocol.NewRequest(id, cmd, params)
	if err != nil {
		return nil, err
	}

	respChan := make(chan *protocol.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	data, err := json.Marshal(req)
	if err != nil {
		c.writeMu.Unlock()
		return nil, err
	}
	data = append(data, '\n')

	_, writeErr := c.conn.Write(data)
	c.writeMu.Unlock()

	if writeErr != nil {
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	select {
	case resp := <-respChan:
		if !resp.Success {
			if resp.Error != nil {
				return nil, resp.Error
			}
			return nil, errors.New("request failed with unknown error")
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeChan:
		return nil, ErrClientClosed
	}
}

func (c *HelperClient) readLoop() {
	defer func() {
		// A helper that went away fails every pending call.
		_ = c.Close()
	}()

	for {
		select {
		case <-c.closeChan:
			return
		default:
		}

		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				slog.Error("Read error from helper", "error", err)
			}
			return
		}

		c.handleMessage(line)
	}
}

func (c *HelperClient) handleMessage(data []byte) {
	var msg struct {
		Type protocol.MessageType `json:"type"`
		ID   string               `json:"id,omitempty"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Invalid message from helper", "error", err)
		return
	}

	switch msg.Type {
	case protocol.MessageTypeResponse:
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("Invalid response from helper", "error", err)
			return
		}
		c.handleResponse(&resp)

	case protocol.MessageTypeEvent:
		var event protocol.Event
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Warn("Invalid event from helper", "error", err)
			return
		}
		c.handleEvent(&event)

	default:
		truncatedData := string(data)
		if len(truncatedData) > 200 {
			truncatedData = truncatedData[:200] + "..."
		}
		slog.Warn("Unknown message type from helper",
			"type", msg.Type,
			"data", truncatedData)
	}
}

func (c *HelperClient) handleResponse(resp *protocol.Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *HelperClient) handleEvent(event *protocol.Event) {
	switch event.Name {
	case protocol.EventNetworkStats:
		var data protocol.StatsData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			slog.Warn("Invalid network-stats event", "error", err)
			return
		}
		c.mu.RLock()
		callback := c.onStats
		c.mu.RUnlock()

		if callback != nil {
			callback(data)
		}

	case protocol.EventMonitorStopped:
		var data protocol.MonitorStoppedData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			slog.Warn("Invalid monitor_stopped event", "error", err)
			return
		}
		c.mu.RLock()
		callback := c.onMonitorStopped
		c.mu.RUnlock()

		if callback != nil {
			callback(data)
		}

	case protocol.EventError:
		var data protocol.ErrorData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			slog.Warn("Invalid error event", "error", err)
			return
		}
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(data)
		}

	default:
		slog.Debug("Ignoring unknown helper event", "event", event.Name)
	}
}

var _ wifi.Manager = (*HelperClient)(nil)
