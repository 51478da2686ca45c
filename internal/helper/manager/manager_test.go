package manager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shini4i/wifimon/internal/helper/protocol"
	"github.com/shini4i/wifimon/internal/stats"
	"github.com/shini4i/wifimon/internal/wifi"
)

type fakeWifi struct {
	networks   []wifi.Network
	scanErr    error
	interfaces []string
	ifaceErr   error
	connectErr error

	mu           sync.Mutex
	connectCalls []string
}

func (f *fakeWifi) Scan(context.Context) ([]wifi.Network, error) {
	return f.networks, f.scanErr
}

func (f *fakeWifi) Interfaces(context.Context) ([]string, error) {
	return f.interfaces, f.ifaceErr
}

func (f *fakeWifi) Connect(_ context.Context, bssid, credential string) error {
	f.mu.Lock()
	f.connectCalls = append(f.connectCalls, bssid+"|"+credential)
	f.mu.Unlock()
	return f.connectErr
}

type fakeSource struct {
	names []string
	// gate, when set, holds interface listing until it is closed.
	gate        chan struct{}
	countersErr error

	mu sync.Mutex
	tx uint64
}

func (f *fakeSource) Interfaces(ctx context.Context) ([]string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.names, nil
}

func (f *fakeSource) Counters(context.Context, string) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countersErr != nil {
		return 0, 0, f.countersErr
	}
	f.tx += 100
	return f.tx, f.tx * 2, nil
}

type recordedEvent struct {
	name protocol.EventName
	data any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) broadcast(name protocol.EventName, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, data: data})
}

func (r *recorder) named(name protocol.EventName) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(wm *fakeWifi) (*Manager, *recorder) {
	return newTestManagerWithSource(wm, &fakeSource{names: []string{"lo", "wlan0", "eth0"}})
}

func newTestManagerWithSource(wm *fakeWifi, src *fakeSource) (*Manager, *recorder) {
	rec := &recorder{}
	m := NewManager(wm, src, rec.broadcast, Options{
		PollInterval: 10 * time.Millisecond,
		Version:      "test",
	})
	return m, rec
}

func clientRequest(t *testing.T, clientID uint64, cmd protocol.Command, params any) *protocol.Request {
	t.Helper()
	req := request(t, cmd, params)
	req.ClientID = clientID
	return req
}

func request(t *testing.T, cmd protocol.Command, params any) *protocol.Request {
	t.Helper()
	req, err := protocol.NewRequest("req-1", cmd, params)
	require.NoError(t, err)
	return req
}

func decode[T any](t *testing.T, resp *protocol.Response) T {
	t.Helper()
	require.True(t, resp.Success, "unexpected error: %+v", resp.Error)
	var v T
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	return v
}

func TestHandleRequest_UnknownCommand(t *testing.T) {
	m, _ := newTestManager(&fakeWifi{})
	resp := m.HandleRequest(&protocol.Request{ID: "x", Command: "disconnect"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeInvalidCommand, resp.Error.Code)
	assert.Equal(t, http.StatusBadRequest, resp.Error.Status)
}

func TestHandleScan(t *testing.T) {
	wm := &fakeWifi{networks: []wifi.Network{
		{SSID: "home", BSSID: "AA:BB:CC:DD:EE:01", Signal: 70},
	}}
	m, _ := newTestManager(wm)

	result := decode[protocol.ScanResult](t, m.HandleRequest(request(t, protocol.CommandScan, nil)))
	require.Len(t, result.Networks, 1)
	assert.Equal(t, "home", result.Networks[0].SSID)

	wm.scanErr = wifi.ErrCommandExecution
	resp := m.HandleRequest(request(t, protocol.CommandScan, nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeScanFailed, resp.Error.Code)
}

func TestHandleInterfaces(t *testing.T) {
	wm := &fakeWifi{interfaces: []string{"lo", "wlan0"}}
	m, _ := newTestManager(wm)

	result := decode[protocol.InterfacesResult](t, m.HandleRequest(request(t, protocol.CommandInterfaces, nil)))
	assert.Equal(t, []string{"lo", "wlan0"}, result.Interfaces)

	wm.ifaceErr = errors.New("ifconfig missing")
	resp := m.HandleRequest(request(t, protocol.CommandInterfaces, nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeInterfacesFailed, resp.Error.Code)
}

func TestHandleConnect(t *testing.T) {
	tests := []struct {
		name       string
		params     any
		connectErr error
		wantCode   string
		wantStatus int
		wantKind   wifi.ConnectErrorKind
	}{
		{
			name:       "success",
			params:     protocol.ConnectParams{BSSID: "AA:BB:CC:DD:EE:01", Password: "pw"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing bssid",
			params:     protocol.ConnectParams{},
			wantCode:   protocol.ErrCodeInvalidParams,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed params",
			params:     "not an object",
			wantCode:   protocol.ErrCodeInvalidParams,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid bssid",
			params:     protocol.ConnectParams{BSSID: "nope"},
			connectErr: wifi.ErrInvalidBSSID,
			wantCode:   protocol.ErrCodeInvalidParams,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong credential",
			params:     protocol.ConnectParams{BSSID: "AA:BB:CC:DD:EE:01", Password: "bad"},
			connectErr: &wifi.ConnectError{Kind: wifi.KindWrongCredential, Diagnostic: "Connection activation failed"},
			wantCode:   protocol.ErrCodeConnectFailed,
			wantStatus: http.StatusUnauthorized,
			wantKind:   wifi.KindWrongCredential,
		},
		{
			name:       "no credential",
			params:     protocol.ConnectParams{BSSID: "AA:BB:CC:DD:EE:01"},
			connectErr: &wifi.ConnectError{Kind: wifi.KindNoCredential},
			wantCode:   protocol.ErrCodeConnectFailed,
			wantStatus: http.StatusBadGateway,
			wantKind:   wifi.KindNoCredential,
		},
		{
			name:       "network not found",
			params:     protocol.ConnectParams{BSSID: "AA:BB:CC:DD:EE:01"},
			connectErr: &wifi.ConnectError{Kind: wifi.KindNetworkNotFound},
			wantCode:   protocol.ErrCodeConnectFailed,
			wantStatus: http.StatusNotFound,
			wantKind:   wifi.KindNetworkNotFound,
		},
		{
			name:       "unexpected error",
			params:     protocol.ConnectParams{BSSID: "AA:BB:CC:DD:EE:01"},
			connectErr: errors.New("boom"),
			wantCode:   protocol.ErrCodeConnectFailed,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(&fakeWifi{connectErr: tt.connectErr})
			resp := m.HandleRequest(request(t, protocol.CommandConnect, tt.params))

			if tt.wantCode == "" {
				env := decode[protocol.Envelope](t, resp)
				assert.Equal(t, protocol.Envelope{Message: "Connected Successfully", Status: http.StatusOK}, env)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.wantStatus, resp.Error.Status)
			assert.Equal(t, tt.wantKind, resp.Error.Kind)
		})
	}
}

func TestHandleConnect_ForwardsCredential(t *testing.T) {
	wm := &fakeWifi{}
	m, _ := newTestManager(wm)

	m.HandleRequest(request(t, protocol.CommandConnect, protocol.ConnectParams{BSSID: "AA:BB:CC:DD:EE:01", Password: "secret"}))
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:01|secret"}, wm.connectCalls)
}

func TestMonitorLifecycle(t *testing.T) {
	m, rec := newTestManager(&fakeWifi{})
	defer m.Shutdown()

	started := decode[protocol.MonitorStartResult](t,
		m.HandleRequest(request(t, protocol.CommandMonitorStart, protocol.MonitorStartParams{Interface: "wlan0"})))
	assert.NotEmpty(t, started.SessionID)
	assert.Equal(t, "wlan0", started.Interface)
	assert.Equal(t, http.StatusOK, started.Status)

	assert.Eventually(t, func() bool {
		return len(rec.named(protocol.EventNetworkStats)) >= 2
	}, time.Second, 5*time.Millisecond)

	first := rec.named(protocol.EventNetworkStats)[0].data.(protocol.StatsData)
	assert.Equal(t, started.SessionID, first.SessionID)
	assert.Equal(t, "wlan0", first.Interface)
	assert.Zero(t, first.TotalUp)

	status := decode[protocol.StatusResult](t, m.HandleRequest(request(t, protocol.CommandStatus, nil)))
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, wifi.ClassifierVersion, status.ClassifierVersion)
	require.Len(t, status.Sessions, 1)
	assert.Equal(t, started.SessionID, status.Sessions[0].SessionID)

	// A second session on the same interface is refused.
	resp := m.HandleRequest(request(t, protocol.CommandMonitorStart, protocol.MonitorStartParams{Interface: "wlan0"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeInvalidState, resp.Error.Code)

	env := decode[protocol.Envelope](t,
		m.HandleRequest(request(t, protocol.CommandMonitorStop, protocol.MonitorStopParams{SessionID: started.SessionID})))
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Empty(t, m.Sessions())

	stopped := rec.named(protocol.EventMonitorStopped)
	require.Len(t, stopped, 1)
	data := stopped[0].data.(protocol.MonitorStoppedData)
	assert.Equal(t, started.SessionID, data.SessionID)
	assert.Equal(t, "stopped", data.Reason)

	// No samples after the stop returned.
	n := len(rec.named(protocol.EventNetworkStats))
	time.Sleep(40 * time.Millisecond)
	assert.Len(t, rec.named(protocol.EventNetworkStats), n)
}

func TestMonitorStart_Errors(t *testing.T) {
	tests := []struct {
		name     string
		params   any
		wantCode string
	}{
		{"missing interface", protocol.MonitorStartParams{}, protocol.ErrCodeInvalidParams},
		{"unknown interface", protocol.MonitorStartParams{Interface: "wlan9"}, protocol.ErrCodeInvalidParams},
		{"malformed params", []int{1}, protocol.ErrCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(&fakeWifi{})
			resp := m.HandleRequest(request(t, protocol.CommandMonitorStart, tt.params))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Empty(t, m.Sessions())
		})
	}
}

func TestMonitorStop_ByInterfaceAndNotFound(t *testing.T) {
	m, _ := newTestManager(&fakeWifi{})
	defer m.Shutdown()

	resp := m.HandleRequest(request(t, protocol.CommandMonitorStop, protocol.MonitorStopParams{}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeInvalidParams, resp.Error.Code)

	resp = m.HandleRequest(request(t, protocol.CommandMonitorStop, protocol.MonitorStopParams{Interface: "wlan0"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeSessionNotFound, resp.Error.Code)
	assert.Equal(t, http.StatusNotFound, resp.Error.Status)

	decode[protocol.MonitorStartResult](t,
		m.HandleRequest(request(t, protocol.CommandMonitorStart, protocol.MonitorStartParams{Interface: "wlan0"})))

	// Mismatched session id for the interface does not stop it.
	resp = m.HandleRequest(request(t, protocol.CommandMonitorStop, protocol.MonitorStopParams{Interface: "wlan0", SessionID: "other"}))
	require.NotNil(t, resp.Error)
	assert.Len(t, m.Sessions(), 1)

	decode[protocol.Envelope](t,
		m.HandleRequest(request(t, protocol.CommandMonitorStop, protocol.MonitorStopParams{Interface: "wlan0"})))
	assert.Empty(t, m.Sessions())
}

func TestMonitorStart_IntervalOverride(t *testing.T) {
	m, _ := newTestManager(&fakeWifi{})
	defer m.Shutdown()

	decode[protocol.MonitorStartResult](t, m.HandleRequest(request(t, protocol.CommandMonitorStart,
		protocol.MonitorStartParams{Interface: "eth0", IntervalMillis: 250})))

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 250*time.Millisecond, sessions[0].Interval)
}

func TestShutdown_StopsAllSessions(t *testing.T) {
	m, rec := newTestManager(&fakeWifi{})

	for _, iface := range []string{"wlan0", "eth0"} {
		decode[protocol.MonitorStartResult](t,
			m.HandleRequest(request(t, protocol.CommandMonitorStart, protocol.MonitorStartParams{Interface: iface})))
	}
	sessions := m.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "eth0", sessions[0].Interface)

	m.Shutdown()

	assert.Empty(t, m.Sessions())
	stopped := rec.named(protocol.EventMonitorStopped)
	require.Len(t, stopped, 2)
	for _, e := range stopped {
		assert.Equal(t, "shutdown", e.data.(protocol.MonitorStoppedData).Reason)
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(&fakeWifi{}, &fakeSource{}, nil, Options{})
	assert.Equal(t, DefaultCommandTimeout, m.opts.CommandTimeout)
	assert.Equal(t, stats.DefaultPollInterval, m.opts.PollInterval)
	assert.NotPanics(t, func() { m.broadcaster(protocol.EventError, nil) })
}

func TestStopClientSessions(t *testing.T) {
	m, rec := newTestManager(&fakeWifi{})
	defer m.Shutdown()

	start := func(clientID uint64, iface string) *protocol.Response {
		return m.HandleRequest(clientRequest(t, clientID, protocol.CommandMonitorStart,
			protocol.MonitorStartParams{Interface: iface}))
	}
	owned := decode[protocol.MonitorStartResult](t, start(7, "wlan0"))
	decode[protocol.MonitorStartResult](t, start(8, "eth0"))

	// Requests that did not come over a connection own nothing.
	m.StopClientSessions(0)
	require.Len(t, m.Sessions(), 2)

	m.StopClientSessions(7)
	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "eth0", sessions[0].Interface)

	stopped := rec.named(protocol.EventMonitorStopped)
	require.Len(t, stopped, 1)
	data := stopped[0].data.(protocol.MonitorStoppedData)
	assert.Equal(t, owned.SessionID, data.SessionID)
	assert.Equal(t, "client disconnected", data.Reason)

	// The interface is free again for another client.
	decode[protocol.MonitorStartResult](t, start(9, "wlan0"))
}

func TestMonitorStart_ValidationDoesNotBlockOtherRequests(t *testing.T) {
	src := &fakeSource{names: []string{"wlan0"}, gate: make(chan struct{})}
	m, _ := newTestManagerWithSource(&fakeWifi{}, src)
	defer m.Shutdown()

	first := make(chan *protocol.Response, 1)
	go func() {
		first <- m.HandleRequest(request(t, protocol.CommandMonitorStart, protocol.MonitorStartParams{Interface: "wlan0"}))
	}()
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.starting["wlan0"]
	}, time.Second, 5*time.Millisecond)

	answered := make(chan *protocol.Response, 1)
	go func() { answered <- m.HandleRequest(request(t, protocol.CommandStatus, nil)) }()
	select {
	case resp := <-answered:
		status := decode[protocol.StatusResult](t, resp)
		assert.Empty(t, status.Sessions)
	case <-time.After(time.Second):
		t.Fatal("status blocked behind interface validation")
	}

	resp := m.HandleRequest(request(t, protocol.CommandMonitorStart, protocol.MonitorStartParams{Interface: "wlan0"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeInvalidState, resp.Error.Code)

	close(src.gate)
	select {
	case resp := <-first:
		decode[protocol.MonitorStartResult](t, resp)
	case <-time.After(time.Second):
		t.Fatal("first monitor_start did not finish")
	}
	assert.Len(t, m.Sessions(), 1)
}

func TestMonitorStart_AfterShutdownRefused(t *testing.T) {
	m, _ := newTestManager(&fakeWifi{})
	m.Shutdown()

	resp := m.HandleRequest(request(t, protocol.CommandMonitorStart, protocol.MonitorStartParams{Interface: "wlan0"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeInvalidState, resp.Error.Code)
	assert.Empty(t, m.Sessions())
}

func TestMonitorStalled_BroadcastsError(t *testing.T) {
	src := &fakeSource{names: []string{"wlan1"}, countersErr: errors.New("no such device")}
	m, rec := newTestManagerWithSource(&fakeWifi{}, src)
	defer m.Shutdown()

	started := decode[protocol.MonitorStartResult](t,
		m.HandleRequest(request(t, protocol.CommandMonitorStart, protocol.MonitorStartParams{Interface: "wlan1"})))

	assert.Eventually(t, func() bool {
		return len(rec.named(protocol.EventError)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	data := rec.named(protocol.EventError)[0].data.(protocol.ErrorData)
	assert.Equal(t, started.SessionID, data.SessionID)
	assert.Equal(t, "wlan1", data.Interface)
	assert.Contains(t, data.Message, "no such device")

	// One report per failure streak, and the session stays up.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.named(protocol.EventError), 1)
	assert.Len(t, m.Sessions(), 1)
	assert.Empty(t, rec.named(protocol.EventNetworkStats))
}
