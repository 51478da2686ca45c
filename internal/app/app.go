// Package app wires configuration, the Wi-Fi backend, saved credentials and
// scan history together for the wifimon command line and tray.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shini4i/wifimon/internal/client"
	"github.com/shini4i/wifimon/internal/config"
	"github.com/shini4i/wifimon/internal/helper/protocol"
	"github.com/shini4i/wifimon/internal/history"
	"github.com/shini4i/wifimon/internal/keyring"
	"github.com/shini4i/wifimon/internal/reconnect"
	"github.com/shini4i/wifimon/internal/stats"
	"github.com/shini4i/wifimon/internal/wifi"
)

// ErrNoInterface is returned when a command needs an interface and neither
// the arguments nor the config name one.
var ErrNoInterface = errors.New("no interface given and no default_interface configured")

// Options controls how New builds an App.
type Options struct {
	// ConfigPath overrides the XDG config file location.
	ConfigPath string
	// Local forces in-process execution even when the helper is reachable.
	Local bool
	// Version is the client build version, compared with the helper's.
	Version string
	// Out receives command output. Defaults to os.Stdout.
	Out io.Writer
}

// App runs wifimon commands against either the helper or the host tools.
type App struct {
	cfg        *config.Config
	wifi       wifi.Manager
	newMonitor func() Monitor
	helper     *client.HelperClient
	keyring    keyring.Store
	history    *history.Store
	out        io.Writer
	now        func() time.Time
}

// New loads the configuration and connects to the helper when possible.
func New(opts Options) (*App, error) {
	cfgMgr, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg := cfgMgr.GetConfig()

	historyStore, err := history.NewStore(cfgMgr.GetHistoryDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	a := &App{
		cfg:     cfg,
		keyring: keyring.NewSystemKeyring(),
		history: historyStore,
		out:     opts.Out,
		now:     time.Now,
	}
	if a.out == nil {
		a.out = os.Stdout
	}

	if !opts.Local {
		if helper := connectHelper(cfg.SocketPath, opts.Version); helper != nil {
			a.helper = helper
			a.wifi = helper
			a.newMonitor = func() Monitor { return newRemoteMonitor(helper) }
			return a, nil
		}
	}

	source, err := stats.NewSource(stats.SourceKind(cfg.CounterSource))
	if err != nil {
		return nil, err
	}
	a.wifi = wifi.NewNmcliManager(cfg.NmcliPath, cfg.IfconfigPath)
	a.newMonitor = func() Monitor { return newLocalMonitor(source) }
	slog.Debug("Running in-process", "counter_source", cfg.CounterSource)
	return a, nil
}

func loadConfig(path string) (*config.Manager, error) {
	if path == "" {
		return config.NewManager()
	}
	return config.NewManagerWithPaths(config.PathsFor(path))
}

// connectHelper returns a client for a reachable, compatible helper, or nil.
func connectHelper(socketPath, version string) *client.HelperClient {
	if !client.IsHelperAvailableAt(socketPath) {
		return nil
	}
	helper, err := client.NewHelperClientWithPath(socketPath)
	if err != nil {
		slog.Warn("Helper not usable, running in-process", "socket", socketPath, "error", err)
		return nil
	}

	// The client already asked for status while connecting.
	status := helper.HelperStatus()
	if err := client.CheckHelperVersion(version, status.Version); err != nil {
		slog.Warn("Helper not usable, running in-process", "socket", socketPath, "error", err)
		_ = helper.Close()
		return nil
	}

	slog.Debug("Using helper", "socket", socketPath, "version", status.Version)
	return helper
}

// Close releases the helper connection, if any.
func (a *App) Close() error {
	if a.helper != nil {
		return a.helper.Close()
	}
	return nil
}

// UsingHelper reports whether commands run through the helper daemon.
func (a *App) UsingHelper() bool {
	return a.helper != nil
}

func (a *App) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.CommandTimeout())
}

// Interfaces prints the host interface names.
func (a *App) Interfaces(ctx context.Context, asJSON bool) error {
	ctx, cancel := a.commandContext(ctx)
	defer cancel()

	names, err := a.wifi.Interfaces(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return a.writeJSON(names)
	}
	for _, name := range names {
		fmt.Fprintln(a.out, name)
	}
	return nil
}

// Scan prints visible networks and records them in the history when enabled.
func (a *App) Scan(ctx context.Context, asJSON bool) error {
	networks, err := a.scan(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return a.writeJSON(networks)
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IN-USE\tBSSID\tSSID\tSIGNAL\tCHAN\tFREQ\tRATE\tSECURITY\tMODE")
	for _, n := range networks {
		inUse := ""
		if n.InUse {
			inUse = "*"
		}
		rate := "-"
		if n.Speed != nil {
			rate = fmt.Sprintf("%d Mbit/s", *n.Speed)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d MHz\t%s\t%s\t%s\n",
			inUse, n.BSSID, displaySSID(n.SSID, n.Hidden), n.Signal, n.Channel, n.Frequency, rate, n.Security, n.Mode)
	}
	return w.Flush()
}

func (a *App) scan(ctx context.Context) ([]wifi.Network, error) {
	ctx, cancel := a.commandContext(ctx)
	defer cancel()

	networks, err := a.wifi.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if a.cfg.RecordHistory {
		if err := a.history.Record(networks, a.now()); err != nil {
			slog.Warn("Failed to record scan history", "error", err)
		}
	}
	return networks, nil
}

// ConnectRequest describes one connect command.
type ConnectRequest struct {
	BSSID string
	// Password is the explicit credential. Empty falls back to a saved one
	// when remembering is enabled.
	Password string
	// Save stores an explicit Password after a successful connect.
	Save bool
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	// RetryDelay is the wait between attempts. Zero uses the reconnect default.
	RetryDelay time.Duration
}

// Connect joins the requested network and prints the result envelope.
func (a *App) Connect(ctx context.Context, req ConnectRequest) error {
	credential, fromKeyring := req.Password, false
	if credential == "" && a.cfg.RememberCredentials {
		saved, err := a.keyring.Get(req.BSSID)
		switch {
		case err == nil:
			credential, fromKeyring = saved, true
		case errors.Is(err, keyring.ErrCredentialNotFound), errors.Is(err, wifi.ErrInvalidBSSID):
			// Connect reports an invalid BSSID itself.
		default:
			slog.Warn("Failed to read saved credential", "bssid", req.BSSID, "error", err)
		}
	}

	retryCfg := reconnect.DefaultConfig()
	retryCfg.MaxAttempts = req.Retries + 1
	if req.RetryDelay > 0 {
		retryCfg.Delay = req.RetryDelay
	}
	retrier := reconnect.NewManager(retryCfg, func(ctx context.Context, bssid, credential string) error {
		ctx, cancel := a.commandContext(ctx)
		defer cancel()
		return a.wifi.Connect(ctx, bssid, credential)
	})
	retrier.SetCallbacks(reconnect.Callbacks{OnRetrying: func(attempt int, cause error) {
		fmt.Fprintf(a.out, "%s, retrying (attempt %d of %d)\n", envelopeFor(cause).Message, attempt, retryCfg.MaxAttempts)
	}})

	err := retrier.Connect(ctx, req.BSSID, credential)
	env := envelopeFor(err)
	fmt.Fprintf(a.out, "%s (%d)\n", env.Message, env.Status)
	if err != nil {
		if fromKeyring && wifi.ConnectErrorKindOf(err) == wifi.KindWrongCredential {
			slog.Warn("Saved credential was rejected; run forget or connect with -password", "bssid", req.BSSID)
		}
		return err
	}

	if req.Save && req.Password != "" {
		if err := a.keyring.Save(req.BSSID, req.Password); err != nil {
			return fmt.Errorf("connected, but failed to save credential: %w", err)
		}
		slog.Info("Credential saved", "bssid", req.BSSID)
	}
	return nil
}

// envelopeFor maps a connect outcome onto the user-visible envelope.
func envelopeFor(err error) protocol.Envelope {
	var ce *wifi.ConnectError
	switch {
	case err == nil:
		return protocol.ConnectedEnvelope()
	case errors.As(err, &ce):
		return protocol.NewConnectErrorInfo(ce).Envelope()
	case errors.Is(err, wifi.ErrInvalidBSSID):
		return protocol.Envelope{Message: err.Error(), Status: http.StatusBadRequest}
	default:
		return protocol.Envelope{Message: err.Error(), Status: http.StatusInternalServerError}
	}
}

// Seen prints the networks recorded by past scans, most recent first.
func (a *App) Seen(asJSON bool) error {
	result, err := a.history.List()
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		slog.Warn("Skipping unreadable history record", "id", e.ID, "error", e.Err)
	}
	if asJSON {
		return a.writeJSON(result.Records)
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BSSID\tSSID\tSECURITY\tBEST\tLAST\tSEEN\tLAST SEEN")
	for _, r := range result.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.BSSID, displaySSID(r.SSID, r.Hidden), r.Security, r.BestSignal, r.LastSignal,
			r.TimesSeen, r.LastSeen.Local().Format(time.DateTime))
	}
	return w.Flush()
}

// Forget removes bssid from the history along with its saved credential.
func (a *App) Forget(bssid string) error {
	historyErr := a.history.Forget(bssid)
	if errors.Is(historyErr, wifi.ErrInvalidBSSID) {
		return historyErr
	}
	if err := a.keyring.Delete(bssid); err != nil {
		return err
	}
	if historyErr != nil {
		return historyErr
	}
	fmt.Fprintf(a.out, "Forgot %s\n", bssid)
	return nil
}

// Status prints where commands run and, with a helper, its active sessions.
func (a *App) Status(ctx context.Context) error {
	if a.helper == nil {
		fmt.Fprintf(a.out, "mode: in-process (counter source %s)\n", a.cfg.CounterSource)
		return nil
	}

	ctx, cancel := a.commandContext(ctx)
	defer cancel()
	status, err := a.helper.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "mode: helper %s (%s)\n", status.Version, a.cfg.SocketPath)
	fmt.Fprintf(a.out, "classifier: %s\n", status.ClassifierVersion)
	if len(status.Sessions) == 0 {
		fmt.Fprintln(a.out, "sessions: none")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INTERFACE\tSESSION\tINTERVAL\tRUNNING")
	for _, s := range status.Sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Interface, s.SessionID, s.Interval,
			stats.FormatDuration(a.now().Sub(s.StartedAt)))
	}
	return w.Flush()
}

func (a *App) resolveInterface(iface string) (string, error) {
	if iface != "" {
		return iface, nil
	}
	if a.cfg.DefaultInterface != "" {
		return a.cfg.DefaultInterface, nil
	}
	return "", ErrNoInterface
}

func (a *App) resolveInterval(interval time.Duration) time.Duration {
	if interval > 0 {
		return interval
	}
	return a.cfg.PollInterval()
}

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func displaySSID(ssid string, hidden bool) string {
	if hidden || ssid == "" {
		return "<hidden>"
	}
	return ssid
}
