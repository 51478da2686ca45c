// Package main provides the entry point for the wifimon-helper daemon.
//
// The helper daemon runs as a systemd service and runs nmcli, ifconfig and
// the throughput sampler on behalf of unprivileged clients. Communication
// happens over a UNIX socket using JSON messages.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/shini4i/wifimon/internal/config"
	"github.com/shini4i/wifimon/internal/helper/manager"
	"github.com/shini4i/wifimon/internal/helper/protocol"
	"github.com/shini4i/wifimon/internal/helper/server"
	"github.com/shini4i/wifimon/internal/logging"
	"github.com/shini4i/wifimon/internal/stats"
	"github.com/shini4i/wifimon/internal/wifi"
)

var (
	version = "dev"
)

func main() {
	socketPath := flag.String("socket", "", "Path to the UNIX socket (overrides config)")
	configPath := flag.String("config", "", "Path to the config file (.json or .toml)")
	socketGroup := flag.String("group", server.DefaultSocketGroup, "Group granted access to the socket (empty keeps the default group)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wifimon-helper %s\n", version)
		os.Exit(0)
	}

	logging.Setup(logging.LevelFromEnv(), logging.FormatJSON)

	slog.Info("Starting wifimon-helper", "version", version)

	cfgMgr, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.GetConfig()
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}

	source, err := stats.NewSource(stats.SourceKind(cfg.CounterSource))
	if err != nil {
		slog.Error("Invalid counter source", "source", cfg.CounterSource, "error", err)
		os.Exit(1)
	}

	// Create thread-safe broadcaster to avoid race condition during initialization
	broadcaster := &safeBroadcaster{}

	mgr := manager.NewManager(
		wifi.NewNmcliManager(cfg.NmcliPath, cfg.IfconfigPath),
		source,
		broadcaster.Broadcast,
		manager.Options{
			CommandTimeout: cfg.CommandTimeout(),
			PollInterval:   cfg.PollInterval(),
			Version:        version,
		},
	)
	srv := server.NewServerWithGroup(cfg.SocketPath, *socketGroup, mgr.HandleRequest)
	srv.OnDisconnect(mgr.StopClientSessions)

	// Now that server is created, set it in the broadcaster
	broadcaster.SetServer(srv)

	if err := srv.Start(); err != nil {
		slog.Error("Failed to start server", "socket", cfg.SocketPath, "error", err)
		os.Exit(1)
	}

	slog.Info("Helper ready",
		"socket", srv.SocketPath(),
		"counter_source", cfg.CounterSource,
		"poll_interval", cfg.PollInterval(),
		"config", cfgMgr.GetConfigFile())

	// Notify systemd that we're ready
	notifySystemd("READY=1")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start watchdog goroutine if enabled
	go watchdogLoop()

	sig := <-sigChan
	slog.Info("Received shutdown signal", "signal", sig)

	notifySystemd("STOPPING=1")

	// Sessions first so their monitor_stopped events still reach clients.
	mgr.Shutdown()
	if err := srv.Stop(); err != nil {
		slog.Warn("Failed to stop server cleanly", "error", err)
	}

	slog.Info("Shutdown complete")
}

func loadConfig(path string) (*config.Manager, error) {
	if path == "" {
		return config.NewManager()
	}
	return config.NewManagerWithPaths(config.PathsFor(path))
}

// notifySystemd sends a notification to systemd.
func notifySystemd(state string) {
	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return
	}

	conn, err := syscall.Socket(syscall.AF_UNIX, syscall.SOCK_DGRAM, 0)
	if err != nil {
		slog.Warn("Failed to create notify socket", "error", err)
		return
	}
	defer func() { _ = syscall.Close(conn) }()

	addr := &syscall.SockaddrUnix{Name: socketPath}
	if err := syscall.Sendto(conn, []byte(state), 0, addr); err != nil {
		slog.Warn("Failed to notify systemd", "error", err)
	}
}

// watchdogLoop sends periodic watchdog notifications to systemd.
func watchdogLoop() {
	watchdogUsec := os.Getenv("WATCHDOG_USEC")
	if watchdogUsec == "" {
		return
	}

	var usec int64
	if _, err := fmt.Sscanf(watchdogUsec, "%d", &usec); err != nil || usec <= 0 {
		slog.Warn("Invalid WATCHDOG_USEC", "value", watchdogUsec)
		return
	}

	// Notify at half the watchdog interval
	interval := usec / 2

	for {
		_, _ = syscall.Select(0, nil, nil, nil, &syscall.Timeval{
			Sec:  interval / 1000000,
			Usec: interval % 1000000,
		})
		notifySystemd("WATCHDOG=1")
	}
}

// safeBroadcaster forwards manager events to the server once it exists.
type safeBroadcaster struct {
	mu  sync.RWMutex
	srv *server.Server
}

// SetServer sets the server for broadcasting.
func (b *safeBroadcaster) SetServer(srv *server.Server) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.srv = srv
}

// Broadcast sends an event to all connected clients.
func (b *safeBroadcaster) Broadcast(name protocol.EventName, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.srv != nil {
		b.srv.BroadcastEvent(name, data)
	}
}
