// Package main provides the wifimon command line: interface listing, Wi-Fi
// scanning and connecting, seen-network history and live throughput
// monitoring in the terminal or the system tray.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shini4i/wifimon/internal/app"
	"github.com/shini4i/wifimon/internal/logging"
)

// Version is the application version, set at build time via ldflags.
var Version = "dev"

const usage = `Usage: wifimon [-config path] [-local] <command> [args]

Commands:
  interfaces [-json]                       list network interfaces
  scan [-json]                             list visible Wi-Fi networks
  connect [-password p] [-save] [-retries n] <bssid>
                                           connect to an access point
  seen [-json]                             list networks seen by past scans
  forget <bssid>                           drop a network from history and keyring
  monitor [-interval d] [-tui] [iface]     print live throughput
  tray [-interval d] [iface]               show live throughput in the system tray
  status                                   show helper and session status
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logging.SetupFromEnv()

	global := flag.NewFlagSet("wifimon", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := global.String("config", "", "Path to the config file (.json or .toml)")
	local := global.Bool("local", false, "Run in-process even when the helper is available")
	showVersion := global.Bool("version", false, "Show version and exit")
	if err := global.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Printf("wifimon %s\n", Version)
		return 0
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(app.Options{ConfigPath: *configPath, Local: *local, Version: Version})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close helper connection", "error", err)
		}
	}()

	if err := dispatch(ctx, a, global.Arg(0), global.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) || errors.Is(err, errUsage) {
			return 2
		}
		slog.Error("Command failed", "command", global.Arg(0), "error", err)
		return 1
	}
	return 0
}

var errUsage = errors.New("invalid usage")

func dispatch(ctx context.Context, a *app.App, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print JSON")

	switch cmd {
	case "interfaces":
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.Interfaces(ctx, *asJSON)

	case "scan":
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.Scan(ctx, *asJSON)

	case "connect":
		password := fs.String("password", "", "Network credential")
		save := fs.Bool("save", false, "Save the credential in the keyring after connecting")
		retries := fs.Int("retries", 0, "Extra attempts after a transient failure")
		retryDelay := fs.Duration("retry-delay", 0, "Wait between attempts (default 5s)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return usageError("connect needs exactly one BSSID")
		}
		return a.Connect(ctx, app.ConnectRequest{
			BSSID:      fs.Arg(0),
			Password:   *password,
			Save:       *save,
			Retries:    *retries,
			RetryDelay: *retryDelay,
		})

	case "seen":
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.Seen(*asJSON)

	case "forget":
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return usageError("forget needs exactly one BSSID")
		}
		return a.Forget(fs.Arg(0))

	case "monitor":
		interval := fs.Duration("interval", 0, "Sampling interval (default from config)")
		tui := fs.Bool("tui", false, "Full-screen terminal dashboard")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *tui {
			return a.Dashboard(ctx, fs.Arg(0), *interval)
		}
		return a.Monitor(ctx, fs.Arg(0), *interval)

	case "tray":
		interval := fs.Duration("interval", 0, "Sampling interval (default from config)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.Tray(ctx, fs.Arg(0), *interval)

	case "status":
		return a.Status(ctx)

	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
}

func usageError(msg string) error {
	fmt.Fprintf(os.Stderr, "wifimon: %s\n\n%s", msg, usage)
	return errUsage
}

