package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shini4i/wifimon/internal/dashboard"
	"github.com/shini4i/wifimon/internal/stats"
	"github.com/shini4i/wifimon/internal/tray"
)

// stopTimeout bounds the session teardown after the frontend exits.
const stopTimeout = 5 * time.Second

// Monitor prints one summary line per sample until ctx is cancelled or the
// session ends in the helper or the helper connection drops.
func (a *App) Monitor(ctx context.Context, iface string, interval time.Duration) error {
	stopped := make(chan string, 1)
	stalled := make(chan string, 1)
	samples := make(chan stats.NetworkStats, 16)

	m, err := a.startMonitor(ctx, iface, interval,
		func(s stats.NetworkStats) {
			select {
			case samples <- s:
			default:
				slog.Debug("Dropping sample, output is behind", "interface", s.Interface)
			}
		},
		func(reason string) {
			select {
			case stopped <- reason:
			default:
			}
		},
		func(reason string) {
			select {
			case stalled <- reason:
			default:
			}
		})
	if err != nil {
		return err
	}
	defer a.stopMonitor(m)

	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-stopped:
			return fmt.Errorf("monitoring session ended: %s", reason)
		case reason := <-stalled:
			fmt.Fprintf(a.out, "%s  sampling failed: %s\n", a.now().Format(time.TimeOnly), reason)
		case s := <-samples:
			fmt.Fprintf(a.out, "%s  %s\n", s.Timestamp.Local().Format(time.TimeOnly), stats.FormatSummary(s))
		}
	}
}

// Dashboard shows the session in a full-screen terminal view.
func (a *App) Dashboard(ctx context.Context, iface string, interval time.Duration) error {
	resolved, err := a.resolveInterface(iface)
	if err != nil {
		return err
	}
	d := dashboard.New(resolved)

	m, err := a.startMonitor(ctx, resolved, interval, d.Update,
		func(reason string) { d.SetStatus("session ended: " + reason) },
		func(reason string) { d.SetStatus("sampling failed: " + reason) })
	if err != nil {
		return err
	}
	defer a.stopMonitor(m)

	go func() {
		<-ctx.Done()
		d.Stop()
	}()
	return d.Run()
}

// Tray shows the session in the system tray. Scan from the menu runs a scan
// and reports the network count.
func (a *App) Tray(ctx context.Context, iface string, interval time.Duration) error {
	resolved, err := a.resolveInterface(iface)
	if err != nil {
		return err
	}
	t := tray.New(resolved)

	// Callback registration only fails after Run, which has not happened yet.
	if err := t.OnScan(func() {
		go func() {
			networks, err := a.scan(ctx)
			if err != nil {
				slog.Error("Tray scan failed", "error", err)
			}
			t.SetScanResult(len(networks), err)
		}()
	}); err != nil {
		return err
	}
	if err := t.OnQuit(t.Quit); err != nil {
		return err
	}

	m, err := a.startMonitor(ctx, resolved, interval, t.SetStats, t.SetStalled, t.SetStalled)
	if err != nil {
		return err
	}
	defer a.stopMonitor(m)

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	return t.Run()
}

func (a *App) startMonitor(ctx context.Context, iface string, interval time.Duration,
	onStats func(stats.NetworkStats), onStopped, onStalled func(string)) (Monitor, error) {
	iface, err := a.resolveInterface(iface)
	if err != nil {
		return nil, err
	}
	interval = a.resolveInterval(interval)

	m := a.newMonitor()
	m.OnStats(onStats)
	m.OnStopped(onStopped)
	m.OnStalled(onStalled)

	startCtx, cancel := a.commandContext(ctx)
	defer cancel()
	if err := m.Start(startCtx, iface, interval); err != nil {
		return nil, fmt.Errorf("failed to start monitoring %s: %w", iface, err)
	}
	slog.Debug("Monitoring started", "interface", iface, "interval", interval, "helper", a.UsingHelper())
	return m, nil
}

func (a *App) stopMonitor(m Monitor) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		slog.Warn("Failed to stop monitoring session", "error", err)
	}
}
