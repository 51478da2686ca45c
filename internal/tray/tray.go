// Package tray shows live interface throughput in the system tray.
package tray

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fyne.io/systray"

	"github.com/shini4i/wifimon/internal/stats"
)

var (
	// ErrTrayAlreadyRunning is returned when attempting to modify callbacks after Run() has been called.
	ErrTrayAlreadyRunning = errors.New("cannot modify callbacks after Tray.Run() is called")
	// ErrTrayRunTwice is returned when Run() is called more than once.
	ErrTrayRunTwice = errors.New("Tray.Run() called twice")
	// ErrTrayMissingCallbacks is returned when Run() is called without all required callbacks set.
	ErrTrayMissingCallbacks = errors.New("all callbacks (OnScan, OnQuit) must be set before calling Run()")
)

// State is the monitoring state shown by the icon.
type State int

const (
	// StateIdle means no sample has arrived yet.
	StateIdle State = iota
	// StateActive means samples are arriving.
	StateActive
	// StateStalled means the session ended or sampling failed.
	StateStalled
)

// Tray manages the system tray icon and menu for one interface.
type Tray struct {
	mu sync.RWMutex

	iface string
	state State
	last  *stats.NetworkStats

	menuStatus *systray.MenuItem
	menuRate   *systray.MenuItem
	menuTotals *systray.MenuItem
	menuScan   *systray.MenuItem
	menuQuit   *systray.MenuItem

	// Callbacks - must be set before Run() is called
	onScan func()
	onQuit func()

	done      chan struct{}
	running   bool
	closeOnce sync.Once
}

// New creates a tray for the given interface.
func New(iface string) *Tray {
	return &Tray{
		iface: iface,
		state: StateIdle,
		done:  make(chan struct{}),
	}
}

// OnScan registers a callback for the Scan menu item.
// Must be called before Run(). Returns ErrTrayAlreadyRunning if called after Run().
func (t *Tray) OnScan(callback func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrTrayAlreadyRunning
	}
	t.onScan = callback
	return nil
}

// OnQuit registers a callback for the Quit menu item.
// Must be called before Run(). Returns ErrTrayAlreadyRunning if called after Run().
func (t *Tray) OnQuit(callback func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrTrayAlreadyRunning
	}
	t.onQuit = callback
	return nil
}

// SetStats shows a new sample.
func (t *Tray) SetStats(s stats.NetworkStats) {
	t.mu.Lock()
	t.last = &s
	t.state = StateActive
	rate, totals := t.menuRate, t.menuTotals
	t.mu.Unlock()

	if rate == nil {
		return
	}
	rate.SetTitle(rateTitle(s))
	totals.SetTitle(totalsTitle(s))
	t.refresh()
}

// SetStalled marks the session as no longer producing samples.
func (t *Tray) SetStalled(reason string) {
	t.mu.Lock()
	t.state = StateStalled
	ready := t.menuStatus != nil
	t.mu.Unlock()

	slog.Info("Tray monitoring stalled", "interface", t.iface, "reason", reason)
	if ready {
		t.refresh()
	}
}

// SetScanResult reports the outcome of a scan in the Scan menu item.
func (t *Tray) SetScanResult(count int, err error) {
	t.mu.RLock()
	item := t.menuScan
	t.mu.RUnlock()
	if item == nil {
		return
	}
	item.SetTitle(scanTitle(count, err))
}

// Run starts the system tray icon and blocks until Quit.
func (t *Tray) Run() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrTrayRunTwice
	}
	if t.onScan == nil || t.onQuit == nil {
		t.mu.Unlock()
		return ErrTrayMissingCallbacks
	}
	t.running = true
	t.mu.Unlock()

	systray.Run(t.onReady, t.onExit)
	return nil
}

// Quit closes the system tray icon. Safe to call multiple times.
func (t *Tray) Quit() {
	t.closeOnce.Do(func() {
		close(t.done)
		systray.Quit()
	})
}

func (t *Tray) onReady() {
	systray.SetIcon(iconIdlePNG)
	systray.SetTitle("wifimon")

	status := systray.AddMenuItem("", "Monitored interface")
	status.Disable()
	rate := systray.AddMenuItem("↓ -  ↑ -", "Current throughput")
	rate.Disable()
	totals := systray.AddMenuItem("Total ↓ -  ↑ -", "Transferred since start")
	totals.Disable()

	systray.AddSeparator()
	scan := systray.AddMenuItem("Scan", "Scan for Wi-Fi networks")
	quit := systray.AddMenuItem("Quit", "Quit wifimon")

	t.mu.Lock()
	t.menuStatus, t.menuRate, t.menuTotals = status, rate, totals
	t.menuScan, t.menuQuit = scan, quit
	t.mu.Unlock()

	t.refresh()
	go t.handleMenuClicks()

	slog.Info("System tray initialized", "interface", t.iface)
}

func (t *Tray) onExit() {
	slog.Info("System tray closed")
}

func (t *Tray) handleMenuClicks() {
	for {
		select {
		case <-t.done:
			return
		case _, ok := <-t.menuScan.ClickedCh:
			if !ok {
				return
			}
			t.menuScan.SetTitle("Scanning...")
			t.onScan()
		case _, ok := <-t.menuQuit.ClickedCh:
			if !ok {
				return
			}
			t.onQuit()
		}
	}
}

// refresh updates the icon, tooltip and status line from the current state.
func (t *Tray) refresh() {
	t.mu.RLock()
	state, iface, last, status := t.state, t.iface, t.last, t.menuStatus
	t.mu.RUnlock()

	systray.SetIcon(iconFor(state))
	systray.SetTooltip(tooltip(iface, state, last))
	status.SetTitle(statusTitle(iface, state))
}

func iconFor(state State) []byte {
	switch state {
	case StateActive:
		return iconActivePNG
	case StateStalled:
		return iconStalledPNG
	default:
		return iconIdlePNG
	}
}

func statusTitle(iface string, state State) string {
	switch state {
	case StateActive:
		return fmt.Sprintf("%s: monitoring", iface)
	case StateStalled:
		return fmt.Sprintf("%s: stopped", iface)
	default:
		return fmt.Sprintf("%s: waiting for data", iface)
	}
}

func rateTitle(s stats.NetworkStats) string {
	return fmt.Sprintf("↓ %s  ↑ %s", stats.FormatRate(s.SpeedDown), stats.FormatRate(s.SpeedUp))
}

func totalsTitle(s stats.NetworkStats) string {
	return fmt.Sprintf("Total ↓ %s  ↑ %s in %s",
		stats.FormatBytes(s.TotalDown), stats.FormatBytes(s.TotalUp), stats.FormatDuration(s.Duration))
}

func tooltip(iface string, state State, last *stats.NetworkStats) string {
	if state != StateActive || last == nil {
		return "wifimon - " + statusTitle(iface, state)
	}
	return fmt.Sprintf("wifimon - %s %s", iface, rateTitle(*last))
}

func scanTitle(count int, err error) string {
	switch {
	case err != nil:
		return "Scan (failed)"
	case count == 1:
		return "Scan (1 network)"
	default:
		return fmt.Sprintf("Scan (%d networks)", count)
	}
}
