// Package dashboard renders a live terminal view of one monitoring session.
package dashboard

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/shini4i/wifimon/internal/stats"
)

const (
	// historySize is the number of samples kept for the graph.
	historySize = 60
	graphHeight = 12
)

// Dashboard shows rates, totals and a rolling throughput graph.
type Dashboard struct {
	app *tview.Application

	summaryView *tview.TextView
	graphView   *tview.TextView
	statusView  *tview.TextView

	mu      sync.RWMutex
	iface   string
	history []stats.NetworkStats
	status  string
}

// New creates a dashboard for iface.
func New(iface string) *Dashboard {
	return &Dashboard{
		app:     tview.NewApplication(),
		iface:   iface,
		history: make([]stats.NetworkStats, 0, historySize),
		status:  "waiting for first sample",
	}
}

// Run draws the dashboard and blocks until the user quits or Stop is called.
func (d *Dashboard) Run() error {
	d.setupUI()
	d.render()
	return d.app.Run()
}

// Stop closes the dashboard.
func (d *Dashboard) Stop() {
	d.app.Stop()
}

// Update records a sample and redraws.
func (d *Dashboard) Update(s stats.NetworkStats) {
	d.mu.Lock()
	d.history = appendHistory(d.history, s)
	d.status = "monitoring"
	d.mu.Unlock()

	d.app.QueueUpdateDraw(d.render)
}

// SetStatus replaces the status line and redraws.
func (d *Dashboard) SetStatus(status string) {
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()

	d.app.QueueUpdateDraw(d.render)
}

func (d *Dashboard) setupUI() {
	d.summaryView = tview.NewTextView().SetDynamicColors(true)
	d.summaryView.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", d.iface))

	d.graphView = tview.NewTextView().SetDynamicColors(true)
	d.graphView.SetBorder(true).SetTitle(" Throughput ")

	d.statusView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.summaryView, 6, 1, false).
		AddItem(d.graphView, 0, 1, false).
		AddItem(d.statusView, 1, 1, false)

	d.app.SetRoot(layout, true).
		SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			switch {
			case event.Key() == tcell.KeyEsc, event.Key() == tcell.KeyRune && event.Rune() == 'q':
				d.app.Stop()
				return nil
			}
			return event
		})
}

// render must run on the tview event loop.
func (d *Dashboard) render() {
	d.mu.RLock()
	history := append([]stats.NetworkStats(nil), d.history...)
	status := d.status
	d.mu.RUnlock()

	var last *stats.NetworkStats
	if len(history) > 0 {
		last = &history[len(history)-1]
	}
	d.summaryView.SetText(renderSummary(last))
	d.graphView.SetText(renderGraph(history, graphHeight))
	d.statusView.SetText(fmt.Sprintf("[gray]%s  (q to quit)[white]", status))
}

func appendHistory(history []stats.NetworkStats, s stats.NetworkStats) []stats.NetworkStats {
	history = append(history, s)
	if len(history) > historySize {
		history = history[len(history)-historySize:]
	}
	return history
}

func renderSummary(last *stats.NetworkStats) string {
	if last == nil {
		return "[gray]No data yet[white]"
	}
	return fmt.Sprintf(
		"[green]▼ Download[white]  %s  (total %s)\n"+
			"[red]▲ Upload[white]    %s  (total %s)\n"+
			"[yellow]Elapsed[white]     %s",
		stats.FormatRate(last.SpeedDown), stats.FormatBytes(last.TotalDown),
		stats.FormatRate(last.SpeedUp), stats.FormatBytes(last.TotalUp),
		stats.FormatDuration(last.Duration),
	)
}

// renderGraph plots one column per sample, scaled to the highest rate seen.
func renderGraph(history []stats.NetworkStats, height int) string {
	if len(history) < 2 {
		return "[gray]Collecting traffic data...[white]"
	}

	peak := 0.0
	for _, s := range history {
		peak = max(peak, s.SpeedDown, s.SpeedUp)
	}
	if peak == 0 {
		return "[gray]No traffic[white]"
	}

	rows := make([][]string, height)
	for i := range rows {
		rows[i] = make([]string, len(history))
		for j := range rows[i] {
			rows[i][j] = " "
		}
	}

	level := func(rate float64) int {
		return height - 1 - int(rate/peak*float64(height-1))
	}
	for x, s := range history {
		rows[level(s.SpeedUp)][x] = "[red]▲[white]"
		// Download wins when both land on the same cell.
		rows[level(s.SpeedDown)][x] = "[green]▼[white]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]peak %s[white]\n", stats.FormatRate(peak))
	for _, row := range rows {
		b.WriteString(strings.Join(row, ""))
		b.WriteByte('\n')
	}
	b.WriteString("[green]▼ Download[white]  [red]▲ Upload[white]")
	return b.String()
}
