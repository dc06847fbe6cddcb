// Package ui renders the launcher's system tray from state snapshots.
package ui

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"github.com/dustin/go-humanize"

	"mihomo-launcher/core/state"
	"mihomo-launcher/internal/debuglog"
)

const (
	trayTitle = "Mihomo Launcher"

	baseMenuDelay = 100 * time.Millisecond
	maxMenuDelay  = 500 * time.Millisecond
)

// Controller is the subset of the coordinator the tray drives.
type Controller interface {
	StartProxy(ctx context.Context)
	StopProxy(ctx context.Context)
	SelectProxy(ctx context.Context, group, node string)
	TestAllDelays(ctx context.Context)
	RefreshAll(ctx context.Context)
	RefreshDiagnostics(ctx context.Context)
}

// Tray builds menus from snapshots and hands clicks to the controller.
type Tray struct {
	ctrl Controller
	ctx  context.Context
	quit func()

	// Now and Go are replaced in tests.
	Now func() time.Time
	Go  func(func())
}

// NewTray returns a tray whose commands run under ctx.
func NewTray(ctx context.Context, ctrl Controller, quit func()) *Tray {
	return &Tray{
		ctrl: ctrl,
		ctx:  ctx,
		quit: quit,
		Now:  time.Now,
		Go:   func(fn func()) { go fn() },
	}
}

func (t *Tray) command(fn func(ctx context.Context)) func() {
	return func() { t.Go(func() { fn(t.ctx) }) }
}

func disabled(label string) *fyne.MenuItem {
	item := fyne.NewMenuItem(label, nil)
	item.Disabled = true
	return item
}

func enabledIf(item *fyne.MenuItem, ok bool) *fyne.MenuItem {
	item.Disabled = !ok
	return item
}

// StatusLine summarises whether the engine runs and for how long.
func StatusLine(s state.State, now time.Time) string {
	if !s.APIAvailable {
		return "Engine unavailable"
	}
	if !s.IsRunning {
		return "Stopped"
	}
	line := "Running"
	if up := s.Connection.Uptime(now); up > 0 {
		line += ", up " + strings.TrimSpace(humanize.RelTime(now.Add(-up), now, "", ""))
	}
	if s.Engine.Version != "" {
		line += " (" + s.Engine.Version + ")"
	}
	return line
}

// MetricsLine renders the last computed metrics, or "" when there are none.
func MetricsLine(m *state.Metrics) string {
	if m == nil {
		return ""
	}
	line := fmt.Sprintf("%d/%d healthy", m.HealthyProxies, m.TotalProxies)
	if m.AvgDelay > 0 {
		line += fmt.Sprintf(", avg %d ms (%s)", m.AvgDelay, state.Classify(m.AvgDelay))
	}
	return line
}

// NodeLabel is a node's menu label with its delay, checked when active.
func NodeLabel(node string, delay int, active bool) string {
	label := node
	switch {
	case delay > 0:
		label += fmt.Sprintf("  %d ms", delay)
	case delay == -1:
		label += "  timeout"
	}
	if active {
		label = "✓ " + label
	}
	return label
}

func nodeDelay(s state.State, node string) int {
	if d, ok := s.LatencyData[node]; ok {
		return d
	}
	if n, ok := s.Nodes[node]; ok {
		return n.Delay
	}
	return 0
}

func selectable(g *state.ProxyGroup) bool {
	return g.Type == "" || strings.EqualFold(g.Type, "selector")
}

func (t *Tray) groupsMenu(s state.State) *fyne.Menu {
	var items []*fyne.MenuItem
	for _, g := range s.ProxyGroups {
		if !selectable(g) || len(g.Proxies) == 0 {
			continue
		}
		var nodes []*fyne.MenuItem
		for _, node := range g.Proxies {
			group := g.Name
			nodes = append(nodes, fyne.NewMenuItem(NodeLabel(node, nodeDelay(s, node), node == g.Now), t.command(func(ctx context.Context) {
				t.ctrl.SelectProxy(ctx, group, node)
			})))
		}
		groupItem := fyne.NewMenuItem(g.Name, nil)
		groupItem.ChildMenu = fyne.NewMenu(g.Name, nodes...)
		items = append(items, groupItem)
	}
	if len(items) == 0 {
		items = append(items, disabled("No proxies available"))
	}
	return fyne.NewMenu("Select Proxy", items...)
}

// Menu builds the tray menu for s.
func (t *Tray) Menu(s state.State) *fyne.Menu {
	var items []*fyne.MenuItem

	// macOS: separator at top to fix menu positioning
	if runtime.GOOS == "darwin" {
		items = append(items, fyne.NewMenuItemSeparator())
	}

	items = append(items, disabled(StatusLine(s, t.Now())))
	if msg := s.Errors.Message(); msg != "" {
		items = append(items, disabled("Error: "+msg))
		if hint := ErrorHint(s.Errors.LastError); hint != "" {
			items = append(items, disabled(hint))
		}
	}
	items = append(items,
		fyne.NewMenuItemSeparator(),
		enabledIf(fyne.NewMenuItem("Start", t.command(t.ctrl.StartProxy)), s.CanStart() && !s.IsRunning),
		enabledIf(fyne.NewMenuItem("Stop", t.command(t.ctrl.StopProxy)), s.CanStop()),
		fyne.NewMenuItemSeparator(),
	)

	if s.IsRunning {
		selectItem := fyne.NewMenuItem("Select Proxy", nil)
		selectItem.ChildMenu = t.groupsMenu(s)
		items = append(items, selectItem)

		testLabel := "Test Latency"
		if s.TestingDelays {
			testLabel = "Testing..."
		}
		items = append(items, enabledIf(fyne.NewMenuItem(testLabel, t.command(t.ctrl.TestAllDelays)), !s.TestingDelays))
		if line := MetricsLine(s.Metrics); line != "" {
			items = append(items, disabled(line))
		}
		items = append(items,
			fyne.NewMenuItem("Refresh", t.command(t.ctrl.RefreshAll)),
			fyne.NewMenuItem("Check Connectivity", t.command(t.ctrl.RefreshDiagnostics)),
		)
		if d := s.Diagnostics; d != nil {
			items = append(items, disabled(diagnosticsLine(*d, t.Now())))
		}
		items = append(items, fyne.NewMenuItemSeparator())
	}

	quit := fyne.NewMenuItem("Quit", t.quit)
	quit.IsQuit = true
	items = append(items, quit)
	return fyne.NewMenu(trayTitle, items...)
}

func diagnosticsLine(d state.Diagnostics, now time.Time) string {
	if d.Error != "" && d.PublicIP == "" {
		return "Connectivity: " + d.Error
	}
	proxy := "proxy unreachable"
	if d.ProxyReachable {
		proxy = "proxy ok"
	}
	return fmt.Sprintf("IP %s, %s, checked %s", d.PublicIP, proxy, humanize.RelTime(d.CheckedAt, now, "ago", "from now"))
}

// menuDelay grows with the number of proxies so large menus are not rebuilt
// faster than the systray can apply them.
func menuDelay(s state.State) time.Duration {
	n := 0
	for _, g := range s.ProxyGroups {
		n += len(g.Proxies)
	}
	delay := baseMenuDelay
	if n > 10 {
		delay += time.Duration(n-10) * 20 * time.Millisecond
	}
	if delay > maxMenuDelay {
		delay = maxMenuDelay
	}
	return delay
}

// Run applies snapshots from updates to the desktop tray until updates is
// closed. Bursts of snapshots are coalesced into one menu rebuild.
func (t *Tray) Run(desk desktop.App, updates <-chan state.State) {
	var (
		mu      sync.Mutex
		latest  state.State
		timer   *time.Timer
		running = -1
	)
	apply := func() {
		mu.Lock()
		s := latest
		timer = nil
		mu.Unlock()
		fyne.Do(func() {
			defer func() {
				if r := recover(); r != nil {
					debuglog.ErrorLog("tray: recovered from panic while updating menu: %v", r)
				}
			}()
			desk.SetSystemTrayMenu(t.Menu(s))
			on := 0
			if s.IsRunning {
				on = 1
			}
			if on != running {
				running = on
				if s.IsRunning {
					desk.SetSystemTrayIcon(theme.MediaPlayIcon())
				} else {
					desk.SetSystemTrayIcon(theme.MediaStopIcon())
				}
			}
		})
	}

	for s := range updates {
		mu.Lock()
		latest = s
		if timer == nil {
			timer = time.AfterFunc(menuDelay(s), apply)
		}
		mu.Unlock()
	}
	mu.Lock()
	if timer != nil {
		timer.Stop()
	}
	mu.Unlock()
}
