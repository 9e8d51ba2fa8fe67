// internal/notify/manager.go
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/filetidy/filetidy/internal/events"
)

// Config configures a Manager. The Enable* flags only decide whether the
// Manager starts enabled (any one of them set enables it); they do not
// select channels.
type Config struct {
	AppID          string
	DashboardURL   string
	EnableToast    bool
	EnableTerminal bool
	EnableBanner   bool
	Logger         *log.Logger
}

// Manager fans a single alert out across toast, terminal, and dashboard
// banner channels, and can drive itself off the Agent Manager's event bus.
type Manager struct {
	toast    *ToastNotifier
	terminal *TerminalNotifier
	banner   *BannerNotifier

	mu      sync.RWMutex
	enabled bool
	logger  *log.Logger
}

// NewManager creates a Manager from Config, defaulting to stderr logging.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Manager{
		toast:    NewToastNotifier(cfg.AppID, cfg.DashboardURL),
		terminal: NewTerminalNotifier(),
		banner:   NewBannerNotifier(),
		enabled:  cfg.EnableToast || cfg.EnableTerminal || cfg.EnableBanner,
		logger:   cfg.Logger,
	}
}

// Notify fans a single alert out to toast and terminal where the platform
// supports them, and always to the dashboard banner. Channel failures are
// logged but don't stop the others.
func (m *Manager) Notify(title, message string, severity Severity) error {
	m.mu.RLock()
	enabled := m.enabled
	m.mu.RUnlock()
	if !enabled {
		return fmt.Errorf("notifications are disabled")
	}

	var errs []error

	if m.toast.IsSupported() {
		if err := m.toast.ShowToast(title, message, severity); err != nil {
			m.logger.Printf("[notify] toast failed: %v", err)
			errs = append(errs, err)
		}
	}
	if m.terminal.IsSupported() {
		if err := m.terminal.FlashTerminal(message); err != nil {
			m.logger.Printf("[notify] terminal flash failed: %v", err)
			errs = append(errs, err)
		}
	}
	m.banner.Show(fmt.Sprintf("%s: %s", title, message), severity)

	if len(errs) > 0 {
		return fmt.Errorf("some notification channels failed: %v", errs)
	}
	return nil
}

// ClearAlert restores the terminal title and hides the dashboard banner.
func (m *Manager) ClearAlert() {
	if m.terminal.IsSupported() {
		if err := m.terminal.ClearAlert(); err != nil {
			m.logger.Printf("[notify] terminal restore failed: %v", err)
		}
	}
	m.banner.Clear()
}

// BannerState returns the current dashboard banner, for internal/server.
func (m *Manager) BannerState() AlertState {
	return m.banner.State()
}

// Enable/Disable toggle whether Notify does anything.
func (m *Manager) Enable()  { m.mu.Lock(); m.enabled = true; m.mu.Unlock() }
func (m *Manager) Disable() { m.mu.Lock(); m.enabled = false; m.mu.Unlock() }

// Subscribe drives the Manager off the Agent Manager's event bus: emergency
// stop, emergency eviction and memory warnings each raise an alert; a
// manager-stopped clears it. Runs until ctx is cancelled.
func (m *Manager) Subscribe(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe("notify", []events.EventType{
		events.EventEmergencyStop,
		events.EventEmergencyEviction,
		events.EventMemoryWarning,
		events.EventManagerStopped,
	})

	go func() {
		defer bus.Unsubscribe("notify", ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				m.handleEvent(ev)
			}
		}
	}()
}

func (m *Manager) handleEvent(ev events.Event) {
	switch ev.Type {
	case events.EventEmergencyStop:
		if err := m.Notify("Emergency Stop", reasonOf(ev), SeverityCritical); err != nil {
			m.logger.Printf("[notify] %v", err)
		}
	case events.EventEmergencyEviction:
		if err := m.Notify("Emergency Eviction", reasonOf(ev), SeverityError); err != nil {
			m.logger.Printf("[notify] %v", err)
		}
	case events.EventMemoryWarning:
		if err := m.Notify("Memory Pressure", reasonOf(ev), SeverityWarning); err != nil {
			m.logger.Printf("[notify] %v", err)
		}
	case events.EventManagerStopped:
		m.ClearAlert()
	}
}

func reasonOf(ev events.Event) string {
	if reason, ok := ev.Payload["reason"].(string); ok && reason != "" {
		return reason
	}
	return string(ev.Type)
}
