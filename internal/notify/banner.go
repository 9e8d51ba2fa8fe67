// internal/notify/banner.go
package notify

import (
	"sync"
	"time"
)

// BannerNotifier holds the dashboard's current alert banner state, served
// by internal/server's /status endpoint.
type BannerNotifier struct {
	mu    sync.RWMutex
	state AlertState
}

// NewBannerNotifier creates an empty, hidden banner.
func NewBannerNotifier() *BannerNotifier {
	return &BannerNotifier{}
}

// Show sets the banner to visible with message/severity.
func (b *BannerNotifier) Show(message string, severity Severity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = AlertState{Visible: true, Message: message, Severity: severity, Timestamp: time.Now()}
}

// Clear hides the banner without discarding its last message.
func (b *BannerNotifier) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Visible = false
}

// State returns a copy of the current banner state.
func (b *BannerNotifier) State() AlertState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}
