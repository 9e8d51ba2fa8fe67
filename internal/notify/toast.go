// internal/notify/toast.go
package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"
)

// ToastNotifier sends Windows toast notifications. On every other OS
// ShowToast is a documented no-op error, matching IsSupported.
type ToastNotifier struct {
	appID        string
	dashboardURL string
}

// NewToastNotifier creates a toast notifier for appID, linking toast
// actions back to dashboardURL.
func NewToastNotifier(appID, dashboardURL string) *ToastNotifier {
	if appID == "" {
		appID = "filetidy"
	}
	if dashboardURL == "" {
		dashboardURL = "http://localhost:8080"
	}
	return &ToastNotifier{appID: appID, dashboardURL: dashboardURL}
}

// ShowToast displays a toast with the given severity driving its sound cue.
func (t *ToastNotifier) ShowToast(title, message string, severity Severity) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("toast notifications only supported on windows")
	}

	audio := toast.Default
	if severity == SeverityCritical || severity == SeverityError {
		audio = toast.IM
	}

	notification := toast.Notification{
		AppID:   t.appID,
		Title:   title,
		Message: message,
		Audio:   audio,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open Dashboard", Arguments: t.dashboardURL},
		},
	}
	return notification.Push()
}

// IsSupported reports whether toast notifications work on this platform.
func (t *ToastNotifier) IsSupported() bool {
	return runtime.GOOS == "windows"
}
