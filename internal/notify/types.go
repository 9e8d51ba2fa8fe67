// internal/notify/types.go
package notify

import "time"

// Severity is the urgency of an alert shown through any notification channel.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityCritical Severity = "critical"
)

// AlertState holds the dashboard banner's current contents, exposed
// read-only to internal/server's /status endpoint.
type AlertState struct {
	Visible   bool      `json:"visible"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}
