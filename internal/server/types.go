// internal/server/types.go
package server

// WSMessageType identifies the payload shape of a websocket push.
type WSMessageType string

const (
	WSTypeEvent WSMessageType = "event"
)

// WSMessage is the single envelope pushed to every /events websocket client.
type WSMessage struct {
	Type WSMessageType `json:"type"`
	Data interface{}   `json:"data"`
}

// CreateTaskRequest is POST /tasks's body.
type CreateTaskRequest struct {
	Kind              string            `json:"kind"`
	Priority          int               `json:"priority"`
	TimeoutMs         int64             `json:"timeout_ms"`
	MaxRetries        int               `json:"max_retries"`
	EstimatedMemoryMB int64             `json:"estimated_memory_mb"`
	Path              string            `json:"path,omitempty"`
	Paths             []string          `json:"paths,omitempty"`
	Model             string            `json:"model,omitempty"`
	Prompt            string            `json:"prompt,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ExecuteSuggestionsRequest is POST /suggestions/execute's body.
type ExecuteSuggestionsRequest struct {
	Suggestions           []SuggestionDTO `json:"suggestions"`
	MinConfidence         float64         `json:"min_confidence"`
	IncludeIDs            []string        `json:"include_ids,omitempty"`
	ExcludeIDs            []string        `json:"exclude_ids,omitempty"`
	Selective             bool            `json:"selective"`
	GroupPolicy           string          `json:"group_policy"`
	MaxBatchSize          int             `json:"max_batch_size,omitempty"`
	MaxSelectiveBatchSize int             `json:"max_selective_batch_size,omitempty"`
}

// SuggestionDTO is the wire shape of one suggestion in an execute request.
type SuggestionDTO struct {
	ID         string  `json:"id"`
	SourcePath string  `json:"source_path"`
	TargetName string  `json:"target_name,omitempty"`
	TargetPath string  `json:"target_path,omitempty"`
	Confidence float64 `json:"confidence"`
}

// StatusResponse is GET /status's body.
type StatusResponse struct {
	AgentManager interface{} `json:"agent_manager"`
	Queue        interface{} `json:"queue"`
	Banner       interface{} `json:"banner"`
	UptimeMs     int64       `json:"uptime_ms"`
}
