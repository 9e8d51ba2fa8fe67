// internal/natsbridge/streams.go
package natsbridge

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamManager provisions the JetStream streams that give task-lifecycle
// and operation-commit events a durable, replayable log independent of the
// operation journal (which only records committed file operations).
type StreamManager struct {
	js nats.JetStreamContext
}

// NewStreamManager creates a StreamManager bound to conn's JetStream context.
func NewStreamManager(conn *nats.Conn) (*StreamManager, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}
	return &StreamManager{js: js}, nil
}

// SetupStreams creates or updates the EVENTS stream covering every
// filetidy.> subject, retained for 72 hours.
func (sm *StreamManager) SetupStreams() error {
	cfg := nats.StreamConfig{
		Name:        "EVENTS",
		Description: "filetidy task lifecycle and operation-commit events",
		Subjects:    []string{"filetidy.>"},
		Storage:     nats.FileStorage,
		MaxAge:      72 * time.Hour,
		Retention:   nats.LimitsPolicy,
	}

	if _, err := sm.js.StreamInfo(cfg.Name); err != nil {
		if err == nats.ErrStreamNotFound {
			log.Printf("natsbridge: creating stream %s", cfg.Name)
			_, err := sm.js.AddStream(&cfg)
			return err
		}
		return fmt.Errorf("fetching stream info for %s: %w", cfg.Name, err)
	}

	_, err := sm.js.UpdateStream(&cfg)
	return err
}
