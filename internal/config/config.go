// internal/config/config.go
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized option for the filetidy daemon, loaded from
// YAML with defaults filled in for anything left unset.
type Config struct {
	AgentManager AgentManagerConfig `yaml:"agentManager"`
	Inference    InferenceConfig    `yaml:"inference"`
	FileManager  FileManagerConfig  `yaml:"fileManager"`
	Server       ServerConfig       `yaml:"server"`
	NATS         NATSConfig         `yaml:"nats"`
}

// AgentManagerConfig is spec.md §6's Configuration table.
type AgentManagerConfig struct {
	MaxConcurrentSlots   int     `yaml:"maxConcurrentSlots"`
	SafetyFactor         float64 `yaml:"safetyFactor"`
	OSReservedMemoryMB   int64   `yaml:"osReservedMemoryMB"`
	TaskTimeoutMs        int64   `yaml:"taskTimeoutMs"`
	MaxRetries           int     `yaml:"maxRetries"`
	HealthCheckIntervalMs  int64 `yaml:"healthCheckIntervalMs"`
	SlotRecomputeIntervalMs int64 `yaml:"slotRecomputeIntervalMs"`
	EmergencyStopEnabled bool    `yaml:"emergencyStopEnabled"`
	SoftThreshold        float64 `yaml:"softThreshold"`
	HardThreshold        float64 `yaml:"hardThreshold"`
	CriticalThreshold    float64 `yaml:"criticalThreshold"`
	MaxResultHistory     int     `yaml:"maxResultHistory"`
}

// InferenceConfig configures the Ollama-compatible inference backend.
type InferenceConfig struct {
	BaseURL           string `yaml:"baseURL"`
	DefaultModel      string `yaml:"defaultModel"`
	RequestTimeoutMs  int64  `yaml:"requestTimeoutMs"`
	RetryBaseDelayMs  int64  `yaml:"retryBaseDelayMs"`
	RetryMaxAttempts  int    `yaml:"retryMaxAttempts"`
	BreakerMaxFailures uint32 `yaml:"breakerMaxFailures"`
	BreakerOpenTimeoutMs int64 `yaml:"breakerOpenTimeoutMs"`
}

// FileManagerConfig configures the Transactional File Manager and Journal.
type FileManagerConfig struct {
	BackupDir             string `yaml:"backupDir"`
	JournalPath           string `yaml:"journalPath"`
	JournalRetentionDays  int    `yaml:"journalRetentionDays"`
	MaxBatchSize          int    `yaml:"maxBatchSize"`
	MaxSelectiveBatchSize int    `yaml:"maxSelectiveBatchSize"`
	PartialFailureRate    float64 `yaml:"partialFailureRate"`
}

// ServerConfig configures the local HTTP/websocket control surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// NATSConfig configures the embedded NATS event fan-out.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Port          int    `yaml:"port"`
	WebSocketPort int    `yaml:"webSocketPort"`
	DataDir       string `yaml:"dataDir"`
}

// Defaults returns a Config populated with spec.md §6's default values.
func Defaults() *Config {
	return &Config{
		AgentManager: AgentManagerConfig{
			MaxConcurrentSlots:      8,
			SafetyFactor:            1.5,
			OSReservedMemoryMB:      2048,
			TaskTimeoutMs:           300_000,
			MaxRetries:              3,
			HealthCheckIntervalMs:   30_000,
			SlotRecomputeIntervalMs: 5_000,
			EmergencyStopEnabled:    true,
			SoftThreshold:           0.85,
			HardThreshold:           0.95,
			CriticalThreshold:       0.98,
			MaxResultHistory:        1000,
		},
		Inference: InferenceConfig{
			BaseURL:              "http://localhost:11434",
			DefaultModel:         "llama3",
			RequestTimeoutMs:     60_000,
			RetryBaseDelayMs:     1_000,
			RetryMaxAttempts:     3,
			BreakerMaxFailures:   5,
			BreakerOpenTimeoutMs: 30_000,
		},
		FileManager: FileManagerConfig{
			BackupDir:             "./filetidy-backups",
			JournalPath:           "./filetidy-journal.db",
			JournalRetentionDays:  30,
			MaxBatchSize:          50,
			MaxSelectiveBatchSize: 25,
			PartialFailureRate:    0.20,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8787",
		},
		NATS: NATSConfig{
			Enabled:       true,
			Port:          4222,
			WebSocketPort: 8222,
			DataDir:       "./filetidy-nats",
		},
	}
}

// Load reads a YAML config file at path, applying Defaults() to any field
// left at its zero value. A missing file is not an error: Load returns pure
// defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills zero-valued fields with their documented defaults,
// so a YAML file that only overrides a handful of options still gets sane
// values for everything else.
func applyDefaults(cfg *Config) {
	d := Defaults()

	am := &cfg.AgentManager
	if am.MaxConcurrentSlots == 0 {
		am.MaxConcurrentSlots = d.AgentManager.MaxConcurrentSlots
	}
	if am.SafetyFactor == 0 {
		am.SafetyFactor = d.AgentManager.SafetyFactor
	}
	if am.OSReservedMemoryMB == 0 {
		am.OSReservedMemoryMB = d.AgentManager.OSReservedMemoryMB
	}
	if am.TaskTimeoutMs == 0 {
		am.TaskTimeoutMs = d.AgentManager.TaskTimeoutMs
	}
	if am.MaxRetries == 0 {
		am.MaxRetries = d.AgentManager.MaxRetries
	}
	if am.HealthCheckIntervalMs == 0 {
		am.HealthCheckIntervalMs = d.AgentManager.HealthCheckIntervalMs
	}
	if am.SlotRecomputeIntervalMs == 0 {
		am.SlotRecomputeIntervalMs = d.AgentManager.SlotRecomputeIntervalMs
	}
	if am.SoftThreshold == 0 {
		am.SoftThreshold = d.AgentManager.SoftThreshold
	}
	if am.HardThreshold == 0 {
		am.HardThreshold = d.AgentManager.HardThreshold
	}
	if am.CriticalThreshold == 0 {
		am.CriticalThreshold = d.AgentManager.CriticalThreshold
	}
	if am.MaxResultHistory == 0 {
		am.MaxResultHistory = d.AgentManager.MaxResultHistory
	}

	inf := &cfg.Inference
	if inf.BaseURL == "" {
		inf.BaseURL = d.Inference.BaseURL
	}
	if inf.DefaultModel == "" {
		inf.DefaultModel = d.Inference.DefaultModel
	}
	if inf.RequestTimeoutMs == 0 {
		inf.RequestTimeoutMs = d.Inference.RequestTimeoutMs
	}
	if inf.RetryBaseDelayMs == 0 {
		inf.RetryBaseDelayMs = d.Inference.RetryBaseDelayMs
	}
	if inf.RetryMaxAttempts == 0 {
		inf.RetryMaxAttempts = d.Inference.RetryMaxAttempts
	}
	if inf.BreakerMaxFailures == 0 {
		inf.BreakerMaxFailures = d.Inference.BreakerMaxFailures
	}
	if inf.BreakerOpenTimeoutMs == 0 {
		inf.BreakerOpenTimeoutMs = d.Inference.BreakerOpenTimeoutMs
	}

	fm := &cfg.FileManager
	if fm.BackupDir == "" {
		fm.BackupDir = d.FileManager.BackupDir
	}
	if fm.JournalPath == "" {
		fm.JournalPath = d.FileManager.JournalPath
	}
	if fm.JournalRetentionDays == 0 {
		fm.JournalRetentionDays = d.FileManager.JournalRetentionDays
	}
	if fm.MaxBatchSize == 0 {
		fm.MaxBatchSize = d.FileManager.MaxBatchSize
	}
	if fm.MaxSelectiveBatchSize == 0 {
		fm.MaxSelectiveBatchSize = d.FileManager.MaxSelectiveBatchSize
	}
	if fm.PartialFailureRate == 0 {
		fm.PartialFailureRate = d.FileManager.PartialFailureRate
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = d.Server.ListenAddr
	}

	if cfg.NATS.Port == 0 {
		cfg.NATS.Port = d.NATS.Port
	}
	if cfg.NATS.WebSocketPort == 0 {
		cfg.NATS.WebSocketPort = d.NATS.WebSocketPort
	}
	if cfg.NATS.DataDir == "" {
		cfg.NATS.DataDir = d.NATS.DataDir
	}
}

// HealthCheckInterval returns the configured health-check cadence as a
// time.Duration for direct use with a ticker.
func (c *AgentManagerConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMs) * time.Millisecond
}

// SlotRecomputeInterval returns the configured slot-recompute cadence.
func (c *AgentManagerConfig) SlotRecomputeInterval() time.Duration {
	return time.Duration(c.SlotRecomputeIntervalMs) * time.Millisecond
}
