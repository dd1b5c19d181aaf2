package model

import "time"

type BackendKind string

const (
	BackendAutomation BackendKind = "automation"
	BackendAPI        BackendKind = "api"
)

const (
	DefaultBatchSize    = 50
	DefaultMessageDelay = 2 * time.Second
	DefaultBatchDelay   = 5 * time.Second
	DefaultMaxRetries   = 3
)

// DeliveryConfig is supplied per dispatch and never persisted by the core.
type DeliveryConfig struct {
	BatchSize    int           `json:"batchSize"`
	MessageDelay time.Duration `json:"messageDelay"`
	BatchDelay   time.Duration `json:"batchDelay"`
	MaxRetries   int           `json:"maxRetries"`
	Backend      BackendKind   `json:"backend"`
}

// WithDefaults fills non-positive fields with the defaults.
func (c DeliveryConfig) WithDefaults() DeliveryConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MessageDelay <= 0 {
		c.MessageDelay = DefaultMessageDelay
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Backend == "" {
		c.Backend = BackendAutomation
	}
	return c
}

type ConnectionState string

const (
	StateDisconnected       ConnectionState = "disconnected"
	StateConnecting         ConnectionState = "connecting"
	StateAwaitingCredential ConnectionState = "awaiting-credential"
	StateReady              ConnectionState = "ready"
	StateFailed             ConnectionState = "failed"
)

// ConnectionStatus is a point-in-time snapshot of the connection manager.
type ConnectionStatus struct {
	State          ConnectionState `json:"state"`
	Ready          bool            `json:"ready"`
	SessionPresent bool            `json:"sessionPresent"`
	Connecting     bool            `json:"connecting"`
	LastError      string          `json:"lastError,omitempty"`
	Credential     string          `json:"currentCredential,omitempty"`
	Attempts       int             `json:"attempts"`
}
