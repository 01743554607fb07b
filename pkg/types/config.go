package types

import "time"

// Config is the resolved agenthub configuration.
type Config struct {
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	DataDir  string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`

	Duplex  DuplexConfig  `json:"duplex,omitempty" yaml:"duplex,omitempty"`
	Polling PollingConfig `json:"polling,omitempty" yaml:"polling,omitempty"`

	// ApprovalTimeoutMs bounds how long a human-approval request stays
	// pending before it auto-declines. Default 5 minutes.
	ApprovalTimeoutMs int `json:"approvalTimeoutMs,omitempty" yaml:"approvalTimeoutMs,omitempty"`

	// MergeWindowMs is the transcript reconciler's window for merging two
	// adjacent assistant messages. Default 5 seconds.
	MergeWindowMs int `json:"mergeWindowMs,omitempty" yaml:"mergeWindowMs,omitempty"`
}

// DuplexConfig configures the push-variant backend.
type DuplexConfig struct {
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// HandshakeTimeoutMs bounds the wait for the init frame after dial.
	HandshakeTimeoutMs int `json:"handshakeTimeoutMs,omitempty" yaml:"handshakeTimeoutMs,omitempty"`
}

// PollingConfig configures the poll-variant backend.
type PollingConfig struct {
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// PollIntervalMs is the fixed poll cadence while connected. Default 100ms.
	PollIntervalMs int `json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`

	// RequestTimeoutMs bounds each outbound RPC call. Default 30s.
	RequestTimeoutMs int `json:"requestTimeoutMs,omitempty" yaml:"requestTimeoutMs,omitempty"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultApprovalTimeout  = 5 * time.Minute
	DefaultMergeWindow      = 5 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultRequestTimeout   = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// ApplyDefaults fills zero-valued tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.ApprovalTimeoutMs == 0 {
		c.ApprovalTimeoutMs = int(DefaultApprovalTimeout / time.Millisecond)
	}
	if c.MergeWindowMs == 0 {
		c.MergeWindowMs = int(DefaultMergeWindow / time.Millisecond)
	}
	if c.Polling.PollIntervalMs == 0 {
		c.Polling.PollIntervalMs = int(DefaultPollInterval / time.Millisecond)
	}
	if c.Polling.RequestTimeoutMs == 0 {
		c.Polling.RequestTimeoutMs = int(DefaultRequestTimeout / time.Millisecond)
	}
	if c.Duplex.HandshakeTimeoutMs == 0 {
		c.Duplex.HandshakeTimeoutMs = int(DefaultHandshakeTimeout / time.Millisecond)
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
}

// ApprovalTimeout returns the approval timeout as a duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalTimeoutMs) * time.Millisecond
}

// MergeWindow returns the reconciler merge window as a duration.
func (c *Config) MergeWindow() time.Duration {
	return time.Duration(c.MergeWindowMs) * time.Millisecond
}

// PollInterval returns the poll cadence as a duration.
func (c *PollingConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// RequestTimeout returns the per-RPC timeout as a duration.
func (c *PollingConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// HandshakeTimeout returns the duplex handshake timeout as a duration.
func (c *DuplexConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}
