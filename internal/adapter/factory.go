package adapter

import (
	"fmt"

	"github.com/agenthub-ai/agenthub/pkg/types"
)

// Factory creates adapters by backend type. It is constructed once at
// startup and passed to whatever creates sessions; there is no process-wide
// registry.
type Factory struct {
	config *types.Config
}

// NewFactory creates a factory for the given configuration.
func NewFactory(config *types.Config) *Factory {
	return &Factory{config: config}
}

// Create builds a disconnected adapter for the given backend type.
func (f *Factory) Create(backendType types.BackendType) (Adapter, error) {
	switch backendType {
	case types.BackendDuplex:
		if f.config.Duplex.URL == "" {
			return nil, fmt.Errorf("duplex backend not configured")
		}
		return NewDuplexAdapter(f.config.Duplex), nil
	case types.BackendPolling:
		if f.config.Polling.BaseURL == "" {
			return nil, fmt.Errorf("polling backend not configured")
		}
		return NewPollingAdapter(f.config.Polling), nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
}
