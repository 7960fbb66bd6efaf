package core

import (
	"fmt"
	"strings"
)

type DispatcherConfig struct {
	BatchSize  int `koanf:"batch_size" mapstructure:"batch_size"`
	MaxRetries int `koanf:"max_retries" mapstructure:"max_retries"`
}

type GatewayConfig struct {
	// ReplayWindowSeconds bounds timestamped signatures (stripe) against
	// replay. Zero disables the check.
	ReplayWindowSeconds int `koanf:"replay_window_seconds" mapstructure:"replay_window_seconds"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Dispatcher  DispatcherConfig `koanf:"dispatcher" mapstructure:"dispatcher"`
	Gateway     GatewayConfig    `koanf:"gateway" mapstructure:"gateway"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "eventqueue",
		Dispatcher: DispatcherConfig{
			BatchSize:  10,
			MaxRetries: DefaultMaxRetries,
		},
		Gateway: GatewayConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Dispatcher.BatchSize < 0 {
		return fmt.Errorf("core: dispatcher batch_size cannot be negative")
	}
	if c.Dispatcher.MaxRetries < 0 {
		return fmt.Errorf("core: dispatcher max_retries cannot be negative")
	}
	if c.Gateway.ReplayWindowSeconds < 0 {
		return fmt.Errorf("core: gateway replay_window_seconds cannot be negative")
	}
	return nil
}
