// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/telekom/wren/internal/traceroute"
	"github.com/telekom/wren/pkg/wren/metrics"
)

// Config is the startup configuration of the wren.
type Config struct {
	// Trace configures the probing engine.
	Trace traceroute.Options `yaml:"trace" mapstructure:"trace"`
	// Telemetry is the configuration for metrics and tracing.
	Telemetry metrics.Config `yaml:"telemetry" mapstructure:"telemetry"`
}

// New creates a config with the default trace parameters.
func New() *Config {
	return &Config{
		Trace: traceroute.Options{
			MaxHops: traceroute.DefaultMaxHops,
			Timeout: traceroute.DefaultTimeout,
		},
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if err := c.Trace.Validate(); err != nil {
		return fmt.Errorf("invalid trace configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
