// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"fmt"
	"net"
)

// Config holds the configuration for metrics and OpenTelemetry.
type Config struct {
	// Enabled is a flag to enable or disable the metrics endpoint.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Address is the listen address of the metrics endpoint.
	Address string `yaml:"address" mapstructure:"address"`
	// Tracing is the configuration for span export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// TracingConfig holds the configuration for OpenTelemetry span export.
type TracingConfig struct {
	// Enabled is a flag to enable or disable span export. Spans are written
	// to the error stream; the output stream is reserved for trace results.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("invalid metrics address %q: %w", c.Address, err)
	}
	return nil
}
