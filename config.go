// Copyright 2025 The Flower Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flower

import (
	"encoding/json"
	"os"
)

// Config is the runtime's startup configuration. It is read once; the
// runtime never reloads or persists it.
type Config struct {
	Log       *LogConfig       `json:"log,omitempty"`
	DNS       *DNSConfig       `json:"dns,omitempty"`
	Inbounds  []InboundConfig  `json:"inbounds,omitempty"`
	Outbounds []OutboundConfig `json:"outbounds,omitempty"`
}

// LogConfig selects the logging level.
type LogConfig struct {
	Level string `json:"level,omitempty"`
}

// DNSConfig configures the name-resolution collaborator.
type DNSConfig struct {
	Servers []string            `json:"servers,omitempty"`
	Hosts   map[string][]string `json:"hosts,omitempty"`
}

// InboundConfig declares one inbound listener. Settings is the raw
// protocol-specific configuration; its shape belongs to the module
// that registered the protocol.
type InboundConfig struct {
	Protocol string `json:"protocol"`
	Tag      string `json:"tag,omitempty"`

	// Listen is the local address to bind, "host:port".
	Listen string `json:"listen,omitempty"`

	// Destination optionally fixes where accepted flows are forwarded
	// ("host:port"), for inbounds that do not carry one themselves.
	Destination string `json:"destination,omitempty"`

	// Outbound names the outbound tag flows from this listener are
	// dispatched to. Empty selects the first outbound in table order.
	Outbound string `json:"outbound,omitempty"`

	Settings json.RawMessage `json:"settings,omitempty"`
}

// OutboundConfig declares one entry of the ordered outbound table.
type OutboundConfig struct {
	Protocol string          `json:"protocol"`
	Tag      string          `json:"tag,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// LoadConfig reads and parses the JSON config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Err(ErrorIO, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a JSON config document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, Errf(ErrorInvalidInput, "parsing config: %w", err)
	}
	for i, in := range cfg.Inbounds {
		if in.Protocol == "" {
			return nil, Errf(ErrorInvalidInput, "inbound %d has no protocol", i)
		}
		if in.Listen == "" {
			return nil, Errf(ErrorInvalidInput, "inbound %d has no listen address", i)
		}
	}
	for i, ob := range cfg.Outbounds {
		if ob.Protocol == "" {
			return nil, Errf(ErrorInvalidInput, "outbound %d has no protocol", i)
		}
	}
	return &cfg, nil
}
