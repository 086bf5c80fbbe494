// Copyright 2025 Google LLC
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

package cfg

import (
	"fmt"
	"time"
)

// Config is the root configuration of the fiber runtime.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	Debug DebugConfig `yaml:"debug"`

	Runtime RuntimeConfig `yaml:"runtime"`
}

type LoggingConfig struct {
	// FilePath is the file logs are written to. Empty means stderr.
	FilePath string `yaml:"file-path"`

	Severity LogSeverity `yaml:"severity"`

	Format LogFormat `yaml:"format"`

	// AsyncBufferSize is the number of log records buffered in front of the
	// file sink before writes start being dropped.
	AsyncBufferSize int `yaml:"async-buffer-size"`
}

type DebugConfig struct {
	// CheckInvariants enables internal invariant checking on every lock
	// acquisition and release.
	CheckInvariants bool `yaml:"check-invariants"`
}

type RuntimeConfig struct {
	// TimerSlack is the amount by which a deadline timer may fire late
	// without being considered misbehaving. Informational; the scheduler
	// never fires early.
	TimerSlack time.Duration `yaml:"timer-slack"`
}

func NewConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Severity:        INFO,
			Format:          FormatText,
			AsyncBufferSize: 1000,
		},
		Runtime: RuntimeConfig{
			TimerSlack: time.Millisecond,
		},
	}
}

// Validate returns an error describing the first invalid field, if any.
func (c *Config) Validate() error {
	if err := c.Logging.Severity.validate(); err != nil {
		return err
	}
	if err := c.Logging.Format.validate(); err != nil {
		return err
	}
	if c.Logging.AsyncBufferSize < 0 {
		return fmt.Errorf("async-buffer-size must be non-negative, got %d", c.Logging.AsyncBufferSize)
	}
	if c.Runtime.TimerSlack < 0 {
		return fmt.Errorf("timer-slack must be non-negative, got %v", c.Runtime.TimerSlack)
	}
	return nil
}
