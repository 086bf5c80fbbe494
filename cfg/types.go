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
	"slices"
	"strings"
)

// LogSeverity is the datatype for the logging severity threshold.
type LogSeverity string

const (
	TRACE   LogSeverity = "TRACE"
	DEBUG   LogSeverity = "DEBUG"
	INFO    LogSeverity = "INFO"
	WARNING LogSeverity = "WARNING"
	ERROR   LogSeverity = "ERROR"
	OFF     LogSeverity = "OFF"
)

var severities = []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"}

func (s *LogSeverity) UnmarshalText(text []byte) error {
	level := strings.ToUpper(string(text))
	if !slices.Contains(severities, level) {
		return fmt.Errorf("invalid logseverity: %s. It can only accept values in the list: %v", string(text), severities)
	}
	*s = LogSeverity(level)
	return nil
}

func (s LogSeverity) validate() error {
	if !slices.Contains(severities, string(s)) {
		return fmt.Errorf("invalid logseverity: %s", string(s))
	}
	return nil
}

// LogFormat selects the encoding of log records: text or json.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

var formats = []string{"text", "json"}

func (f *LogFormat) UnmarshalText(text []byte) error {
	format := strings.ToLower(string(text))
	if !slices.Contains(formats, format) {
		return fmt.Errorf("invalid log format: %s. It can only accept values in the list: %v", string(text), formats)
	}
	*f = LogFormat(format)
	return nil
}

func (f LogFormat) validate() error {
	if !slices.Contains(formats, string(f)) {
		return fmt.Errorf("invalid log format: %s", string(f))
	}
	return nil
}
