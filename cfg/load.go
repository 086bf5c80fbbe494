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

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads a YAML config file, layering it over the defaults from
// NewConfig, and validates the result.
func Load(path string) (Config, error) {
	c := NewConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return c, fmt.Errorf("ReadInConfig: %w", err)
	}

	err := v.Unmarshal(
		&c,
		viper.DecodeHook(DecodeHook()),
		func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" },
	)
	if err != nil {
		return c, fmt.Errorf("Unmarshal: %w", err)
	}

	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("Validate: %w", err)
	}
	return c, nil
}
