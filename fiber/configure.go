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

package fiber

import (
	"fmt"

	"github.com/jacobsa/syncutil"
	"github.com/vinipsmaker/iofiber/cfg"
	"github.com/vinipsmaker/iofiber/internal/logger"
)

// Configure applies a runtime config: logging sink/severity/format, and
// debug invariant checking. Call once, before spawning fibers.
func Configure(c *cfg.Config) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("Validate: %w", err)
	}
	if err := logger.Setup(c.Logging); err != nil {
		return fmt.Errorf("logger.Setup: %w", err)
	}
	if c.Debug.CheckInvariants {
		syncutil.EnableInvariantChecking()
	}
	return nil
}
