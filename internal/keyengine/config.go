/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package keyengine

import (
	"fmt"
	"sync"
	"time"
)

// Environment variable names recognized by the composition root (spec §6).
const (
	EnvRedisHost        = "REDIS_HOST"
	EnvRedisPort        = "REDIS_PORT"
	EnvRedisPassword    = "REDIS_PASSWORD"
	EnvPolicyStoreDSN   = "MONGO_DB_URI" // name carried forward from spec §6; holds a Postgres DSN, see DESIGN.md
	EnvPort             = "PORT"
	EnvKeyStoreBaseDir  = "KEYENGINE_KEYSTORE_DIR"
	EnvMetaStoreBaseDir = "KEYENGINE_METADATA_DIR"
)

// Fixed policy constants (spec §4.7, §6).
const (
	PublicTTLMs = 2_592_000_000 // 30 days
	GraceMs     = 172_800_000   // 2 days

	minRetryIntervalMs = 60_000
	maxRetryIntervalMs = 3_600_000
	defaultRetryMs     = 300_000

	minMaxRetries     = 1
	maxMaxRetriesBound = 10
	defaultMaxRetries = 3

	// MaxPayloadBytes bounds sign() request payload size (spec §8 boundary
	// behaviors: a payload of exactly this size signs, one byte larger
	// fails).
	MaxPayloadBytes = 16 * 1024
)

// PublicTTL and Grace expose the millisecond constants as time.Duration for
// callers that compute archive expiry and token exp bounds.
const (
	PublicTTL = time.Duration(PublicTTLMs) * time.Millisecond
	Grace     = time.Duration(GraceMs) * time.Millisecond
)

// SchedulerConfig holds the RotationScheduler's bounded, mutable knobs
// (spec §4.7's "Config contract"). Bounds are enforced at set time, never
// at read time, mirroring configure({retryIntervalMs?, maxRetries?}).
type SchedulerConfig struct {
	mu              sync.RWMutex
	retryIntervalMs int
	maxRetries      int
}

// NewSchedulerConfig returns a SchedulerConfig initialized to the documented
// defaults (retryIntervalMs=300_000, maxRetries=3).
func NewSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		retryIntervalMs: defaultRetryMs,
		maxRetries:      defaultMaxRetries,
	}
}

// RetryIntervalMs returns the current retry interval in milliseconds.
func (c *SchedulerConfig) RetryIntervalMs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retryIntervalMs
}

// MaxRetries returns the current max-retries bound.
func (c *SchedulerConfig) MaxRetries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxRetries
}

// SetRetryIntervalMS sets the retry interval. Valid range is
// [60_000, 3_600_000]ms; out-of-range values return ErrOutOfRange and leave
// the current value unchanged.
func (c *SchedulerConfig) SetRetryIntervalMS(ms int) error {
	if ms < minRetryIntervalMs || ms > maxRetryIntervalMs {
		return fmt.Errorf("%w: retryIntervalMs %d outside [%d, %d]", ErrOutOfRange, ms, minRetryIntervalMs, maxRetryIntervalMs)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryIntervalMs = ms
	return nil
}

// SetMaxRetries sets the max-retries bound. Valid range is [1, 10];
// out-of-range values return ErrOutOfRange and leave the current value
// unchanged.
func (c *SchedulerConfig) SetMaxRetries(n int) error {
	if n < minMaxRetries || n > maxMaxRetriesBound {
		return fmt.Errorf("%w: maxRetries %d outside [%d, %d]", ErrOutOfRange, n, minMaxRetries, maxMaxRetriesBound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxRetries = n
	return nil
}

// Configure applies both knobs in one call, matching the configure(...)
// administrative entry point (spec §6). Either pointer may be nil to leave
// that knob untouched. On the first error, no further field is applied.
func (c *SchedulerConfig) Configure(retryIntervalMs, maxRetries *int) error {
	if retryIntervalMs != nil {
		if err := c.SetRetryIntervalMS(*retryIntervalMs); err != nil {
			return err
		}
	}
	if maxRetries != nil {
		if err := c.SetMaxRetries(*maxRetries); err != nil {
			return err
		}
	}
	return nil
}
