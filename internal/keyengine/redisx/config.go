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

// Package redisx provides the go-redis-backed LockManager and SharedCache
// implementations of the key lifecycle engine's process-external
// coordination layer.
package redisx

import (
	"crypto/tls"
	"time"
)

const (
	defaultKeyPrefix  = "keyengine:"
	defaultMaxRetries = 3
)

// Config holds connection settings for the Redis-backed LockManager and
// SharedCache.
type Config struct {
	// Addrs lists Redis server addresses. A single address creates a
	// standalone client; multiple addresses create a cluster client.
	Addrs []string
	// Password is used for Redis AUTH.
	Password string
	// DB selects the database number. Ignored in cluster mode.
	DB int
	// KeyPrefix is prepended to every key written. Default: "keyengine:".
	KeyPrefix string
	// PoolSize overrides the go-redis default connection pool size. Zero
	// uses the library default.
	PoolSize int
	// MaxRetries is the maximum number of command retries. Default: 3.
	MaxRetries int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          *tls.Config
}

// DefaultConfig returns a Config with sensible defaults. Callers must still
// set at least one address in Addrs.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  defaultKeyPrefix,
		MaxRetries: defaultMaxRetries,
	}
}
