// Copyright 2016 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import "time"

// Config collects the recognized runtime options, with their documented
// defaults. Zero-value Config is invalid; use DefaultConfig() or
// NewConfig(opts...) to build one.
type Config struct {
	MaxConcurrentRequests         int
	MaxBufferCapacityPerSub       int
	RequestTimeout                time.Duration
	PingInterval                  time.Duration // 0 disables
	IDFormat                      IDFormat
	MaxRequestBodySize            int
	MaxResponseBodySize           int
	MaxConnections                int
	MaxSubscriptionsPerConnection int
	BatchRequestsSupported        bool
}

// DefaultConfig returns the §6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentRequests:         256,
		MaxBufferCapacityPerSub:       1024,
		RequestTimeout:                60 * time.Second,
		PingInterval:                  0,
		IDFormat:                      IDFormatNumber,
		MaxRequestBodySize:            10 << 20,
		MaxResponseBodySize:           10 << 20,
		MaxConnections:                100,
		MaxSubscriptionsPerConnection: 1024,
		BatchRequestsSupported:        true,
	}
}

// Option mutates a Config. Functional options take small orthogonal knobs
// rather than one large struct literal at every call site.
type Option func(*Config)

// NewConfig builds a Config from DefaultConfig with the given overrides applied.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithMaxConcurrentRequests(n int) Option {
	return func(c *Config) { c.MaxConcurrentRequests = n }
}

func WithMaxBufferCapacityPerSubscription(n int) Option {
	return func(c *Config) { c.MaxBufferCapacityPerSub = n }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Config) { c.PingInterval = d }
}

func WithIDFormat(f IDFormat) Option {
	return func(c *Config) { c.IDFormat = f }
}

func WithMaxRequestBodySize(n int) Option {
	return func(c *Config) { c.MaxRequestBodySize = n }
}

func WithMaxResponseBodySize(n int) Option {
	return func(c *Config) { c.MaxResponseBodySize = n }
}

func WithMaxConnections(n int) Option {
	return func(c *Config) { c.MaxConnections = n }
}

func WithMaxSubscriptionsPerConnection(n int) Option {
	return func(c *Config) { c.MaxSubscriptionsPerConnection = n }
}

func WithBatchRequestsSupported(v bool) Option {
	return func(c *Config) { c.BatchRequestsSupported = v }
}
