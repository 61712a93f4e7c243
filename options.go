// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"os"
	"strconv"
	"time"
)

// Environment variables read by Open.
// Options passed to Open take precedence over them.
// RHI_DRIVER is interpreted by driver selection itself.
const (
	EnvChunkSize   = "RHI_CHUNK_SIZE"
	EnvMaxInFlight = "RHI_MAX_IN_FLIGHT"
)

const (
	dflChunkSize    = 64 << 10
	dflWaitTimeout  = 100 * time.Millisecond
	dflWaitAttempts = 10
	dflMaxInFlight  = 0
	dflSwapImages   = 3
)

// Config is used to configure a Device.
type Config struct {
	// Name of the driver to use.
	// Matching is case-insensitive and accepts
	// substrings. An empty name selects the first
	// driver that works, preferring native APIs.
	//
	// Default is "".
	Driver string

	// The minimum size of a staging chunk.
	// Larger chunks are created when a single
	// upload needs them.
	//
	// Default is 65536 bytes (64KiB).
	ChunkSize int64

	// How long a single wait attempt may block.
	//
	// Default is 100ms.
	WaitTimeout time.Duration

	// How many times a bounded wait is attempted
	// before it gives up.
	//
	// Default is 10.
	WaitAttempts int

	// The maximum number of submissions that a
	// CommandQueue may have in flight. Submitting
	// past this limit waits for the oldest one.
	// Zero means no limit.
	//
	// Default is 0.
	MaxInFlight int

	// The number of swapchain images.
	//
	// Default is 3.
	SwapchainImages int

	// Whether debug names are kept in generated
	// SPIR-V and render passes are labeled with the
	// name of their render target.
	//
	// Default is false.
	DebugNames bool

	// Whether WGSL shaders are validated before
	// SPIR-V generation.
	//
	// Default is true.
	ValidateShaders bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       dflChunkSize,
		WaitTimeout:     dflWaitTimeout,
		WaitAttempts:    dflWaitAttempts,
		MaxInFlight:     dflMaxInFlight,
		SwapchainImages: dflSwapImages,
		ValidateShaders: true,
	}
}

// Option configures a Device during Open.
type Option func(*Config)

// WithDriver selects the driver by name.
func WithDriver(name string) Option {
	return func(c *Config) { c.Driver = name }
}

// WithChunkSize sets the minimum staging chunk size.
// Values smaller than 1 are ignored.
func WithChunkSize(n int64) Option {
	return func(c *Config) {
		if n > 0 {
			c.ChunkSize = n
		}
	}
}

// WithWaitTimeout sets the duration of a wait attempt.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.WaitTimeout = d
		}
	}
}

// WithWaitAttempts sets the number of wait attempts.
func WithWaitAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.WaitAttempts = n
		}
	}
}

// WithMaxInFlight bounds the number of in-flight
// submissions per queue.
// Values smaller than 1 are ignored.
func WithMaxInFlight(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxInFlight = n
		}
	}
}

// WithSwapchainImages sets the number of swapchain
// images.
func WithSwapchainImages(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SwapchainImages = n
		}
	}
}

// WithDebugNames enables debug labels.
func WithDebugNames(enabled bool) Option {
	return func(c *Config) { c.DebugNames = enabled }
}

// WithShaderValidation sets whether WGSL is validated.
func WithShaderValidation(enabled bool) Option {
	return func(c *Config) { c.ValidateShaders = enabled }
}

// newConfig builds the configuration used by Open:
// defaults, then environment, then opts.
func newConfig(opts []Option) Config {
	cfg := DefaultConfig()
	if n, ok := envInt(EnvChunkSize); ok {
		cfg.ChunkSize = int64(n)
	}
	if n, ok := envInt(EnvMaxInFlight); ok {
		cfg.MaxInFlight = n
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func envInt(key string) (int, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		Logger().Warn("rhi: ignoring invalid environment value", "key", key, "value", s)
		return 0, false
	}
	return n, true
}
