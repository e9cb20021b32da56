// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package proxy

import (
	"time"

	"github.com/kacheio/prerender/pkg/filter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

const (
	// DefaultConnectTimeout bounds dialing the backend. Not normative,
	// must only be finite.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultReadTimeout bounds a whole backend exchange, from dialing
	// through reading the response body.
	DefaultReadTimeout = 30 * time.Second
	// DefaultMaxResponseBytes bounds how large a backend response body
	// the forwarder will materialize before failing with an error.
	DefaultMaxResponseBytes = 16 << 20 // 16 MiB

	// DefaultProxyListenAddr is where the proxy listener binds absent an
	// explicit override.
	DefaultProxyListenAddr = ":3000"
	// DefaultControlListenAddr is where the control listener binds absent
	// an explicit override.
	DefaultControlListenAddr = ":17809"
)

// Config holds the creation-time settings for a proxy. Build one with
// NewConfig and the With* options; a Config is immutable once built and
// may be shared freely.
type Config struct {
	BackendURL string

	IncludePaths []string
	ExcludePaths []string

	WebsocketEnabled bool
	ForwardGetOnly   bool

	KeyFunc KeyFunc

	ControlAuth string

	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	MaxResponseBytes int64

	ProxyListenAddr   string
	ControlListenAddr string

	Registerer prometheus.Registerer
	Logger     zerolog.Logger

	rules filter.Rules
}

// Option configures a Config under construction.
type Option func(*Config)

// WithIncludePaths sets the cache-include wildcard patterns. When empty,
// every path is a candidate for caching (subject to excludes).
func WithIncludePaths(patterns ...string) Option {
	return func(c *Config) { c.IncludePaths = patterns }
}

// WithExcludePaths sets the cache-exclude wildcard patterns.
func WithExcludePaths(patterns ...string) Option {
	return func(c *Config) { c.ExcludePaths = patterns }
}

// WithWebsocketEnabled toggles whether upgrade requests tunnel (true) or
// are rejected with 501 (false). Default true.
func WithWebsocketEnabled(enabled bool) Option {
	return func(c *Config) { c.WebsocketEnabled = enabled }
}

// WithForwardGetOnly toggles whether non-GET requests are rejected with
// 405. Default false.
func WithForwardGetOnly(getOnly bool) Option {
	return func(c *Config) { c.ForwardGetOnly = getOnly }
}

// WithKeyFunc overrides the default cache key function.
func WithKeyFunc(fn KeyFunc) Option {
	return func(c *Config) { c.KeyFunc = fn }
}

// WithControlAuth requires a matching "Authorization: Bearer <token>" on
// the control listener's invalidation endpoint.
func WithControlAuth(token string) Option {
	return func(c *Config) { c.ControlAuth = token }
}

// WithBackendTimeouts overrides the backend connect and read timeouts.
func WithBackendTimeouts(connect, read time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = connect
		c.ReadTimeout = read
	}
}

// WithMaxResponseBytes overrides the maximum backend response body size
// the forwarder will materialize.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Config) { c.MaxResponseBytes = n }
}

// WithProxyListenAddr overrides the proxy listener's bind address.
func WithProxyListenAddr(addr string) Option {
	return func(c *Config) { c.ProxyListenAddr = addr }
}

// WithControlListenAddr overrides the control listener's bind address.
func WithControlListenAddr(addr string) Option {
	return func(c *Config) { c.ControlListenAddr = addr }
}

// WithRegisterer enables Prometheus metrics, registered against reg. If
// never called, the proxy runs without metrics collection.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) { c.Registerer = reg }
}

// WithLogger overrides the proxy's logger. If never called, the proxy
// logs through zerolog's global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// NewConfig builds a Config for backendURL, applying opts over the
// documented defaults.
func NewConfig(backendURL string, opts ...Option) Config {
	c := Config{
		BackendURL:        backendURL,
		WebsocketEnabled:  true,
		ForwardGetOnly:    false,
		KeyFunc:           DefaultKeyFunc,
		ConnectTimeout:    DefaultConnectTimeout,
		ReadTimeout:       DefaultReadTimeout,
		MaxResponseBytes:  DefaultMaxResponseBytes,
		ProxyListenAddr:   DefaultProxyListenAddr,
		ControlListenAddr: DefaultControlListenAddr,
		Logger:            zlog.Logger,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.KeyFunc == nil {
		c.KeyFunc = DefaultKeyFunc
	}
	c.rules = filter.Compile(c.IncludePaths, c.ExcludePaths)
	return c
}

// Rules returns the compiled include/exclude rule set.
func (c Config) Rules() filter.Rules {
	return c.rules
}
