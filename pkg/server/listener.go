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

// Package server wires an http.Handler to a TCP listener with graceful
// shutdown, shared by the proxy and control listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultWriteTimeout bounds writing a single response. A hijacked
	// upgrade connection has this deadline cleared by pkg/tunnel, so it
	// does not cap tunnel lifetime.
	DefaultWriteTimeout = 30 * time.Second
	// DefaultReadTimeout bounds reading a single request.
	DefaultReadTimeout = 30 * time.Second
	// DefaultIdleTimeout bounds a keep-alive connection's idle time.
	DefaultIdleTimeout = 120 * time.Second
	// DefaultShutdownTimeout bounds how long Shutdown waits for
	// in-flight requests to finish before forcing connections closed.
	DefaultShutdownTimeout = 5 * time.Second
)

// Listener binds an http.Handler to a TCP address.
type Listener struct {
	name       string
	listener   net.Listener
	httpServer *http.Server
	log        zerolog.Logger
}

// Options configures timeouts for a Listener. The zero value selects
// the package defaults.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	return o
}

// New binds addr and wraps handler in an *http.Server, but does not yet
// accept connections; call Start for that.
func New(name, addr string, handler http.Handler, opts Options, log zerolog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("building %s listener: %w", name, err)
	}
	opts = opts.withDefaults()

	return &Listener{
		name:     name,
		listener: ln,
		httpServer: &http.Server{
			Handler:      handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		log: log.With().Str("listener", name).Logger(),
	}, nil
}

// Addr returns the bound network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Start serves connections until Shutdown is called or the server
// fails. Run it in its own goroutine.
func (l *Listener) Start() {
	l.log.Info().Str("addr", l.listener.Addr().String()).Msg("listener starting")
	if err := l.httpServer.Serve(l.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.log.Error().Err(err).Msg("listener stopped unexpectedly")
	}
}

// Shutdown gracefully drains in-flight requests, forcing connections
// closed after timeout elapses.
func (l *Listener) Shutdown(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.httpServer.Shutdown(ctx); err != nil {
		l.log.Warn().Err(err).Msg("graceful shutdown timed out, forcing close")
		return l.httpServer.Close()
	}
	return nil
}
