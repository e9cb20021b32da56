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
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kacheio/prerender/pkg/cache"
	"github.com/kacheio/prerender/pkg/forwarder"
	"github.com/kacheio/prerender/pkg/refresh"
	"github.com/kacheio/prerender/pkg/tunnel"
)

// HeaderXCache is the optional debug header reporting cache status. It
// is never required reading; nothing downstream depends on it.
const HeaderXCache = "X-Cache"

const (
	xCacheHit  = "HIT"
	xCacheMiss = "MISS"
)

// Handler is the request-plane entry point: classifier, cache, forwarder
// and tunnel composed into one http.Handler.
type Handler struct {
	cfg       Config
	cache     *cache.Cache
	forwarder *forwarder.Forwarder
	tunnel    *tunnel.Tunnel
	trigger   *refresh.Trigger
	metrics   *metrics

	// XCacheHeader, when true, annotates every forwarded response with
	// HeaderXCache; uncached forwards report MISS. Off by default; purely
	// observability.
	XCacheHeader bool
}

// New builds a request handler and a fresh refresh trigger for it.
func New(cfg Config) (http.Handler, *refresh.Trigger, error) {
	trig := refresh.NewTrigger()
	h, err := newHandler(cfg, trig)
	if err != nil {
		return nil, nil, err
	}
	return h, trig, nil
}

// NewWithTrigger builds a request handler sharing an externally supplied
// trigger, so one invalidation call can reach multiple proxies.
func NewWithTrigger(cfg Config, trig *refresh.Trigger) (http.Handler, error) {
	return newHandler(cfg, trig)
}

func newHandler(cfg Config, trig *refresh.Trigger) (*Handler, error) {
	fwd, err := forwarder.New(cfg.BackendURL, cfg.ConnectTimeout, cfg.ReadTimeout, cfg.MaxResponseBytes)
	if err != nil {
		return nil, err
	}
	tun, err := tunnel.New(cfg.BackendURL, cfg.ConnectTimeout, 2*time.Second)
	if err != nil {
		return nil, err
	}
	m := newMetrics(cfg.Registerer)
	c := cache.New(trig)
	c.SetCommandObserver(m.observeRefreshCommand)

	return &Handler{
		cfg:       cfg,
		cache:     c,
		forwarder: fwd,
		tunnel:    tun,
		trigger:   trig,
		metrics:   m,
	}, nil
}

// Trigger returns the refresh trigger this handler's cache subscribes
// to.
func (h *Handler) Trigger() *refresh.Trigger {
	return h.trigger
}

// Cache exposes the handler's response cache for introspection by the
// control listener.
func (h *Handler) Cache() *cache.Cache {
	return h.cache
}

// Close releases the handler's background resources (the cache's
// refresh-bus subscription goroutine).
func (h *Handler) Close() {
	h.cache.Close()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.cfg.Logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered panic in request handler")
			w.WriteHeader(http.StatusBadGateway)
		}
	}()

	info := newRequestInfo(r)
	disposition := Classify(info, h.cfg.Rules(), h.cfg.WebsocketEnabled, h.cfg.ForwardGetOnly)

	switch disposition.Kind {
	case Reject:
		w.WriteHeader(disposition.Code)
	case Upgrade:
		h.serveUpgrade(w, r)
	case Forward:
		if disposition.Cacheable {
			h.serveCacheable(w, r, info)
		} else {
			h.serveUncached(w, r)
		}
	}
}

func (h *Handler) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	err := h.tunnel.Serve(w, r, h.cfg.Logger)
	if err == nil {
		return
	}
	h.cfg.Logger.Warn().Err(err).Str("path", r.URL.Path).Msg("upgrade tunnel failed")
	if errors.Is(err, tunnel.ErrConnectFailed) || errors.Is(err, tunnel.ErrNoHijack) {
		w.WriteHeader(http.StatusBadGateway)
	}
	// Any other failure happened after the client connection was
	// hijacked; there is no ResponseWriter left to answer on.
}

func (h *Handler) serveUncached(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.fill(r)
	if err != nil {
		h.cfg.Logger.Warn().Err(err).Str("path", r.URL.Path).Msg("backend request failed")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
		return
	}
	if h.XCacheHeader {
		w.Header().Set(HeaderXCache, xCacheMiss)
	}
	artifact.WriteTo(w)
}

func (h *Handler) serveCacheable(w http.ResponseWriter, r *http.Request, info RequestInfo) {
	key := h.safeKey(info)
	if key == nil {
		// Key-function-fault: log and bypass the cache entirely.
		h.serveUncached(w, r)
		return
	}

	artifact, hit, err := h.cache.GetOrFill(r.Context(), *key, func(ctx context.Context, k cache.Key) (*cache.Artifact, error) {
		return h.fill(r)
	})
	if err != nil {
		h.cfg.Logger.Warn().Err(err).Str("key", string(*key)).Msg("cache fill failed")
		h.metrics.observeCacheResult("error")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
		return
	}

	if hit {
		h.metrics.observeCacheResult("hit")
	} else {
		h.metrics.observeCacheResult("miss")
	}
	if h.XCacheHeader {
		if hit {
			w.Header().Set(HeaderXCache, xCacheHit)
		} else {
			w.Header().Set(HeaderXCache, xCacheMiss)
		}
	}
	artifact.WriteTo(w)
}

// safeKey calls the configured KeyFunc, recovering from a panic per the
// key-function-fault disposition: log and return nil so the caller
// bypasses the cache for this request.
func (h *Handler) safeKey(info RequestInfo) (key *cache.Key) {
	defer func() {
		if rec := recover(); rec != nil {
			h.cfg.Logger.Error().Interface("panic", rec).Msg("key function panicked, bypassing cache")
			key = nil
		}
	}()
	k := h.cfg.KeyFunc(info)
	return &k
}

func (h *Handler) fill(r *http.Request) (*cache.Artifact, error) {
	h.metrics.fillStarted()
	start := time.Now()
	defer func() { h.metrics.fillFinished(time.Since(start).Seconds()) }()

	return h.forwarder.Forward(r.Context(), r.Method, r.URL.Path, r.URL.RawQuery, r.Header, r.Body)
}
