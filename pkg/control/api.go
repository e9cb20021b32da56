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

// Package control implements the privileged control listener: cache
// invalidation, key introspection, version and metrics endpoints, kept
// separate from the request-plane proxy listener.
package control

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kacheio/prerender/pkg/cache"
	"github.com/kacheio/prerender/pkg/refresh"
	"github.com/kacheio/prerender/pkg/utils/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheKeeper is the subset of *cache.Cache the control API reads.
type CacheKeeper interface {
	Keys() []cache.Key
}

// API is the control listener's root handler.
type API struct {
	router *mux.Router

	trigger   *refresh.Trigger
	cacheKeys CacheKeeper
	authToken string
	ipFilter  *IPFilter
	debug     bool
}

// Option configures an API under construction.
type Option func(*API)

// WithAuthToken requires a matching "Authorization: Bearer <token>" on
// the invalidation endpoint. Absent, the endpoint is unauthenticated.
func WithAuthToken(token string) Option {
	return func(a *API) { a.authToken = token }
}

// WithIPFilter wraps every route with an IP allowlist.
func WithIPFilter(f *IPFilter) Option {
	return func(a *API) { a.ipFilter = f }
}

// WithDebug mounts expvar and pprof routes under /debug. Off by default;
// these leak process internals and should stay behind the same
// allowlist as the rest of the control listener.
func WithDebug(enabled bool) Option {
	return func(a *API) { a.debug = enabled }
}

// New builds the control API bound to trig and the given cache key
// source.
func New(trig *refresh.Trigger, keys CacheKeeper, opts ...Option) *API {
	a := &API{
		router:    mux.NewRouter(),
		trigger:   trig,
		cacheKeys: keys,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.createRoutes()
	if a.debug {
		a.mountDebugRoutes()
	}
	return a
}

func (a *API) wrap(h http.HandlerFunc) http.HandlerFunc {
	if a.ipFilter == nil {
		return h
	}
	return a.ipFilter.Wrap(h)
}

func (a *API) createRoutes() {
	a.router.HandleFunc("/refresh-cache", a.wrap(a.refreshCacheHandler)).Methods(http.MethodPost)
	a.router.HandleFunc("/api/cache/keys", a.wrap(a.cacheKeysHandler)).Methods(http.MethodGet)
	a.router.HandleFunc("/api/version", a.wrap(version.Handler)).Methods(http.MethodGet)
	a.router.Handle("/metrics", a.wrap(promhttp.Handler().ServeHTTP)).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// refreshCacheHandler clears the whole cache, or just the entries
// matching a "pattern" query parameter, and publishes the corresponding
// command on the refresh bus.
func (a *API) refreshCacheHandler(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		http.Error(w, errMsgUnauthorized, http.StatusUnauthorized)
		return
	}
	if pattern := r.URL.Query().Get("pattern"); pattern != "" {
		a.trigger.TriggerByKeyMatch(pattern)
	} else {
		a.trigger.Trigger()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) authorized(r *http.Request) bool {
	if a.authToken == "" {
		return true
	}
	want := "Bearer " + a.authToken
	got := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// cacheKeysHandler renders all live cache keys in JSON format.
func (a *API) cacheKeysHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.cacheKeys.Keys()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
