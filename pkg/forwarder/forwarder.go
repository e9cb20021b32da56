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

// Package forwarder issues the backend request for a cache fill and
// materializes the response into a cache.Artifact.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kacheio/prerender/pkg/cache"
	"github.com/kacheio/prerender/pkg/header"
)

// Sentinel errors identifying the backend failure kinds spec'd in the
// error handling table. All of them map to 502 at the proxy handler, but
// are kept distinguishable here for logging.
var (
	ErrConnectFailed  = errors.New("forwarder: backend connect failed")
	ErrPrematureClose = errors.New("forwarder: backend closed connection prematurely")
	ErrTimeout        = errors.New("forwarder: backend request timed out")
	ErrBodyTooLarge   = errors.New("forwarder: backend response body exceeds maximum size")
)

// Forwarder issues requests against a single backend origin over a
// pooled, keep-alive http.Client, the same connection-pool shape as the
// teacher's cached transport: bounded idle connections, a short
// handshake timeout, and a finite connect/read budget instead of no
// timeout at all.
type Forwarder struct {
	backend      *url.URL
	client       *http.Client
	maxBodyBytes int64
}

// New creates a Forwarder targeting backendURL. connectTimeout bounds
// dialing and the TLS handshake; readTimeout bounds the whole exchange,
// dialing and reading the body included. maxBodyBytes bounds how much of a
// response body will be materialized before ErrBodyTooLarge is
// returned.
func New(backendURL string, connectTimeout, readTimeout time.Duration, maxBodyBytes int64) (*Forwarder, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("forwarder: invalid backend url: %w", err)
	}

	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Forwarder{
		backend: u,
		client: &http.Client{
			Transport: transport,
			Timeout:   readTimeout,
			// 3xx is cached as-is; the forwarder never follows
			// redirects on the caller's behalf.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodyBytes: maxBodyBytes,
	}, nil
}

// Forward constructs a backend request from method/path/query/header/body,
// issues it, and materializes the response into a cache.Artifact.
func (f *Forwarder) Forward(ctx context.Context, method, path, query string, h http.Header, body io.ReadCloser) (*cache.Artifact, error) {
	target := *f.backend
	target.Path = singleJoiningSlash(f.backend.Path, path)
	target.RawQuery = query

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	req.Header = header.StripHopByHop(h)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, f.maxBodyBytes+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrematureClose, err)
	}
	if int64(len(buf)) > f.maxBodyBytes {
		return nil, ErrBodyTooLarge
	}

	respHeader := header.StripHopByHop(resp.Header)
	return cache.NewArtifact(resp.StatusCode, respHeader, buf), nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrPrematureClose, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectFailed, err)
}

// singleJoiningSlash joins a backend path prefix and a request path
// without producing a doubled or missing slash between them.
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	default:
		return a + b
	}
}
