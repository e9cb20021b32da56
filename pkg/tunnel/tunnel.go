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

// Package tunnel implements the protocol-opaque bidirectional byte
// splice used for HTTP protocol upgrades (WebSocket and otherwise). The
// tunnel's payload is never inspected or cached.
package tunnel

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrConnectFailed means the raw dial to the backend origin failed, or
// writing the handshake to it or reading its response failed. The
// caller maps this to a 502 without retrying.
var ErrConnectFailed = errors.New("tunnel: backend connect failed")

// ErrNoHijack means the proxy listener's ResponseWriter does not expose
// the underlying connection, so a switch cannot be completed.
var ErrNoHijack = errors.New("tunnel: response writer does not support hijacking")

// Tunnel dials a single backend origin and splices upgraded connections
// to it.
type Tunnel struct {
	backend    *url.URL
	dial       func(network, addr string) (net.Conn, error)
	drainGrace time.Duration
}

// New creates a Tunnel targeting backendURL (http or https scheme).
// dialTimeout bounds the initial connect; drainGrace bounds how long
// residual data in the non-terminating direction is allowed to drain
// after the other direction closes.
func New(backendURL string, dialTimeout, drainGrace time.Duration) (*Tunnel, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("tunnel: invalid backend url: %w", err)
	}
	d := &net.Dialer{Timeout: dialTimeout}

	t := &Tunnel{backend: u, drainGrace: drainGrace}
	if u.Scheme == "https" {
		t.dial = func(network, addr string) (net.Conn, error) {
			return tls.DialWithDialer(d, network, addr, &tls.Config{ServerName: u.Hostname()})
		}
	} else {
		t.dial = d.Dial
	}
	return t, nil
}

func (t *Tunnel) backendAddr() string {
	if t.backend.Port() != "" {
		return t.backend.Host
	}
	if t.backend.Scheme == "https" {
		return net.JoinHostPort(t.backend.Hostname(), "443")
	}
	return net.JoinHostPort(t.backend.Hostname(), "80")
}

// closeWriter is implemented by *net.TCPConn and *tls.Conn; splicing
// uses it to signal EOF to the peer without tearing down the whole
// connection immediately.
type closeWriter interface {
	CloseWrite() error
}

// Serve drives one upgrade request end to end: dial, handshake relay,
// and (on 101) the bidirectional splice. It returns once the tunnel has
// fully closed or the backend declined the upgrade.
func (t *Tunnel) Serve(w http.ResponseWriter, r *http.Request, log zerolog.Logger) error {
	hij, ok := w.(http.Hijacker)
	if !ok {
		return ErrNoHijack
	}

	backendConn, err := t.dial("tcp", t.backendAddr())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	if err := writeRequest(backendConn, r, t.backend); err != nil {
		backendConn.Close()
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	backendReader := bufio.NewReader(backendConn)
	resp, err := http.ReadResponse(backendReader, r)
	if err != nil {
		backendConn.Close()
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		defer backendConn.Close()
		defer resp.Body.Close()
		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, err := io.Copy(w, resp.Body)
		return err
	}

	clientConn, clientBuf, err := hij.Hijack()
	if err != nil {
		backendConn.Close()
		return fmt.Errorf("tunnel: hijack failed: %w", err)
	}

	// The listener's read/write deadlines were set on this conn before
	// ServeHTTP ran and survive the hijack; clear them so a long-lived
	// upgrade isn't force-closed once they elapse.
	clientConn.SetDeadline(time.Time{})

	if err := writeStatusLine(clientConn, resp); err != nil {
		clientConn.Close()
		backendConn.Close()
		return err
	}

	t.splice(clientConn, clientBuf, backendConn, backendReader, log)
	return nil
}

// splice runs the bidirectional copy until either direction terminates,
// then allows the opposite direction a short grace period to drain
// before both sides are closed.
func (t *Tunnel) splice(client net.Conn, clientBuf *bufio.ReadWriter, backend net.Conn, backendReader *bufio.Reader, log zerolog.Logger) {
	done := make(chan struct{}, 2)

	copyDirection := func(dst net.Conn, src io.Reader, label string) {
		n, err := io.Copy(dst, src)
		if err != nil && !isClosedErr(err) {
			log.Debug().Err(err).Str("direction", label).Int64("bytes", n).Msg("tunnel direction ended with error")
		}
		if cw, ok := dst.(closeWriter); ok {
			cw.CloseWrite()
		}
		done <- struct{}{}
	}

	go copyDirection(backend, clientBuf, "client->backend")
	go copyDirection(client, backendReader, "backend->client")

	<-done
	select {
	case <-done:
	case <-time.After(t.drainGrace):
	}

	client.Close()
	backend.Close()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

// writeRequest serializes the original request line and headers
// (including Connection and Upgrade) onto conn, preserving the original
// method and path against the backend's own path prefix.
func writeRequest(conn net.Conn, r *http.Request, backend *url.URL) error {
	path := singleJoiningSlash(backend.Path, r.URL.Path)
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", r.Method, path)
	fmt.Fprintf(&b, "Host: %s\r\n", backend.Host)
	for k, vs := range r.Header {
		for _, v := range vs {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	_, err := conn.Write([]byte(b.String()))
	return err
}

// writeStatusLine writes resp's status line and headers verbatim to
// conn; used only for the 101 Switching Protocols path, since the
// standard http.ResponseWriter has already been bypassed by hijacking.
func writeStatusLine(conn net.Conn, resp *http.Response) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	for k, vs := range resp.Header {
		for _, v := range vs {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	_, err := conn.Write([]byte(b.String()))
	return err
}

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
