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
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend counts hits per path and optionally delays before
// responding, mirroring coalesce_test.go's counting-handler-plus-delay
// shape used to force concurrent requests to overlap.
type countingBackend struct {
	mu    sync.Mutex
	hits  map[string]int
	delay time.Duration
}

func newCountingBackend() *countingBackend {
	return &countingBackend{hits: make(map[string]int)}
}

func (b *countingBackend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func (b *countingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits[r.URL.Path]++
	b.mu.Unlock()
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("body:" + r.URL.Path))
}

func TestHandler_CacheHit(t *testing.T) {
	backend := newCountingBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := NewConfig(srv.URL)
	h, _, err := New(cfg)
	require.NoError(t, err)

	proxy := httptest.NewServer(h)
	defer proxy.Close()

	resp1, err := http.Get(proxy.URL + "/x")
	require.NoError(t, err)
	body1 := readAll(t, resp1)

	resp2, err := http.Get(proxy.URL + "/x")
	require.NoError(t, err)
	body2 := readAll(t, resp2)

	assert.Equal(t, 1, backend.count("/x"))
	assert.Equal(t, body1, body2)
}

func TestHandler_SingleFlight(t *testing.T) {
	backend := newCountingBackend()
	backend.delay = 500 * time.Millisecond
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := NewConfig(srv.URL)
	h, _, err := New(cfg)
	require.NoError(t, err)

	proxy := httptest.NewServer(h)
	defer proxy.Close()

	const n = 10
	bodies := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			resp, err := http.Get(proxy.URL + "/slow")
			require.NoError(t, err)
			bodies[i] = readAll(t, resp)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, backend.count("/slow"))
	for _, b := range bodies {
		assert.Equal(t, bodies[0], b)
	}
}

func TestHandler_ExcludeOverride(t *testing.T) {
	backend := newCountingBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := NewConfig(srv.URL,
		WithIncludePaths("/api/*"),
		WithExcludePaths("/api/admin/*"),
	)
	h, _, err := New(cfg)
	require.NoError(t, err)

	proxy := httptest.NewServer(h)
	defer proxy.Close()

	_, err = http.Get(proxy.URL + "/api/users")
	require.NoError(t, err)
	_, err = http.Get(proxy.URL + "/api/users")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.count("/api/users"), "included path should be cached")

	_, err = http.Get(proxy.URL + "/api/admin/users")
	require.NoError(t, err)
	_, err = http.Get(proxy.URL + "/api/admin/users")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.count("/api/admin/users"), "excluded path must hit the backend every time")
}

func TestHandler_MethodFilter(t *testing.T) {
	backend := newCountingBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := NewConfig(srv.URL, WithExcludePaths("POST *"))
	h, _, err := New(cfg)
	require.NoError(t, err)

	proxy := httptest.NewServer(h)
	defer proxy.Close()

	_, err = http.Post(proxy.URL+"/anything", "text/plain", nil)
	require.NoError(t, err)
	_, err = http.Post(proxy.URL+"/anything", "text/plain", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.count("/anything"), "POST must never be cached")

	_, err = http.Get(proxy.URL + "/anything")
	require.NoError(t, err)
	_, err = http.Get(proxy.URL + "/anything")
	require.NoError(t, err)
	assert.Equal(t, 3, backend.count("/anything"), "GET caches: only one more hit after the two POSTs")
}

func TestHandler_PatternInvalidation(t *testing.T) {
	backend := newCountingBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := NewConfig(srv.URL)
	h, trig, err := New(cfg)
	require.NoError(t, err)

	proxy := httptest.NewServer(h)
	defer proxy.Close()

	for _, p := range []string{"/api/a", "/api/b", "/other"} {
		_, err := http.Get(proxy.URL + p)
		require.NoError(t, err)
	}

	trig.TriggerByKeyMatch("GET:/api/*")

	handler := h.(*Handler)
	require.Eventually(t, func() bool {
		return len(handler.cache.Keys()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	keys := handler.cache.Keys()
	assert.Equal(t, "GET:/other", string(keys[0]))
}

func TestHandler_UpgradeAndDisabled(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backendLn.Close()

	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		req.Body.Close()
		conn.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"))
		buf := make([]byte, 4)
		for {
			n, err := br.Read(buf)
			if n > 0 {
				conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	cfg := NewConfig("http://" + backendLn.Addr().String())
	h, _, err := New(cfg)
	require.NoError(t, err)
	proxy := httptest.NewServer(h)
	defer proxy.Close()

	conn, err := net.Dial("tcp", proxy.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req, _ := http.NewRequest("GET", "/ws", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	require.NoError(t, req.Write(conn))

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	handler := h.(*Handler)
	assert.Empty(t, handler.cache.Keys(), "no cache slot should exist for a tunneled path")

	// Disabling websockets on a second handler against the same backend
	// must reject the same upgrade with 501.
	cfg2 := NewConfig("http://"+backendLn.Addr().String(), WithWebsocketEnabled(false))
	h2, _, err := New(cfg2)
	require.NoError(t, err)
	proxy2 := httptest.NewServer(h2)
	defer proxy2.Close()

	req2, _ := http.NewRequest("GET", proxy2.URL+"/ws", nil)
	req2.Header.Set("Upgrade", "websocket")
	req2.Header.Set("Connection", "Upgrade")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp2.StatusCode)
}

func TestHandler_XCacheHeader(t *testing.T) {
	backend := newCountingBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := NewConfig(srv.URL)
	hh, _, err := New(cfg)
	require.NoError(t, err)
	handler := hh.(*Handler)
	handler.XCacheHeader = true

	proxy := httptest.NewServer(handler)
	defer proxy.Close()

	resp1, err := http.Get(proxy.URL + "/x")
	require.NoError(t, err)
	assert.Equal(t, "MISS", resp1.Header.Get(HeaderXCache))

	resp2, err := http.Get(proxy.URL + "/x")
	require.NoError(t, err)
	assert.Equal(t, "HIT", resp2.Header.Get(HeaderXCache))
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		n, err := resp.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return string(buf)
}
