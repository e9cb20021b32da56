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

package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kacheio/prerender/pkg/refresh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFiller counts invocations per key and can optionally hold a
// fill open until release is closed, mirroring the wait-channel pattern
// the coalescing middleware test uses to force concurrent callers to
// overlap.
type countingFiller struct {
	mu      sync.Mutex
	hits    map[Key]int
	release chan struct{}
	fail    bool
}

func newCountingFiller() *countingFiller {
	return &countingFiller{hits: make(map[Key]int)}
}

func (f *countingFiller) fill(ctx context.Context, key Key) (*Artifact, error) {
	f.mu.Lock()
	f.hits[key]++
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
	if f.fail {
		return nil, fmt.Errorf("backend failure")
	}
	return NewArtifact(200, nil, []byte("body:"+string(key))), nil
}

func (f *countingFiller) count(key Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

func TestCache_GetOrFill_CacheHit(t *testing.T) {
	c := New(nil)
	f := newCountingFiller()

	a1, hit1, err := c.GetOrFill(context.Background(), "GET:/x", f.fill)
	require.NoError(t, err)
	assert.False(t, hit1)

	a2, hit2, err := c.GetOrFill(context.Background(), "GET:/x", f.fill)
	require.NoError(t, err)
	assert.True(t, hit2)

	assert.Equal(t, 1, f.count("GET:/x"))
	assert.Equal(t, a1.Body, a2.Body)
}

func TestCache_GetOrFill_SingleFlight(t *testing.T) {
	c := New(nil)
	f := newCountingFiller()
	f.release = make(chan struct{})

	const n = 10
	results := make([]*Artifact, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			a, _, err := c.GetOrFill(context.Background(), "GET:/slow", f.fill)
			results[i] = a
			errs[i] = err
		}()
	}

	// Give every goroutine a chance to reach the fill/wait point before
	// releasing it, so they actually overlap rather than running
	// serially.
	time.Sleep(100 * time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.Equal(t, 1, f.count("GET:/slow"))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Body, results[i].Body)
	}
}

func TestCache_GetOrFill_FillErrorClearsSlot(t *testing.T) {
	c := New(nil)
	f := newCountingFiller()
	f.fail = true

	_, _, err := c.GetOrFill(context.Background(), "GET:/broken", f.fill)
	require.Error(t, err)

	// The slot must have been removed so a subsequent request retries
	// rather than replaying the same error forever.
	f.fail = false
	a, hit, err := c.GetOrFill(context.Background(), "GET:/broken", f.fill)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotNil(t, a)
	assert.Equal(t, 2, f.count("GET:/broken"))
}

func TestCache_ClearAll(t *testing.T) {
	c := New(nil)
	f := newCountingFiller()

	_, _, err := c.GetOrFill(context.Background(), "GET:/a", f.fill)
	require.NoError(t, err)
	_, _, err = c.GetOrFill(context.Background(), "GET:/b", f.fill)
	require.NoError(t, err)

	c.Clear()

	assert.Empty(t, c.Keys())

	// Re-fetching after a clear refetches from the backend.
	_, _, err = c.GetOrFill(context.Background(), "GET:/a", f.fill)
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("GET:/a"))
}

func TestCache_ClearMatching(t *testing.T) {
	c := New(nil)
	f := newCountingFiller()

	for _, k := range []Key{"GET:/api/a", "GET:/api/b", "GET:/other"} {
		_, _, err := c.GetOrFill(context.Background(), k, f.fill)
		require.NoError(t, err)
	}

	c.ClearMatching("GET:/api/*")

	keys := c.Keys()
	assert.Len(t, keys, 1)
	assert.Equal(t, Key("GET:/other"), keys[0])
}

func TestCache_ClearAll_LeavesPendingUntouched(t *testing.T) {
	c := New(nil)
	f := newCountingFiller()
	f.release = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	var fillErr error
	go func() {
		defer wg.Done()
		_, _, fillErr = c.GetOrFill(context.Background(), "GET:/slow", f.fill)
	}()

	// Wait until the fill has started (and is blocked on release) before
	// clearing.
	for f.count("GET:/slow") == 0 {
		time.Sleep(time.Millisecond)
	}

	c.Clear() // must not disturb the in-flight fill
	close(f.release)
	wg.Wait()

	require.NoError(t, fillErr)
	assert.Equal(t, 1, f.count("GET:/slow"))
}

func TestCache_SubscribesToRefreshBus(t *testing.T) {
	trig := refresh.NewTrigger()
	c := New(trig)
	defer c.Close()

	f := newCountingFiller()
	_, _, err := c.GetOrFill(context.Background(), "GET:/x", f.fill)
	require.NoError(t, err)
	require.NotEmpty(t, c.Keys())

	trig.Trigger()

	require.Eventually(t, func() bool {
		return len(c.Keys()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCache_SetCommandObserver(t *testing.T) {
	trig := refresh.NewTrigger()
	c := New(trig)
	defer c.Close()

	var mu sync.Mutex
	var seen []refresh.Command
	c.SetCommandObserver(func(cmd refresh.Command) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, cmd)
	})

	trig.Trigger()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, refresh.ClearAll, seen[0].Kind)
	mu.Unlock()
}

func TestCache_GetOrFill_WaiterCancelDoesNotPoisonSlot(t *testing.T) {
	c := New(nil)
	f := newCountingFiller()
	f.release = make(chan struct{})

	// First caller installs the pending slot and blocks in the fill.
	go func() {
		c.GetOrFill(context.Background(), "GET:/x", f.fill)
	}()
	for f.count("GET:/x") == 0 {
		time.Sleep(time.Millisecond)
	}

	// A second caller attaches as a waiter but gives up before the fill
	// completes.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.GetOrFill(ctx, "GET:/x", f.fill)
	require.ErrorIs(t, err, context.Canceled)

	// The fill itself must still complete normally and populate the
	// cache for anyone who waits for it.
	close(f.release)
	require.Eventually(t, func() bool {
		return len(c.Keys()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.count("GET:/x"))
}
