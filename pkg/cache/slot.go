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

import "context"

// slot is the value stored under a key: a single-shot future over an
// Artifact. It starts Pending (done open) and transitions exactly once
// to either a successful or a failed completion, signaled by closing
// done. This is the same lock-install-call-unlock-notify shape as the
// teacher's requestCoalescer.call, using a closed channel in place of a
// sync.Cond so waiters can select on it alongside context cancellation.
type slot struct {
	done     chan struct{}
	artifact *Artifact
	err      error
}

func newSlot() *slot {
	return &slot{done: make(chan struct{})}
}

// complete publishes the fill's outcome and wakes every waiter. Must be
// called at most once.
func (s *slot) complete(a *Artifact, err error) {
	s.artifact = a
	s.err = err
	close(s.done)
}

// wait blocks until the slot completes or ctx is done, whichever comes
// first. A slot that is already complete (Ready) returns immediately,
// since done is already closed.
func (s *slot) wait(ctx context.Context) (*Artifact, error) {
	select {
	case <-s.done:
		return s.artifact, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ready reports whether the slot has completed successfully. Safe to
// call concurrently with complete; a non-blocking receive on a channel
// never racing with its own close is well defined, and artifact/err are
// fully written before done is closed.
func (s *slot) ready() bool {
	select {
	case <-s.done:
		return s.err == nil
	default:
		return false
	}
}
