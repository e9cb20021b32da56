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

package refresh

import "sync"

// subscriberBuffer bounds how many commands a subscriber may fall behind
// by before it is forced into the lag sentinel. Small on purpose: a
// subscriber that can't keep up should just reconcile with a full clear
// rather than the bus building an unbounded backlog for it.
const subscriberBuffer = 8

// Bus is a fan-out broadcast of Commands. Every subscriber receives every
// published command, except a subscriber that falls more than
// subscriberBuffer commands behind, which instead receives a ClearAll
// sentinel in place of whatever it missed. A Bus is safe for concurrent
// use and is cheap to share: embedders hold it indirectly through a
// Trigger.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Command
	nextID int
}

// NewBus creates an empty bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Command)}
}

// Subscription is a single subscriber's view of the bus.
type Subscription struct {
	ch     chan Command
	id     int
	bus    *Bus
	closed bool
}

// C returns the channel commands arrive on. It is never closed by the
// bus itself; use Close to stop receiving and release the subscription.
func (s *Subscription) C() <-chan Command {
	return s.ch
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.bus.unsubscribe(s.id)
}

func (b *Bus) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Command, subscriberBuffer)
	b.subs[id] = ch
	return &Subscription{ch: ch, id: id, bus: b}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// publish broadcasts cmd to every current subscriber. A subscriber whose
// buffer is full has its oldest pending command dropped and a ClearAll
// sentinel installed in its place, rather than blocking the publisher.
func (b *Bus) publish(cmd Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- cmd:
			continue
		default:
		}
		// Buffer full: drop the oldest pending command and fall back to
		// the conservative sentinel.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- Command{Kind: ClearAll}:
		default:
			// A concurrent receiver drained and refilled the buffer
			// between the two selects; the subscriber is caught up
			// enough that dropping this publish is acceptable.
		}
	}
}
