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

// Trigger is the embedder-facing handle onto a Bus: the library surface
// that lets external code invalidate a cache it does not otherwise hold
// a reference to. A Trigger may be shared across multiple proxies built
// with NewWithTrigger so one invalidation call reaches all of them.
type Trigger struct {
	bus *Bus
}

// NewTrigger creates a Trigger with a fresh, unshared Bus.
func NewTrigger() *Trigger {
	return &Trigger{bus: NewBus()}
}

// Trigger publishes a wholesale ClearAll.
func (t *Trigger) Trigger() {
	t.bus.publish(Command{Kind: ClearAll})
}

// TriggerByKeyMatch publishes a ClearMatching for pattern. pattern uses
// the same wildcard grammar as filter rules but is matched against whole
// cache keys.
func (t *Trigger) TriggerByKeyMatch(pattern string) {
	t.bus.publish(Command{Kind: ClearMatching, Pattern: pattern})
}

// Subscribe registers a new subscription on the underlying bus. Callers
// must Close it when done to avoid leaking the subscriber slot.
func (t *Trigger) Subscribe() *Subscription {
	return t.bus.subscribe()
}
