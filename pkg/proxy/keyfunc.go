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
	"strings"

	"github.com/kacheio/prerender/pkg/cache"
)

// KeyFunc derives a cache.Key from a request's fingerprint. It must be
// pure, deterministic and side-effect free: the cache calls it at most
// once per cacheable request, on the request-plane goroutine, before any
// lookup.
type KeyFunc func(RequestInfo) cache.Key

// DefaultKeyFunc produces "{METHOD}:{PATH}" or, when a query string is
// present, "{METHOD}:{PATH}?{QUERY}".
func DefaultKeyFunc(r RequestInfo) cache.Key {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(':')
	b.WriteString(r.Path)
	if r.Query != "" {
		b.WriteByte('?')
		b.WriteString(r.Query)
	}
	return cache.Key(b.String())
}
