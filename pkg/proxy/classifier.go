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
	"net/http"

	"github.com/kacheio/prerender/pkg/filter"
	"github.com/kacheio/prerender/pkg/header"
)

// Kind enumerates the classifier's possible dispositions.
type Kind int

const (
	Forward Kind = iota
	Upgrade
	Reject
)

// Disposition is the classifier's verdict for one request. Code is only
// meaningful when Kind is Reject; Cacheable only when Kind is Forward.
type Disposition struct {
	Kind      Kind
	Code      int
	Cacheable bool
}

// Classify decides a request's disposition from its method, path and
// headers against the compiled filter rules and the two proxy-wide
// toggles. Method-not-allowed is checked first regardless of upgrade
// status; upgrade detection then takes priority over the include/exclude
// filter, which only applies to ordinary forwarding.
func Classify(info RequestInfo, rules filter.Rules, websocketEnabled, forwardGetOnly bool) Disposition {
	if forwardGetOnly && info.Method != http.MethodGet {
		return Disposition{Kind: Reject, Code: http.StatusMethodNotAllowed}
	}

	isUpgrade := header.IsUpgrade(info.Header)
	if isUpgrade && !websocketEnabled {
		return Disposition{Kind: Reject, Code: http.StatusNotImplemented}
	}
	if isUpgrade {
		return Disposition{Kind: Upgrade}
	}

	if !rules.Cacheable(info.Method, info.Path) {
		return Disposition{Kind: Forward, Cacheable: false}
	}
	return Disposition{Kind: Forward, Cacheable: true}
}
