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

// Package header holds the small set of HTTP header helpers shared by the
// forwarder and the classifier: hop-by-hop stripping and upgrade
// detection.
package header

import (
	"net/http"
	"strings"
)

const (
	HeaderConnection         = "Connection"
	HeaderKeepAlive          = "Keep-Alive"
	HeaderProxyAuthenticate  = "Proxy-Authenticate"
	HeaderProxyAuthorization = "Proxy-Authorization"
	HeaderTE                 = "TE"
	HeaderTrailer            = "Trailer"
	HeaderTransferEncoding   = "Transfer-Encoding"
	HeaderUpgrade            = "Upgrade"
)

// hopByHop is the RFC 7230 §6.1 list of headers meaningful only for a
// single transport hop; they must never be forwarded or cached.
var hopByHop = []string{
	HeaderConnection,
	HeaderKeepAlive,
	HeaderProxyAuthenticate,
	HeaderProxyAuthorization,
	HeaderTE,
	HeaderTrailer,
	HeaderTransferEncoding,
	HeaderUpgrade,
}

// StripHopByHop returns a copy of h with the RFC 7230 §6.1 hop-by-hop
// headers removed, plus any additional headers named in h's own
// Connection header (the mechanism RFC 7230 §6.1 uses to extend the
// hop-by-hop set per message).
func StripHopByHop(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	for _, extra := range out[HeaderConnection] {
		for _, name := range strings.Split(extra, ",") {
			out.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHop {
		out.Del(name)
	}
	return out
}

// IsUpgrade reports whether h signals an HTTP protocol upgrade: either a
// Connection header containing the token "upgrade" (case-insensitive,
// per HTTP token comparison rules) or the mere presence of an Upgrade
// header.
func IsUpgrade(h http.Header) bool {
	if h.Get(HeaderUpgrade) != "" {
		return true
	}
	for _, v := range h[HeaderConnection] {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
				return true
			}
		}
	}
	return false
}
