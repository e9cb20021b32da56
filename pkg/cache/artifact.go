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

import "net/http"

// Artifact is a captured origin response: status, headers (hop-by-hop
// already stripped by whatever produced it), and a fully materialized
// body. An Artifact is immutable once constructed; callers that need a
// mutable copy of its header must clone it themselves.
type Artifact struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewArtifact constructs an Artifact, cloning header so later mutation of
// the caller's http.Header cannot reach into the cache.
func NewArtifact(status int, h http.Header, body []byte) *Artifact {
	return &Artifact{
		Status: status,
		Header: h.Clone(),
		Body:   body,
	}
}

// WriteTo writes the artifact as an HTTP response: headers, status line,
// then body.
func (a *Artifact) WriteTo(w http.ResponseWriter) error {
	dst := w.Header()
	for k, vs := range a.Header {
		dst[k] = vs
	}
	w.WriteHeader(a.Status)
	_, err := w.Write(a.Body)
	return err
}
