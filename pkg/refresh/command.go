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

// Package refresh implements the broadcast invalidation channel shared
// between a cache and the external code that wants to evict it.
package refresh

// Kind distinguishes the variants of a Command.
type Kind int

const (
	// ClearAll evicts every ready entry.
	ClearAll Kind = iota
	// ClearMatching evicts every ready entry whose key matches Pattern.
	ClearMatching
)

func (k Kind) String() string {
	switch k {
	case ClearAll:
		return "clear_all"
	case ClearMatching:
		return "clear_matching"
	default:
		return "unknown"
	}
}

// Command is a single message published on the bus. Pattern is only
// meaningful when Kind is ClearMatching.
type Command struct {
	Kind    Kind
	Pattern string
}
