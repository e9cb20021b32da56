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

// Package filter implements the wildcard pattern matcher shared by the
// request include/exclude rules and the refresh bus's key-match
// invalidation.
package filter

import "strings"

// Match reports whether input matches pattern. A pattern is a literal
// string that may contain any number of '*' wildcards, each meaning "any
// sequence of characters, including empty". Matching is a greedy
// left-to-right segmentation: the pattern is split on '*' into literal
// segments, the first segment must prefix the input, the last segment
// must suffix what remains, and every segment in between is located by
// plain substring search, advancing the cursor past each match in turn.
//
// An all-'*' pattern matches everything. The empty pattern matches only
// the empty input.
func Match(pattern, input string) bool {
	if pattern == "" {
		return input == ""
	}
	if !strings.Contains(pattern, "*") {
		return pattern == input
	}

	segments := strings.Split(pattern, "*")

	first := segments[0]
	if !strings.HasPrefix(input, first) {
		return false
	}
	cursor := len(first)

	last := segments[len(segments)-1]
	if !strings.HasSuffix(input[cursor:], last) {
		return false
	}
	end := len(input) - len(last)
	if end < cursor {
		return false
	}

	for _, mid := range segments[1 : len(segments)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(input[cursor:end], mid)
		if idx < 0 {
			return false
		}
		cursor += idx + len(mid)
	}

	return cursor <= end
}
