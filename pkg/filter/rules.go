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

package filter

import "strings"

// Rule is a single include/exclude rule: an optional method and a path
// pattern. A rule with no method applies to every method.
type Rule struct {
	Method string
	Path   string
}

// ParseRule parses a raw rule string. A rule may optionally begin with an
// uppercase HTTP method token followed by a single space, e.g. "GET /api/*".
// When no such prefix is present, the whole string is the path pattern and
// the rule applies to every method.
func ParseRule(raw string) Rule {
	if sp := strings.IndexByte(raw, ' '); sp > 0 {
		method := raw[:sp]
		if isUppercaseToken(method) {
			return Rule{Method: method, Path: raw[sp+1:]}
		}
	}
	return Rule{Path: raw}
}

func isUppercaseToken(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return len(s) > 0
}

// Matches reports whether the rule matches the given method and path.
func (r Rule) Matches(method, path string) bool {
	if r.Method != "" && r.Method != method {
		return false
	}
	return Match(r.Path, path)
}

// Rules holds the compiled include and exclude rule lists used to decide
// whether a request's response is cacheable.
type Rules struct {
	Include []Rule
	Exclude []Rule
}

// Compile compiles raw include/exclude pattern strings into a Rules set.
func Compile(include, exclude []string) Rules {
	r := Rules{
		Include: make([]Rule, 0, len(include)),
		Exclude: make([]Rule, 0, len(exclude)),
	}
	for _, p := range include {
		r.Include = append(r.Include, ParseRule(p))
	}
	for _, p := range exclude {
		r.Exclude = append(r.Exclude, ParseRule(p))
	}
	return r
}

// Cacheable reports whether a request with the given method and path is
// cacheable under these rules: cacheable iff (include is empty OR some
// include rule matches) AND no exclude rule matches.
func (r Rules) Cacheable(method, path string) bool {
	included := len(r.Include) == 0
	for _, rule := range r.Include {
		if rule.Matches(method, path) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, rule := range r.Exclude {
		if rule.Matches(method, path) {
			return false
		}
	}
	return true
}
