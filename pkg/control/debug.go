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

package control

import (
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
)

func init() {
	expvar.Publish("Goroutines", expvar.Func(func() interface{} {
		return runtime.NumGoroutine()
	}))
}

// mountDebugRoutes adds expvar and pprof routes, only reachable when the
// control listener was built WithDebug.
func (a *API) mountDebugRoutes() {
	a.router.Methods(http.MethodGet).Path("/debug/vars").HandlerFunc(a.wrap(debugVarsHandler))

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(5)
	a.router.Methods(http.MethodGet).PathPrefix("/debug/pprof/cmdline").HandlerFunc(a.wrap(pprof.Cmdline))
	a.router.Methods(http.MethodGet).PathPrefix("/debug/pprof/profile").HandlerFunc(a.wrap(pprof.Profile))
	a.router.Methods(http.MethodGet).PathPrefix("/debug/pprof/symbol").HandlerFunc(a.wrap(pprof.Symbol))
	a.router.Methods(http.MethodGet).PathPrefix("/debug/pprof/trace").HandlerFunc(a.wrap(pprof.Trace))
	a.router.Methods(http.MethodGet).PathPrefix("/debug/pprof/").HandlerFunc(a.wrap(pprof.Index))
}

func debugVarsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprint(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprint(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprint(w, "\n}\n")
}
