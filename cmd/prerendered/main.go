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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kacheio/prerender/pkg/config"
	"github.com/kacheio/prerender/pkg/control"
	"github.com/kacheio/prerender/pkg/proxy"
	"github.com/kacheio/prerender/pkg/refresh"
	"github.com/kacheio/prerender/pkg/server"
	"github.com/kacheio/prerender/pkg/utils/logger"
	"github.com/kacheio/prerender/pkg/utils/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	defaultConfigFileName = "prerender.toml"

	configAutoReloadOption    = "config.auto-reload"
	configWatchIntervalOption = "config.watch-interval"

	versionOption = "version"
	versionUsage  = "Print application version and exit."
)

func main() {
	// Drop flags registered via init() by third-party libraries.
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	var printVersion bool
	flag.BoolVar(&printVersion, versionOption, false, versionUsage)

	var configAutoReload bool
	flag.BoolVar(&configAutoReload, configAutoReloadOption, false, "")

	var configWatchInterval time.Duration
	flag.DurationVar(&configWatchInterval, configWatchIntervalOption, 10*time.Second, "")

	flag.Parse()

	if printVersion {
		_, _ = fmt.Fprintln(os.Stdout, version.Print("prerendered"))
		return
	}

	configFile := defaultConfigFileName
	if flag.NArg() > 0 {
		configFile = flag.Arg(0)
	}

	ldr, err := config.NewLoader(configFile, configAutoReload, configWatchInterval)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error loading config from %s: %v\n", configFile, err)
		os.Exit(1)
	}

	cfg := ldr.Config()
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error validating config:\n%v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Log)

	log.Info().Msg("prerendered is starting")
	log.Info().Str("config", configFile).Msg("loaded configuration")

	proxyCfg, err := buildProxyConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("building proxy config")
	}

	h, trig, err := proxy.New(proxyCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing proxy handler")
	}
	handler := h.(*proxy.Handler)
	defer handler.Close()

	if configAutoReload {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := ldr.Watch(ctx); err != nil {
			log.Fatal().Err(err).Msg("starting config watcher")
		}
	}

	controlAPI, err := buildControlAPI(cfg, trig, handler)
	if err != nil {
		log.Fatal().Err(err).Msg("building control API")
	}

	proxyListener, err := server.New("proxy", proxyCfg.ProxyListenAddr, handler, server.Options{}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("starting proxy listener")
	}
	controlListener, err := server.New("control", proxyCfg.ControlListenAddr, controlAPI, server.Options{}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("starting control listener")
	}

	go proxyListener.Start()
	go controlListener.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("prerendered is shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()
	_ = proxyListener.Shutdown(ctx, server.DefaultShutdownTimeout)
	_ = controlListener.Shutdown(ctx, server.DefaultShutdownTimeout)
}

func buildProxyConfig(cfg *config.Configuration) (proxy.Config, error) {
	opts := []proxy.Option{
		proxy.WithIncludePaths(cfg.Server.IncludePaths...),
		proxy.WithExcludePaths(cfg.Server.ExcludePaths...),
		proxy.WithForwardGetOnly(cfg.Server.ForwardGetOnly),
		proxy.WithRegisterer(prometheus.DefaultRegisterer),
		proxy.WithLogger(log.Logger),
	}
	// Omitting websocket_enabled from the config file must not silently
	// disable tunneling: only override the proxy's own default when the
	// operator set the key explicitly.
	if cfg.Server.WebsocketEnabled != nil {
		opts = append(opts, proxy.WithWebsocketEnabled(*cfg.Server.WebsocketEnabled))
	}
	if cfg.Server.ProxyPort != 0 {
		opts = append(opts, proxy.WithProxyListenAddr(":"+strconv.Itoa(cfg.Server.ProxyPort)))
	}
	if cfg.Server.ConnectTimeoutSeconds != 0 || cfg.Server.ReadTimeoutSeconds != 0 {
		connect := proxy.DefaultConnectTimeout
		read := proxy.DefaultReadTimeout
		if cfg.Server.ConnectTimeoutSeconds != 0 {
			connect = time.Duration(cfg.Server.ConnectTimeoutSeconds) * time.Second
		}
		if cfg.Server.ReadTimeoutSeconds != 0 {
			read = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
		}
		opts = append(opts, proxy.WithBackendTimeouts(connect, read))
	}
	if cfg.Server.MaxResponseBytes != 0 {
		opts = append(opts, proxy.WithMaxResponseBytes(cfg.Server.MaxResponseBytes))
	}
	if cfg.Control != nil {
		if cfg.Control.Port != 0 {
			opts = append(opts, proxy.WithControlListenAddr(":"+strconv.Itoa(cfg.Control.Port)))
		}
		if cfg.Control.Auth != "" {
			opts = append(opts, proxy.WithControlAuth(cfg.Control.Auth))
		}
	}
	return proxy.NewConfig(cfg.Server.BackendURL, opts...), nil
}

func buildControlAPI(cfg *config.Configuration, trig *refresh.Trigger, h *proxy.Handler) (*control.API, error) {
	var opts []control.Option

	authToken := ""
	acl := ""
	debug := false
	if cfg.Control != nil {
		authToken = cfg.Control.Auth
		acl = cfg.Control.ACL
		debug = cfg.Control.Debug
	}
	if authToken != "" {
		opts = append(opts, control.WithAuthToken(authToken))
	}
	if acl != "" {
		f, err := control.NewIPFilter(acl)
		if err != nil {
			return nil, err
		}
		opts = append(opts, control.WithIPFilter(f))
	}
	if debug {
		opts = append(opts, control.WithDebug(true))
	}

	return control.New(trig, h.Cache(), opts...), nil
}
