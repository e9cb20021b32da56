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

package config

import "errors"

var errMissingBackendURL = errors.New("server.backend_url is required")

// Configuration is the root file configuration.
type Configuration struct {
	Server  Server   `toml:"server"`
	Control *Control `toml:"control"`
	Log     *Log     `toml:"logging"`
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	return c.Server.Validate()
}

// Server holds the proxy's request-plane configuration.
type Server struct {
	BackendURL string `toml:"backend_url"`

	IncludePaths []string `toml:"include_paths"`
	ExcludePaths []string `toml:"exclude_paths"`

	// WebsocketEnabled is a pointer so a config file that omits the key
	// can be told apart from one that explicitly disables tunneling;
	// nil defers to the proxy's own default (enabled).
	WebsocketEnabled *bool `toml:"websocket_enabled"`
	ForwardGetOnly   bool  `toml:"forward_get_only"`

	ProxyPort int `toml:"proxy_port"`

	ConnectTimeoutSeconds int   `toml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int   `toml:"read_timeout_seconds"`
	MaxResponseBytes      int64 `toml:"max_response_bytes"`
}

// Validate validates the server config.
func (s Server) Validate() error {
	if s.BackendURL == "" {
		return errMissingBackendURL
	}
	return nil
}

// Control holds the control listener's configuration.
type Control struct {
	Port  int    `toml:"control_port"`
	Auth  string `toml:"control_auth,omitempty"`
	ACL   string `toml:"acl,omitempty"`
	Debug bool   `toml:"debug,omitempty"`
}

// Log holds the logger configuration.
type Log struct {
	Level  string `toml:"level,omitempty"`
	Format string `toml:"format,omitempty"`
	Color  bool   `toml:"color,omitempty"`

	FilePath   string `toml:"file_path,omitempty"`
	MaxSize    int    `toml:"max_size,omitempty"`
	MaxAge     int    `toml:"max_age,omitempty"`
	MaxBackups int    `toml:"max_backups,omitempty"`
	Compress   bool   `toml:"compress,omitempty"`
}
