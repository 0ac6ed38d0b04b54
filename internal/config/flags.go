// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Overrides holds command-line values that take precedence over the file
// and environment. Only flags the user actually set are applied.
type Overrides struct {
	fs *pflag.FlagSet

	codeqlPath    string
	tempDir       string
	maxConcurrent int
	killOnTimeout bool
	framing       string
	transport     string
	addr          string
	logLevel      string
	queryTimeout  time.Duration
	cacheSize     int
	metrics       bool
	lazy          bool
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) *Overrides {
	o := &Overrides{fs: fs}
	fs.StringVar(&o.codeqlPath, "codeql", "", "path to the codeql executable (default: codeql on PATH)")
	fs.StringVar(&o.tempDir, "temp-dir", "", "directory for default query and analysis outputs")
	fs.IntVar(&o.maxConcurrent, "max-concurrent", 0, "maximum concurrent codeql subprocesses")
	fs.BoolVar(&o.killOnTimeout, "kill-on-timeout", false, "terminate subprocesses whose caller timed out")
	fs.StringVar(&o.framing, "framing", "", "query server framing: line or header")
	fs.StringVar(&o.transport, "transport", "", "MCP transport: stdio or http")
	fs.StringVar(&o.addr, "addr", "", "listen address for the http transport")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	fs.DurationVar(&o.queryTimeout, "query-timeout", 0, "default timeout for query evaluation")
	fs.IntVar(&o.cacheSize, "cache-size", 0, "maximum number of cached database descriptions")
	fs.BoolVar(&o.metrics, "metrics", false, "serve Prometheus metrics on /metrics (http transport)")
	fs.BoolVar(&o.lazy, "lazy", false, "start the query server on first use")
	return o
}

// Apply copies every flag the user set onto cfg and revalidates it.
func (o *Overrides) Apply(cfg *Config) error {
	if o == nil || o.fs == nil {
		return nil
	}
	changed := o.fs.Changed

	if changed("codeql") {
		cfg.CodeQL.Path = o.codeqlPath
	}
	if changed("temp-dir") {
		cfg.CodeQL.TempDir = o.tempDir
	}
	if changed("max-concurrent") {
		cfg.CodeQL.MaxConcurrent = o.maxConcurrent
	}
	if changed("kill-on-timeout") {
		cfg.CodeQL.KillOnTimeout = o.killOnTimeout
	}
	if changed("framing") {
		cfg.QueryServer.Framing = o.framing
	}
	if changed("transport") {
		cfg.Server.Transport = o.transport
	}
	if changed("addr") {
		cfg.Server.Addr = o.addr
	}
	if changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if changed("query-timeout") {
		cfg.CodeQL.Timeouts.Query = o.queryTimeout
	}
	if changed("cache-size") {
		cfg.Cache.Size = o.cacheSize
	}
	if changed("metrics") {
		cfg.Observability.Metrics = o.metrics
	}
	if changed("lazy") {
		cfg.QueryServer.Lazy = o.lazy
	}

	return cfg.Validate()
}
