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

// Package config loads codeql-mcp settings from a YAML file, a .env file,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tombee/codeql-mcp/internal/tracing"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// Query-server framing modes.
const (
	FramingLine   = "line"
	FramingHeader = "header"
)

// Server transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the complete codeql-mcp configuration.
type Config struct {
	// CodeQL configures the CLI and one-shot subprocesses.
	CodeQL CodeQLConfig `yaml:"codeql"`

	// QueryServer configures the long-lived query-server2 child process.
	QueryServer QueryServerConfig `yaml:"query_server"`

	// Cache configures the database-info cache.
	Cache CacheConfig `yaml:"cache"`

	// Server configures the MCP server and its transport.
	Server ServerConfig `yaml:"server"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Observability configures metrics and tracing.
	Observability ObservabilityConfig `yaml:"observability"`
}

// CodeQLConfig configures how the codeql binary is found and run.
type CodeQLConfig struct {
	// Path is the codeql executable. A bare name is looked up on PATH.
	// Env: CODEQL_PATH
	Path string `yaml:"path"`

	// TempDir is where default outputs (bqrs, sarif) are written. It is
	// created if absent and never removed by the server.
	// Default: <os.TempDir()>/codeql-mcp
	// Env: CODEQL_MCP_TMPDIR
	TempDir string `yaml:"temp_dir"`

	// MaxConcurrent bounds concurrently running one-shot subprocesses.
	// Default: number of CPUs, at least 2
	// Env: CODEQL_MCP_MAX_CONCURRENT
	MaxConcurrent int `yaml:"max_concurrent"`

	// KillOnTimeout terminates a subprocess when its caller times out.
	// When false the process keeps running and is tracked as abandoned
	// until it exits or terminate_abandoned is called.
	KillOnTimeout bool `yaml:"kill_on_timeout"`

	// AllowedPaths restricts user-supplied paths to these doublestar
	// patterns (e.g. "/work/**"). Empty allows any path.
	AllowedPaths []string `yaml:"allowed_paths"`

	// Timeouts bounds each class of subprocess.
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig holds per-operation timeouts.
type TimeoutConfig struct {
	CreateDatabase time.Duration `yaml:"create_database"`
	CompileCheck   time.Duration `yaml:"compile_check"`
	Query          time.Duration `yaml:"query"`
	Analyze        time.Duration `yaml:"analyze"`
	Register       time.Duration `yaml:"register"`
	Short          time.Duration `yaml:"short"`
}

// QueryServerConfig configures the query-server2 child process.
type QueryServerConfig struct {
	// Framing is "line" (newline-delimited JSON) or "header"
	// (Content-Length framed, as spoken by codeql execute query-server2).
	Framing string `yaml:"framing"`

	// Args are extra arguments appended after "execute query-server2".
	Args []string `yaml:"args"`

	// ShutdownGrace is how long Stop waits after closing stdin before killing.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// StartupProbe is how long Start watches for an immediate exit.
	StartupProbe time.Duration `yaml:"startup_probe"`

	// MaxProtocolErrors is the number of consecutive malformed messages
	// after which the client is treated as dead.
	MaxProtocolErrors int `yaml:"max_protocol_errors"`

	// Lazy defers starting the query server until the first tool needs it.
	Lazy bool `yaml:"lazy"`
}

// CacheConfig configures the database-info cache.
type CacheConfig struct {
	// Size is the maximum number of cached databases.
	Size int `yaml:"size"`

	// TTL bounds how long an entry is served before it is refreshed.
	TTL time.Duration `yaml:"ttl"`

	// Watch evicts entries when files in their database directory change.
	Watch bool `yaml:"watch"`

	// Debounce coalesces bursts of filesystem events.
	Debounce time.Duration `yaml:"debounce"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Name is the server name advertised to MCP clients.
	Name string `yaml:"name"`

	// Transport is "stdio" or "http".
	Transport string `yaml:"transport"`

	// Addr is the listen address for the http transport.
	// Env: PORT (sets ":<port>")
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit bounds tool calls per minute.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds tool call rates. Zero disables a limit.
type RateLimitConfig struct {
	// CallsPerMinute applies to every tool call.
	CallsPerMinute int `yaml:"calls_per_minute"`

	// HeavyPerMinute applies to database creation, analysis and scans.
	HeavyPerMinute int `yaml:"heavy_per_minute"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// Metrics serves Prometheus metrics on /metrics (http transport only).
	Metrics bool `yaml:"metrics"`

	// Tracing configures OpenTelemetry spans for tool calls.
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled    bool             `yaml:"enabled"`
	SampleRate float64          `yaml:"sample_rate"`
	Exporters  []ExporterConfig `yaml:"exporters"`
}

// ExporterConfig is one span export destination.
type ExporterConfig struct {
	// Type is "console", "otlp" (gRPC) or "otlp-http".
	Type     string            `yaml:"type"`
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
	Insecure bool              `yaml:"insecure"`
}

// Default returns configuration with defaults applied.
func Default() *Config {
	maxConcurrent := runtime.NumCPU()
	if maxConcurrent < 2 {
		maxConcurrent = 2
	}

	return &Config{
		CodeQL: CodeQLConfig{
			Path:          "codeql",
			TempDir:       filepath.Join(os.TempDir(), "codeql-mcp"),
			MaxConcurrent: maxConcurrent,
			Timeouts: TimeoutConfig{
				CreateDatabase: 30 * time.Minute,
				CompileCheck:   30 * time.Second,
				Query:          30 * time.Minute,
				Analyze:        60 * time.Minute,
				Register:       2 * time.Minute,
				Short:          2 * time.Minute,
			},
		},
		QueryServer: QueryServerConfig{
			Framing:           FramingHeader,
			ShutdownGrace:     5 * time.Second,
			StartupProbe:      250 * time.Millisecond,
			MaxProtocolErrors: 20,
		},
		Cache: CacheConfig{
			Size:     128,
			TTL:      30 * time.Minute,
			Watch:    true,
			Debounce: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			Name:            "CodeQL",
			Transport:       TransportStdio,
			Addr:            ":8000",
			ShutdownTimeout: 5 * time.Second,
			RateLimit: RateLimitConfig{
				CallsPerMinute: 600,
				HeavyPerMinute: 30,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{SampleRate: 1.0},
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded first (without overriding the real environment), then the YAML
// file at configPath if non-empty, then environment overrides. The result
// is validated but the codeql binary is not resolved; call ResolveBinary.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, &cqerrors.ConfigError{Key: "dotenv", Reason: "failed to load .env", Cause: err}
	}

	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &cqerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDefaultPath loads from the XDG config path when that file exists.
func LoadDefaultPath() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Load("")
	}
	if _, err := os.Stat(path); err != nil {
		return Load("")
	}
	return Load(path)
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// applyDefaults fills zero values left by a partial YAML file.
func (c *Config) applyDefaults() {
	d := Default()

	if c.CodeQL.Path == "" {
		c.CodeQL.Path = d.CodeQL.Path
	}
	if c.CodeQL.TempDir == "" {
		c.CodeQL.TempDir = d.CodeQL.TempDir
	}
	if c.CodeQL.MaxConcurrent == 0 {
		c.CodeQL.MaxConcurrent = d.CodeQL.MaxConcurrent
	}
	t, dt := &c.CodeQL.Timeouts, d.CodeQL.Timeouts
	if t.CreateDatabase == 0 {
		t.CreateDatabase = dt.CreateDatabase
	}
	if t.CompileCheck == 0 {
		t.CompileCheck = dt.CompileCheck
	}
	if t.Query == 0 {
		t.Query = dt.Query
	}
	if t.Analyze == 0 {
		t.Analyze = dt.Analyze
	}
	if t.Register == 0 {
		t.Register = dt.Register
	}
	if t.Short == 0 {
		t.Short = dt.Short
	}

	if c.QueryServer.Framing == "" {
		c.QueryServer.Framing = d.QueryServer.Framing
	}
	if c.QueryServer.ShutdownGrace == 0 {
		c.QueryServer.ShutdownGrace = d.QueryServer.ShutdownGrace
	}
	if c.QueryServer.StartupProbe == 0 {
		c.QueryServer.StartupProbe = d.QueryServer.StartupProbe
	}
	if c.QueryServer.MaxProtocolErrors == 0 {
		c.QueryServer.MaxProtocolErrors = d.QueryServer.MaxProtocolErrors
	}

	if c.Cache.Size == 0 {
		c.Cache.Size = d.Cache.Size
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Cache.Debounce == 0 {
		c.Cache.Debounce = d.Cache.Debounce
	}

	if c.Server.Name == "" {
		c.Server.Name = d.Server.Name
	}
	if c.Server.Transport == "" {
		c.Server.Transport = d.Server.Transport
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// loadFromEnv applies environment variable overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("CODEQL_PATH"); val != "" {
		c.CodeQL.Path = val
	}
	if val := os.Getenv("CODEQL_MCP_TMPDIR"); val != "" {
		c.CodeQL.TempDir = val
	}
	if val := os.Getenv("CODEQL_MCP_MAX_CONCURRENT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.CodeQL.MaxConcurrent = n
		}
	}
	if val := os.Getenv("CODEQL_MCP_KILL_ON_TIMEOUT"); val != "" {
		c.CodeQL.KillOnTimeout = parseBool(val)
	}
	if val := os.Getenv("CODEQL_MCP_ALLOWED_PATHS"); val != "" {
		c.CodeQL.AllowedPaths = filepath.SplitList(val)
	}
	if val := os.Getenv("CODEQL_MCP_CREATE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.CodeQL.Timeouts.CreateDatabase = d
		}
	}
	if val := os.Getenv("CODEQL_MCP_QUERY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.CodeQL.Timeouts.Query = d
		}
	}

	if val := os.Getenv("CODEQL_MCP_FRAMING"); val != "" {
		c.QueryServer.Framing = strings.ToLower(val)
	}

	if val := os.Getenv("CODEQL_MCP_CACHE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.Size = n
		}
	}
	if val := os.Getenv("CODEQL_MCP_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.TTL = d
		}
	}

	if val := os.Getenv("CODEQL_MCP_TRANSPORT"); val != "" {
		c.Server.Transport = strings.ToLower(val)
	}
	if val := os.Getenv("PORT"); val != "" {
		c.Server.Addr = ":" + val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}

	if val := os.Getenv("CODEQL_MCP_METRICS"); val != "" {
		c.Observability.Metrics = parseBool(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Observability.Tracing.Enabled = true
		c.Observability.Tracing.Exporters = append(c.Observability.Tracing.Exporters, ExporterConfig{
			Type:     "otlp-http",
			Endpoint: val,
		})
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.CodeQL.Path) == "" {
		errs = append(errs, "codeql.path must not be empty")
	}
	if c.CodeQL.MaxConcurrent < 1 {
		errs = append(errs, fmt.Sprintf("codeql.max_concurrent must be at least 1, got %d", c.CodeQL.MaxConcurrent))
	}
	for _, p := range c.CodeQL.AllowedPaths {
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			errs = append(errs, fmt.Sprintf("codeql.allowed_paths contains invalid pattern %q", p))
		}
	}
	t := c.CodeQL.Timeouts
	for name, d := range map[string]time.Duration{
		"create_database": t.CreateDatabase,
		"compile_check":   t.CompileCheck,
		"query":           t.Query,
		"analyze":         t.Analyze,
		"register":        t.Register,
		"short":           t.Short,
	} {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("codeql.timeouts.%s must not be negative, got %v", name, d))
		}
	}

	if c.QueryServer.Framing != FramingLine && c.QueryServer.Framing != FramingHeader {
		errs = append(errs, fmt.Sprintf("query_server.framing must be one of [line, header], got %q", c.QueryServer.Framing))
	}
	if c.QueryServer.MaxProtocolErrors < 1 {
		errs = append(errs, "query_server.max_protocol_errors must be at least 1")
	}

	if c.Cache.Size < 1 {
		errs = append(errs, fmt.Sprintf("cache.size must be at least 1, got %d", c.Cache.Size))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, "cache.ttl must not be negative")
	}

	if c.Server.Transport != TransportStdio && c.Server.Transport != TransportHTTP {
		errs = append(errs, fmt.Sprintf("server.transport must be one of [stdio, http], got %q", c.Server.Transport))
	}
	if c.Server.RateLimit.CallsPerMinute < 0 || c.Server.RateLimit.HeavyPerMinute < 0 {
		errs = append(errs, "server.rate_limit values must not be negative")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if rate := c.Observability.Tracing.SampleRate; rate < 0 || rate > 1 {
		errs = append(errs, fmt.Sprintf("observability.tracing.sample_rate must be within [0, 1], got %v", rate))
	}
	for i, e := range c.Observability.Tracing.Exporters {
		switch e.Type {
		case "console", "otlp", "otlp-http", "otlp_http":
		default:
			errs = append(errs, fmt.Sprintf("observability.tracing.exporters[%d].type %q is not supported", i, e.Type))
		}
	}

	if len(errs) > 0 {
		return &cqerrors.ConfigError{
			Key:    "validation",
			Reason: strings.Join(errs, "; "),
		}
	}
	return nil
}

// ResolveBinary resolves CodeQL.Path to an absolute executable path.
func (c *Config) ResolveBinary() (string, error) {
	path, err := exec.LookPath(c.CodeQL.Path)
	if err != nil {
		return "", &cqerrors.LaunchError{
			Binary: c.CodeQL.Path,
			Reason: "executable not found",
			Cause:  err,
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// EnsureTempDir creates the temp directory if it does not exist and
// returns its absolute path. The directory is never removed.
func (c *Config) EnsureTempDir() (string, error) {
	dir, err := filepath.Abs(c.CodeQL.TempDir)
	if err != nil {
		return "", &cqerrors.ConfigError{Key: "codeql.temp_dir", Reason: "cannot resolve path", Cause: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &cqerrors.ConfigError{Key: "codeql.temp_dir", Reason: "cannot create directory", Cause: err}
	}
	return dir, nil
}

// TracingConfig converts the observability section to tracing settings.
func (c *Config) TracingConfig(version string) tracing.Config {
	tc := tracing.DefaultConfig()
	tc.Enabled = c.Observability.Tracing.Enabled
	tc.ServiceName = "codeql-mcp"
	tc.ServiceVersion = version
	tc.Sampling.Enabled = c.Observability.Tracing.SampleRate < 1.0
	tc.Sampling.Rate = c.Observability.Tracing.SampleRate
	for _, e := range c.Observability.Tracing.Exporters {
		tc.Exporters = append(tc.Exporters, tracing.ExporterConfig{
			Type:     e.Type,
			Endpoint: e.Endpoint,
			Headers:  e.Headers,
			TLS:      tracing.TLSConfig{Enabled: !e.Insecure, VerifyCertificate: true},
		})
	}
	return tc
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return val == "1" || strings.EqualFold(val, "yes")
	}
	return b
}
