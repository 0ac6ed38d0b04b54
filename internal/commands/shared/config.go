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

package shared

import (
	"log/slog"

	"github.com/tombee/codeql-mcp/internal/config"
	"github.com/tombee/codeql-mcp/internal/log"
)

// LoadConfig loads the file named by --config, or the XDG default when
// unset, then applies command-line overrides.
func LoadConfig(overrides *config.Overrides) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := GetConfigPath(); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefaultPath()
	}
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}
	if err := overrides.Apply(cfg); err != nil {
		return nil, NewConfigError("invalid command-line flags", err)
	}
	return cfg, nil
}

// NewLogger builds the stderr logger. CODEQL_MCP_DEBUG and
// CODEQL_MCP_LOG_LEVEL win over the file, --verbose and --quiet over both.
func NewLogger(cfg *config.Config) *slog.Logger {
	lc := log.FromEnv()
	if lc.Level == log.DefaultConfig().Level {
		lc.Level = cfg.Log.Level
	}
	lc.Format = log.Format(cfg.Log.Format)
	lc.AddSource = lc.AddSource || cfg.Log.AddSource

	switch {
	case GetVerbose():
		lc.Level = "debug"
	case GetQuiet():
		lc.Level = "error"
	}
	return log.New(lc)
}
