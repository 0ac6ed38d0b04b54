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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/codeql-mcp/internal/commands/doctor"
	"github.com/tombee/codeql-mcp/internal/commands/serve"
	"github.com/tombee/codeql-mcp/internal/commands/shared"
	versioncmd "github.com/tombee/codeql-mcp/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root command with every subcommand added.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codeql-mcp",
		Short: "CodeQL tools for MCP clients",
		Long: `codeql-mcp is a Model Context Protocol server for the CodeQL CLI.

It lets AI assistants create and register CodeQL databases, evaluate queries
and single predicates through a long-lived query server, decode results, and
run security suites.

Run 'codeql-mcp doctor' to check your CodeQL installation.
Run 'codeql-mcp serve' to start the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, quiet, json, config := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Log errors only")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/codeql-mcp/config.yaml)")

	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(doctor.NewCommand())
	cmd.AddCommand(versioncmd.NewVersionCommand())

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
