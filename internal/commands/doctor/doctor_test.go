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

package doctor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/codeql-mcp/internal/config"
	"github.com/tombee/codeql-mcp/internal/log"
)

const fakeScript = `#!/bin/sh
case "$1" in
  version) echo "2.19.3" ;;
  resolve) echo "go (/opt/codeql/go)"; echo "python (/opt/codeql/python)" ;;
  execute) exec cat ;;
  *) echo "unexpected: $*" >&2; exit 2 ;;
esac
`

func testConfig(t *testing.T, script string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.CodeQL.TempDir = filepath.Join(t.TempDir(), "out")
	cfg.Cache.Watch = false
	cfg.QueryServer.ShutdownGrace = time.Second
	if script != "" {
		if runtime.GOOS == "windows" {
			t.Skip("shell script binary")
		}
		path := filepath.Join(t.TempDir(), "codeql")
		require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
		cfg.CodeQL.Path = path
	}
	return cfg
}

func checkNamed(t *testing.T, r *Report, name string) Check {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %q check in %+v", name, r.Checks)
	return Check{}
}

func TestRun_Healthy(t *testing.T) {
	cfg := testConfig(t, fakeScript)
	report := &Report{Healthy: true}

	Run(context.Background(), cfg, log.Discard(), Options{}, report)

	assert.True(t, report.Healthy, "%+v", report.Checks)
	assert.Equal(t, "2.19.3", checkNamed(t, report, "codeql version").Detail)
	assert.Equal(t, "go, python", checkNamed(t, report, "languages").Detail)
	assert.Contains(t, checkNamed(t, report, "query server").Detail, "started")
	assert.True(t, checkNamed(t, report, "temp directory").OK)
}

func TestRun_SkipQueryServer(t *testing.T) {
	cfg := testConfig(t, fakeScript)
	report := &Report{Healthy: true}

	Run(context.Background(), cfg, log.Discard(), Options{SkipQueryServer: true}, report)

	qs := checkNamed(t, report, "query server")
	assert.True(t, qs.OK)
	assert.True(t, qs.Warning)
	assert.True(t, report.Healthy)
}

func TestRun_MissingBinary(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.CodeQL.Path = filepath.Join(t.TempDir(), "no-such-codeql")
	report := &Report{Healthy: true}

	Run(context.Background(), cfg, log.Discard(), Options{}, report)

	assert.False(t, report.Healthy)
	require.Len(t, report.Checks, 1)
	c := report.Checks[0]
	assert.Equal(t, "codeql binary", c.Name)
	assert.False(t, c.OK)
	assert.Contains(t, c.Suggestion, "CODEQL_PATH")
}

func TestRun_FailingVersion(t *testing.T) {
	cfg := testConfig(t, "#!/bin/sh\necho broken >&2\nexit 3\n")
	report := &Report{Healthy: true}

	Run(context.Background(), cfg, log.Discard(), Options{SkipQueryServer: true}, report)

	assert.False(t, report.Healthy)
	v := checkNamed(t, report, "codeql version")
	assert.False(t, v.OK)
	assert.Contains(t, v.Detail, "broken")
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &Report{
		Checks: []Check{
			{Name: "configuration", OK: true, Detail: "defaults"},
			{Name: "codeql binary", Detail: "not found", Suggestion: "set CODEQL_PATH"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "✓ configuration defaults")
	assert.Contains(t, out, "✗ codeql binary not found")
	assert.Contains(t, out, "set CODEQL_PATH")
	assert.Contains(t, out, "Some checks failed.")
}
