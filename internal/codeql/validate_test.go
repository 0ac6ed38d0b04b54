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

package codeql

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

func TestValidateLanguage(t *testing.T) {
	for _, lang := range []string{"python", "Python", "typescript", "kotlin", "c", "rust"} {
		got, err := ValidateLanguage(lang)
		require.NoError(t, err, lang)
		assert.Contains(t, queryPackLanguages, got)
	}

	for _, lang := range []string{"", "cobol", "python; rm -rf /", "python ", "go\n"} {
		_, err := ValidateLanguage(lang)
		var valErr *cqerrors.ValidationError
		require.ErrorAs(t, err, &valErr, "%q", lang)
		assert.Equal(t, "language", valErr.Field)
		assert.Contains(t, valErr.Suggestion, "python")
	}
}

func TestQueryPack(t *testing.T) {
	assert.Equal(t, "codeql/javascript-queries", QueryPack("typescript"))
	assert.Equal(t, "codeql/java-queries", QueryPack("kotlin"))
	assert.Equal(t, "codeql/cpp-queries", QueryPack("c"))
	assert.Equal(t, "c-cpp", DisplayLanguage("cpp"))
	assert.Equal(t, "go", DisplayLanguage("go"))
}

func TestValidateFormats(t *testing.T) {
	for _, f := range DecodeFormats {
		assert.NoError(t, ValidateDecodeFormat(f))
	}
	for _, f := range AnalyzeFormats {
		assert.NoError(t, ValidateAnalyzeFormat(f))
	}
	assert.Error(t, ValidateDecodeFormat("xml"))
	assert.Error(t, ValidateDecodeFormat("JSON"))
	assert.Error(t, ValidateAnalyzeFormat("sarif-latest --threads=0"))
}

func TestValidatePackRef(t *testing.T) {
	valid := []string{
		"codeql/python-queries",
		"codeql/python-queries@1.3.0",
		"codeql/python-queries@~1.3.0:codeql-suites/python-security-extended.qls",
		"my-org/custom_pack:Security/CWE-089",
	}
	for _, ref := range valid {
		assert.NoError(t, ValidatePackRef("pack_name", ref), ref)
	}

	invalid := []string{
		"",
		"python-queries",
		"--additional-packs=/tmp",
		"codeql/python-queries:../../etc/passwd",
		"codeql/python queries",
		"codeql/python-queries;id",
	}
	for _, ref := range invalid {
		assert.Error(t, ValidatePackRef("pack_name", ref), ref)
	}
}

func TestValidateCategory(t *testing.T) {
	assert.NoError(t, ValidateCategory("security"))
	assert.NoError(t, ValidateCategory("Security/CWE-0*/*.ql"))
	assert.NoError(t, ValidateCategory("**/experimental/**"))
	assert.Error(t, ValidateCategory("$(id)"))
	assert.Error(t, ValidateCategory("a b"))
}

func TestValidateVulnerabilityType(t *testing.T) {
	v, err := ValidateVulnerabilityType("SQL_Injection")
	require.NoError(t, err)
	assert.Equal(t, "sql_injection", v)

	_, err = ValidateVulnerabilityType("rowhammer")
	assert.Error(t, err)
}

func TestMatchesVulnerability(t *testing.T) {
	assert.True(t, matchesVulnerability("sql_injection", "/q/Security/CWE-089/SqlInjection.ql", "SqlInjection.ql"))
	assert.True(t, matchesVulnerability("weak_crypto", "/q/Security/CWE-327/BrokenCryptoAlgorithm.ql", "BrokenCryptoAlgorithm.ql"))
	assert.False(t, matchesVulnerability("xxe", "/q/Security/CWE-089/SqlInjection.ql", "SqlInjection.ql"))
}

func TestPathPolicy_Resolve(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	var open PathPolicy
	got, err := open.Resolve("db_path", filepath.Join(dir, "db"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "db"), got)

	for _, bad := range []string{"", "../etc", "a/../../b", "db\x00", "-db", "--output=/etc/passwd"} {
		_, err := open.Resolve("db_path", bad)
		var valErr *cqerrors.ValidationError
		require.ErrorAs(t, err, &valErr, "%q", bad)
		assert.Equal(t, "db_path", valErr.Field)
	}
}

func TestPathPolicy_Allowed(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	other, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	policy := PathPolicy{Allowed: []string{filepath.Join(dir, "dbs"), filepath.ToSlash(other) + "/**/*.ql"}}

	_, err = policy.Resolve("db_path", filepath.Join(dir, "dbs", "python"))
	assert.NoError(t, err)
	_, err = policy.Resolve("db_path", filepath.Join(dir, "dbs-evil"))
	assert.Error(t, err)
	_, err = policy.Resolve("query_path", filepath.Join(other, "x", "a.ql"))
	assert.NoError(t, err)
	_, err = policy.Resolve("query_path", filepath.Join(other, "x", "a.qll"))
	assert.Error(t, err)
}

func TestPathPolicy_SymlinkEscape(t *testing.T) {
	allowed, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	outside, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	link := filepath.Join(allowed, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	policy := PathPolicy{Allowed: []string{allowed}}
	_, err = policy.Resolve("db_path", link)
	assert.Error(t, err)
}

func TestValidateDatabaseDir(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	_, err = ValidateDatabaseDir(PathPolicy{}, filepath.Join(dir, "missing"))
	assert.ErrorContains(t, err, "Database path does not exist")

	_, err = ValidateDatabaseDir(PathPolicy{}, dir)
	assert.ErrorContains(t, err, "Missing required src.zip in: "+dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.zip"), nil, 0o644))
	got, err := ValidateDatabaseDir(PathPolicy{}, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}
