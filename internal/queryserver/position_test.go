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

package queryserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleQuery = `
import python

class MyTestClass extends Expr {
    MyTestClass() { this.isCall() }
}

predicate isVulnerable(Expr e) {
    e.isCall()
}

boolean myPredicate(Node n) {
    result = true
}

// class Commented extends Expr
from MyTestClass mtc
select mtc
`

func writeQuery(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ql")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFindClassPosition(t *testing.T) {
	file := writeQuery(t, sampleQuery)

	pos, err := FindClassPosition(file, "MyTestClass")
	require.NoError(t, err)
	assert.Equal(t, 4, pos.Line)
	assert.Equal(t, 7, pos.Column)
	assert.Equal(t, 4, pos.EndLine)
	assert.Equal(t, pos.Column+len("MyTestClass"), pos.EndColumn)
	assert.Equal(t, file, pos.FileName)
}

func TestFindClassPosition_NotFound(t *testing.T) {
	file := writeQuery(t, "// No class here")

	_, err := FindClassPosition(file, "NonExistent")
	require.Error(t, err)
	assert.Equal(t, "Class name 'NonExistent' not found", err.Error())
}

func TestFindClassPosition_SkipsComments(t *testing.T) {
	file := writeQuery(t, sampleQuery)

	_, err := FindClassPosition(file, "Commented")
	assert.EqualError(t, err, "Class name 'Commented' not found")
}

func TestFindPredicatePosition(t *testing.T) {
	file := writeQuery(t, sampleQuery)

	pos, err := FindPredicatePosition(file, "isVulnerable")
	require.NoError(t, err)
	assert.Equal(t, 8, pos.Line)
	assert.Equal(t, 11, pos.Column)
	assert.Equal(t, 11+len("isVulnerable"), pos.EndColumn)

	pos, err = FindPredicatePosition(file, "myPredicate")
	require.NoError(t, err)
	assert.Equal(t, 12, pos.Line)
	assert.Equal(t, 9, pos.Column)

	_, err = FindPredicatePosition(file, "nonExistent")
	assert.EqualError(t, err, "Predicate name 'nonExistent' not found")
}

func TestFindPredicatePosition_SkipsCallSites(t *testing.T) {
	file := writeQuery(t, `import python

from Expr e
where
  not isSafe(e)
  and isSafe(e)
select e

private DataFlow::Node helper(Expr e) { isSafe(e) and result.asExpr() = e }

pragma[inline] predicate isSafe(Expr e) {
  e.isConstant()
}
`)

	pos, err := FindPredicatePosition(file, "isSafe")
	require.NoError(t, err)
	assert.Equal(t, 11, pos.Line)
	assert.Equal(t, 26, pos.Column)
	assert.Equal(t, 26+len("isSafe"), pos.EndColumn)

	pos, err = FindPredicatePosition(file, "helper")
	require.NoError(t, err)
	assert.Equal(t, 9, pos.Line)
	assert.Equal(t, 24, pos.Column)
}

func TestFindSymbolPosition(t *testing.T) {
	file := writeQuery(t, sampleQuery)

	pos, err := FindSymbolPosition(file, "MyTestClass")
	require.NoError(t, err)
	assert.Equal(t, 4, pos.Line)

	pos, err = FindSymbolPosition(file, "isVulnerable")
	require.NoError(t, err)
	assert.Equal(t, 8, pos.Line)

	_, err = FindSymbolPosition(file, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Symbol 'missing' not found in "+file)
}

func TestFindSymbolPosition_MissingFile(t *testing.T) {
	_, err := FindSymbolPosition(filepath.Join(t.TempDir(), "nope.ql"), "X")
	assert.True(t, os.IsNotExist(err))
}
