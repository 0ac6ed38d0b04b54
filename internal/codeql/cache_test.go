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
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingLoad(calls *atomic.Int32, lang string) func() (*DatabaseInfo, error) {
	return func() (*DatabaseInfo, error) {
		calls.Add(1)
		return &DatabaseInfo{Language: lang}, nil
	}
}

func TestInfoCache_KeyIncludesBinary(t *testing.T) {
	c := NewInfoCache(CacheConfig{Size: 4})
	var calls atomic.Int32

	a, err := c.Get(context.Background(), "/opt/codeql-2.19/codeql", "/db", countingLoad(&calls, "go"))
	require.NoError(t, err)
	b, err := c.Get(context.Background(), "/opt/codeql-2.20/codeql", "/db", countingLoad(&calls, "go"))
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, c.Len())

	c.Invalidate("/db")
	assert.Zero(t, c.Len())
}

func TestInfoCache_SizeBound(t *testing.T) {
	c := NewInfoCache(CacheConfig{Size: 2})
	var calls atomic.Int32

	for _, p := range []string{"/a", "/b", "/c"} {
		_, err := c.Get(context.Background(), "codeql", p, countingLoad(&calls, "go"))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())

	// "/a" was least recently used and must be reloaded.
	_, err := c.Get(context.Background(), "codeql", "/a", countingLoad(&calls, "go"))
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestInfoCache_TTL(t *testing.T) {
	c := NewInfoCache(CacheConfig{Size: 2, TTL: 50 * time.Millisecond})
	var calls atomic.Int32

	_, err := c.Get(context.Background(), "codeql", "/db", countingLoad(&calls, "go"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, 2*time.Second, 20*time.Millisecond)

	_, err = c.Get(context.Background(), "codeql", "/db", countingLoad(&calls, "go"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInfoCache_LoadErrorNotCached(t *testing.T) {
	c := NewInfoCache(CacheConfig{})
	boom := errors.New("boom")

	_, err := c.Get(context.Background(), "codeql", "/db", func() (*DatabaseInfo, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
}

func TestInfoCache_Clear(t *testing.T) {
	c := NewInfoCache(CacheConfig{})
	var calls atomic.Int32

	for _, p := range []string{"/a", "/b"} {
		_, err := c.Get(context.Background(), "codeql", p, countingLoad(&calls, "go"))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Clear())
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Clear())
}

func TestInfoCache_WatchInvalidatesOnChange(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	c := NewInfoCache(CacheConfig{Watch: true, Debounce: 20 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })
	if c.watcher == nil {
		t.Skip("file watching unavailable")
	}

	var calls atomic.Int32
	_, err = c.Get(context.Background(), "codeql", dir, countingLoad(&calls, "python"))
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "codeql-database.yml"), []byte("primaryLanguage: python\n"), 0o644))

	assert.Eventually(t, func() bool { return c.Len() == 0 }, 5*time.Second, 20*time.Millisecond)
}
