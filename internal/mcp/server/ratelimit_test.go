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

package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_ZeroDisables(t *testing.T) {
	rl := NewRateLimiter(Limits{})
	for i := 0; i < 1000; i++ {
		assert.True(t, rl.Allow(true))
	}
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(Limits{CallsPerMinute: 3})

	assert.True(t, rl.AllowCall())
	assert.True(t, rl.AllowCall())
	assert.True(t, rl.AllowCall())
	assert.False(t, rl.AllowCall())
}

func TestRateLimiter_HeavyConsumesCallToken(t *testing.T) {
	rl := NewRateLimiter(Limits{CallsPerMinute: 2, HeavyPerMinute: 1})

	assert.True(t, rl.Allow(true))
	assert.False(t, rl.Allow(true))
	// Both tokens of the call bucket are gone.
	assert.False(t, rl.Allow(false))
}

func TestRateLimiter_LightIgnoresHeavyBucket(t *testing.T) {
	rl := NewRateLimiter(Limits{HeavyPerMinute: 1})

	assert.True(t, rl.Allow(true))
	assert.False(t, rl.AllowHeavy())
	assert.True(t, rl.Allow(false))
}
