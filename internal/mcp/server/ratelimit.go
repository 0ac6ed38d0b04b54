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
	"time"

	"golang.org/x/time/rate"
)

// heavyTools start long-running codeql processes and draw from the
// heavy limiter as well as the per-call one.
var heavyTools = map[string]bool{
	"create_database":   true,
	"analyze_database":  true,
	"run_security_scan": true,
}

// Limits bounds tool calls per minute. Zero disables a limit.
type Limits struct {
	CallsPerMinute int
	HeavyPerMinute int
}

// RateLimiter applies token bucket limits to MCP tool calls.
type RateLimiter struct {
	calls *rate.Limiter
	heavy *rate.Limiter
}

// NewRateLimiter creates a rate limiter. Each bucket starts full.
func NewRateLimiter(l Limits) *RateLimiter {
	return &RateLimiter{
		calls: perMinute(l.CallsPerMinute),
		heavy: perMinute(l.HeavyPerMinute),
	}
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

// AllowCall checks if any tool call is allowed.
func (rl *RateLimiter) AllowCall() bool {
	return rl.calls == nil || rl.calls.Allow()
}

// AllowHeavy checks if a heavy tool call is allowed.
func (rl *RateLimiter) AllowHeavy() bool {
	return rl.heavy == nil || rl.heavy.Allow()
}

// Allow checks the per-call limit and, for heavy tools, the heavy limit.
// A call rejected by the heavy limiter still consumes a per-call token.
func (rl *RateLimiter) Allow(heavy bool) bool {
	if !rl.AllowCall() {
		return false
	}
	return !heavy || rl.AllowHeavy()
}
