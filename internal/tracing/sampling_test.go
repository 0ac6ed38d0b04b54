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

package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func sample(s sdktrace.Sampler, attrs ...attribute.KeyValue) sdktrace.SamplingDecision {
	return s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Name:          "tool evaluate_query",
		Attributes:    attrs,
	}).Decision
}

func TestNewSampler_DisabledSamplesAll(t *testing.T) {
	s := NewSampler(SamplingConfig{Enabled: false, Rate: 0})
	assert.Equal(t, sdktrace.RecordAndSample, sample(s))
}

func TestNewSampler_ZeroRate(t *testing.T) {
	s := NewSampler(SamplingConfig{Enabled: true, Rate: 0})
	assert.Equal(t, sdktrace.Drop, sample(s))
}

func TestNewSampler_ErrorsAlwaysSampled(t *testing.T) {
	s := NewSampler(SamplingConfig{Enabled: true, Rate: 0, AlwaysSampleErrors: true})

	assert.Equal(t, sdktrace.Drop, sample(s))
	assert.Equal(t, sdktrace.RecordAndSample, sample(s, attribute.String(StatusAttribute, "error")))
	assert.Equal(t, sdktrace.RecordAndSample, sample(s, attribute.Bool("error", true)))
	assert.Contains(t, s.Description(), "ErrorAwareSampler")
}
