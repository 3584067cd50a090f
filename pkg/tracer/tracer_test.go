// Copyright 2021-2024 EMQ Technologies Co., Ltd.
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

package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestLocalSpans(t *testing.T) {
	Reset(2)
	tr := GetTracer()
	for _, name := range []string{"s0", "s1", "s2"} {
		_, span := tr.Start(context.Background(), name, trace.WithAttributes(RuleAttr("r1"), attribute.Int64("checkpoint.id", 1)))
		span.End()
	}
	_, span := tr.Start(context.Background(), "other", trace.WithAttributes(RuleAttr("r2")))
	span.End()
	spans := GetSpansByRuleID("r1")
	// capacity 2, s0 and s1 are dropped
	require.Len(t, spans, 1)
	assert.Equal(t, "s2", spans[0].Name)
	assert.Equal(t, int64(1), spans[0].Attribute["checkpoint.id"])
	assert.False(t, spans[0].EndTime.Before(spans[0].StartTime))
	require.Len(t, GetSpansByRuleID("r2"), 1)
	assert.Empty(t, GetSpansByRuleID("r3"))
}
