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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "barrierflow"
	RuleKey     = "rule.id"
)

var globalTracerManager = &GlobalTracerManager{}

// LocalSpan is the finished span kept in memory for inspection
type LocalSpan struct {
	Name      string                 `json:"name"`
	TraceID   string                 `json:"traceID"`
	SpanID    string                 `json:"spanID"`
	Attribute map[string]interface{} `json:"attribute,omitempty"`
	StartTime time.Time              `json:"startTime"`
	EndTime   time.Time              `json:"endTime"`
	RuleID    string                 `json:"ruleID"`
}

func FromReadonlySpan(span sdktrace.ReadOnlySpan) *LocalSpan {
	ls := &LocalSpan{
		Name:      span.Name(),
		TraceID:   span.SpanContext().TraceID().String(),
		SpanID:    span.SpanContext().SpanID().String(),
		StartTime: span.StartTime(),
		EndTime:   span.EndTime(),
		Attribute: make(map[string]interface{}),
	}
	for _, kv := range span.Attributes() {
		if kv.Key == RuleKey {
			ls.RuleID = kv.Value.AsString()
			continue
		}
		ls.Attribute[string(kv.Key)] = kv.Value.AsInterface()
	}
	return ls
}

// GlobalTracerManager keeps the latest finished spans of every rule up to the capacity
type GlobalTracerManager struct {
	sync.RWMutex
	Init     bool
	capacity int
	spans    []*LocalSpan
}

func (g *GlobalTracerManager) InitIfNot() {
	g.Lock()
	defer g.Unlock()
	if g.Init {
		return
	}
	g.init(1024)
}

func (g *GlobalTracerManager) init(capacity int) {
	g.capacity = capacity
	g.spans = nil
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(g))
	otel.SetTracerProvider(tp)
	g.Init = true
}

func (g *GlobalTracerManager) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	g.Lock()
	defer g.Unlock()
	for _, s := range spans {
		g.spans = append(g.spans, FromReadonlySpan(s))
	}
	if n := len(g.spans) - g.capacity; n > 0 {
		g.spans = append([]*LocalSpan{}, g.spans[n:]...)
	}
	return nil
}

func (g *GlobalTracerManager) Shutdown(_ context.Context) error {
	return nil
}

func (g *GlobalTracerManager) spansOf(ruleID string) []*LocalSpan {
	g.RLock()
	defer g.RUnlock()
	var result []*LocalSpan
	for _, s := range g.spans {
		if s.RuleID == ruleID {
			result = append(result, s)
		}
	}
	return result
}

func GetTracer() trace.Tracer {
	globalTracerManager.InitIfNot()
	return otel.GetTracerProvider().Tracer(serviceName)
}

// Reset drops all kept spans and sets the capacity
func Reset(capacity int) {
	globalTracerManager.Lock()
	defer globalTracerManager.Unlock()
	globalTracerManager.init(capacity)
}

// GetSpansByRuleID returns the finished spans of a rule in finishing order
func GetSpansByRuleID(ruleID string) []*LocalSpan {
	return globalTracerManager.spansOf(ruleID)
}

func RuleAttr(ruleID string) attribute.KeyValue {
	return attribute.String(RuleKey, ruleID)
}
