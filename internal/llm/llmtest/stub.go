// Package llmtest provides a scripted llm.LLM for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bowerhall/kindred/internal/llm"
)

type Call struct {
	System   string
	Messages []llm.Message
	Schema   string // empty for plain chat
}

// Stub answers calls with the configured functions and records every call.
// A nil function answers with an empty response.
type Stub struct {
	ChatFunc       func(ctx context.Context, system string, messages []llm.Message) (*llm.ChatResponse, error)
	StructuredFunc func(ctx context.Context, system string, messages []llm.Message, schema llm.Schema) (*llm.StructuredResponse, error)

	mu    sync.Mutex
	calls []Call
}

func (s *Stub) Chat(ctx context.Context, system string, messages []llm.Message) (*llm.ChatResponse, error) {
	s.record(Call{System: system, Messages: messages})
	if s.ChatFunc == nil {
		return &llm.ChatResponse{}, nil
	}
	return s.ChatFunc(ctx, system, messages)
}

func (s *Stub) Structured(ctx context.Context, system string, messages []llm.Message, schema llm.Schema) (*llm.StructuredResponse, error) {
	s.record(Call{System: system, Messages: messages, Schema: schema.Name})
	if s.StructuredFunc == nil {
		return &llm.StructuredResponse{}, nil
	}
	return s.StructuredFunc(ctx, system, messages, schema)
}

func (s *Stub) Provider() string { return "stub" }
func (s *Stub) Model() string    { return "stub-model" }

func (s *Stub) record(c Call) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]llm.Message, len(c.Messages))
	copy(msgs, c.Messages)
	c.Messages = msgs
	s.calls = append(s.calls, c)
}

// Calls returns a copy of every call made so far.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Reply returns a fixed chat answer.
func Reply(text string) func(context.Context, string, []llm.Message) (*llm.ChatResponse, error) {
	return func(context.Context, string, []llm.Message) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: text, Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
	}
}

// Payload returns a fixed structured answer marshalled from v.
func Payload(v any) func(context.Context, string, []llm.Message, llm.Schema) (*llm.StructuredResponse, error) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return func(context.Context, string, []llm.Message, llm.Schema) (*llm.StructuredResponse, error) {
		return &llm.StructuredResponse{Payload: data, Usage: &llm.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}}, nil
	}
}

// Fail returns err from every structured call.
func Fail(err error) func(context.Context, string, []llm.Message, llm.Schema) (*llm.StructuredResponse, error) {
	return func(context.Context, string, []llm.Message, llm.Schema) (*llm.StructuredResponse, error) {
		return nil, err
	}
}
