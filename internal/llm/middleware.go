package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bowerhall/kindred/internal/logger"
)

// Bounded applies a per-call timeout. A call that outlives it fails with
// ErrTimeout even when the provider reports a different transport error.
func Bounded(inner LLM, timeout time.Duration) LLM {
	if timeout <= 0 {
		return inner
	}
	return &bounded{LLM: inner, timeout: timeout}
}

type bounded struct {
	LLM
	timeout time.Duration
}

func (b *bounded) Chat(ctx context.Context, systemPrompt string, messages []Message) (*ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.LLM.Chat(callCtx, systemPrompt, messages)
	return resp, b.deadline(callCtx, ctx, err)
}

func (b *bounded) Structured(ctx context.Context, systemPrompt string, messages []Message, schema Schema) (*StructuredResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.LLM.Structured(callCtx, systemPrompt, messages, schema)
	return resp, b.deadline(callCtx, ctx, err)
}

func (b *bounded) deadline(callCtx, parent context.Context, err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, b.timeout, err)
	}
	return err
}

// Recorder receives token usage after every successful call. Allow reports
// whether the budget still has room.
type Recorder interface {
	Allow() bool
	Record(stage, provider, model string, inputTokens, outputTokens int) bool
}

// Metered records usage per stage and refuses calls once the budget is spent.
func Metered(inner LLM, recorder Recorder) LLM {
	if recorder == nil {
		return inner
	}
	return &metered{LLM: inner, recorder: recorder}
}

type metered struct {
	LLM
	recorder Recorder
}

func (m *metered) Chat(ctx context.Context, systemPrompt string, messages []Message) (*ChatResponse, error) {
	if !m.recorder.Allow() {
		return nil, fmt.Errorf("%w: daily token budget spent", ErrQuotaExceeded)
	}

	resp, err := m.LLM.Chat(ctx, systemPrompt, messages)
	if err != nil {
		return nil, err
	}

	m.record(ctx, resp.Usage)
	return resp, nil
}

func (m *metered) Structured(ctx context.Context, systemPrompt string, messages []Message, schema Schema) (*StructuredResponse, error) {
	if !m.recorder.Allow() {
		return nil, fmt.Errorf("%w: daily token budget spent", ErrQuotaExceeded)
	}

	resp, err := m.LLM.Structured(ctx, systemPrompt, messages, schema)
	if err != nil {
		return nil, err
	}

	m.record(ctx, resp.Usage)
	return resp, nil
}

func (m *metered) record(ctx context.Context, usage *Usage) {
	if usage == nil {
		return
	}

	stage := StageFrom(ctx)
	if !m.recorder.Record(stage, m.Provider(), m.Model(), usage.PromptTokens, usage.CompletionTokens) {
		logger.Warn("token budget exhausted", "stage", stage, "model", m.Model())
	}
}
