package llm

import (
	"context"
	"encoding/json"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

type Message struct {
	Role    string
	Content string
}

// Schema describes a structured reply. Providers that support tool use force
// a call to a tool named Name whose input must match Parameters.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ChatResponse struct {
	Content string
	Usage   *Usage
}

type StructuredResponse struct {
	// Payload is the raw JSON arguments of the structured call, nil when the
	// model answered without making the call.
	Payload json.RawMessage
	Usage   *Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type LLM interface {
	Chat(ctx context.Context, systemPrompt string, messages []Message) (*ChatResponse, error)
	Structured(ctx context.Context, systemPrompt string, messages []Message, schema Schema) (*StructuredResponse, error)
	Provider() string
	Model() string
}

// Decode unmarshals a structured payload into v, reporting ErrMalformedOutput
// when the payload is missing or does not parse.
func (r *StructuredResponse) Decode(v any) error {
	if r == nil || len(r.Payload) == 0 {
		return ErrMalformedOutput
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return wrapMalformed(err)
	}
	return nil
}
