package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type gemini struct {
	client *genai.Client
	model  string
}

func newGemini(ctx context.Context, apiKey, model string) (LLM, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &gemini{client: client, model: model}, nil
}

func (g *gemini) Chat(ctx context.Context, systemPrompt string, messages []Message) (*ChatResponse, error) {
	res, err := g.client.Models.GenerateContent(ctx, g.model, convertGeminiContents(messages), g.config(systemPrompt))
	if err != nil {
		return nil, g.classify(err)
	}

	return &ChatResponse{Content: res.Text(), Usage: geminiUsage(res)}, nil
}

// Structured uses JSON mode with a response schema rather than a function
// call; the reply text is the payload.
func (g *gemini) Structured(ctx context.Context, systemPrompt string, messages []Message, schema Schema) (*StructuredResponse, error) {
	cfg := g.config(systemPrompt)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseJsonSchema = schema.Parameters

	res, err := g.client.Models.GenerateContent(ctx, g.model, convertGeminiContents(messages), cfg)
	if err != nil {
		return nil, g.classify(err)
	}

	result := &StructuredResponse{Usage: geminiUsage(res)}
	if text := strings.TrimSpace(res.Text()); text != "" {
		result.Payload = json.RawMessage(text)
	}

	return result, nil
}

func (g *gemini) config(systemPrompt string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	return cfg
}

func convertGeminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	return contents
}

func (g *gemini) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classify(err, apiErr.Code, apiErr.Status+" "+apiErr.Message)
	}
	return classify(err, 0, "")
}

func geminiUsage(res *genai.GenerateContentResponse) *Usage {
	if res.UsageMetadata == nil {
		return nil
	}

	prompt := int(res.UsageMetadata.PromptTokenCount)
	completion := int(res.UsageMetadata.CandidatesTokenCount)

	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func (g *gemini) Provider() string {
	return "gemini"
}

func (g *gemini) Model() string {
	return g.model
}
