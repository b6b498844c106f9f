package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const claudeMaxTokens = 4096

type claude struct {
	client anthropic.Client
	model  string
}

func newClaude(apiKey, model string) LLM {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	// retries are left to callers; rate limits must surface immediately
	client := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &claude{client: client, model: model}
}

func (c *claude) Chat(ctx context.Context, systemPrompt string, messages []Message) (*ChatResponse, error) {
	params := c.params(systemPrompt, messages)

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, c.classify(err)
	}

	result := &ChatResponse{Usage: claudeUsage(resp)}
	for _, block := range resp.Content {
		if block.Type == "text" {
			result.Content += block.Text
		}
	}

	return result, nil
}

func (c *claude) Structured(ctx context.Context, systemPrompt string, messages []Message, schema Schema) (*StructuredResponse, error) {
	params := c.params(systemPrompt, messages)
	params.Tools = []anthropic.ToolUnionParam{convertSchema(schema)}
	params.ToolChoice = anthropic.ToolChoiceUnionParam{
		OfTool: &anthropic.ToolChoiceToolParam{Name: schema.Name},
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, c.classify(err)
	}

	result := &StructuredResponse{Usage: claudeUsage(resp)}
	for _, block := range resp.Content {
		if block.Type == "tool_use" && block.Name == schema.Name {
			result.Payload = block.Input
			break
		}
	}

	return result, nil
}

func (c *claude) params(systemPrompt string, messages []Message) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: claudeMaxTokens,
		Messages:  convertClaudeMessages(messages),
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	return params
}

func (c *claude) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classify(err, apiErr.StatusCode, apiErr.Error())
	}
	return classify(err, 0, "")
}

func convertClaudeMessages(messages []Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return result
}

func convertSchema(schema Schema) anthropic.ToolUnionParam {
	// extract properties and required from the full schema
	props := make(map[string]any)
	var required []string

	if p, ok := schema.Parameters["properties"].(map[string]any); ok {
		props = p
	}
	if r, ok := schema.Parameters["required"].([]string); ok {
		required = r
	}

	inputSchema := anthropic.ToolInputSchemaParam{
		Properties: props,
	}
	if len(required) > 0 {
		inputSchema.ExtraFields = map[string]any{"required": required}
	}

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        schema.Name,
			Description: anthropic.String(schema.Description),
			InputSchema: inputSchema,
		},
	}
}

func claudeUsage(resp *anthropic.Message) *Usage {
	return &Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
}

func (c *claude) Provider() string {
	return "claude"
}

func (c *claude) Model() string {
	return c.model
}
