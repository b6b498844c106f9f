package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openaiCompatible struct {
	client   openai.Client
	provider string
	model    string
}

func newOpenAICompatible(provider, apiKey, baseURL, model string) LLM {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	)

	return &openaiCompatible{
		client:   client,
		provider: provider,
		model:    model,
	}
}

func (o *openaiCompatible) Chat(ctx context.Context, systemPrompt string, messages []Message) (*ChatResponse, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(systemPrompt, messages))
	if err != nil {
		return nil, o.classify(err)
	}

	result := &ChatResponse{Usage: openaiUsage(resp)}
	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
	}

	return result, nil
}

func (o *openaiCompatible) Structured(ctx context.Context, systemPrompt string, messages []Message, schema Schema) (*StructuredResponse, error) {
	params := o.params(systemPrompt, messages)
	params.Tools = []openai.ChatCompletionToolParam{
		{
			Function: openai.FunctionDefinitionParam{
				Name:        schema.Name,
				Description: openai.String(schema.Description),
				Parameters:  openai.FunctionParameters(schema.Parameters),
			},
		},
	}
	params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
		OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
			Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: schema.Name},
		},
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, o.classify(err)
	}

	result := &StructuredResponse{Usage: openaiUsage(resp)}
	if len(resp.Choices) == 0 {
		return result, nil
	}

	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name == schema.Name {
			result.Payload = json.RawMessage(call.Function.Arguments)
			break
		}
	}

	return result, nil
}

func (o *openaiCompatible) params(systemPrompt string, messages []Message) openai.ChatCompletionNewParams {
	var oaiMessages []openai.ChatCompletionMessageParamUnion

	if systemPrompt != "" {
		oaiMessages = append(oaiMessages, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			oaiMessages = append(oaiMessages, openai.AssistantMessage(msg.Content))
		default:
			oaiMessages = append(oaiMessages, openai.UserMessage(msg.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: oaiMessages,
	}
}

func (o *openaiCompatible) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classify(err, apiErr.StatusCode, apiErr.Code+" "+apiErr.Message)
	}
	return classify(err, 0, "")
}

func openaiUsage(resp *openai.ChatCompletion) *Usage {
	return &Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
}

func (o *openaiCompatible) Provider() string {
	return o.provider
}

func (o *openaiCompatible) Model() string {
	return o.model
}
