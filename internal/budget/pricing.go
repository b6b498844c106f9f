package budget

import "strings"

type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// USD per million tokens
var pricing = map[string]ModelPricing{
	"claude-sonnet-4-20250514":  {3.00, 15.00},
	"claude-opus-4-1-20250805":  {15.00, 75.00},
	"claude-3-5-haiku-20241022": {0.80, 4.00},

	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4.1":     {2.00, 8.00},

	"gemini-2.5-flash": {0.30, 2.50},
	"gemini-2.5-pro":   {1.25, 10.00},

	"mistral-large-latest":    {2.00, 6.00},
	"llama-3.3-70b-versatile": {0.59, 0.79},
	"deepseek-chat":           {0.27, 1.10},
}

// fallback for models missing from the table
var unknownPricing = ModelPricing{5.00, 15.00}

func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		// local ollama tags look like name:size
		if strings.HasPrefix(model, "ollama/") || strings.Contains(model, ":") {
			return 0
		}
		p = unknownPricing
	}

	inputCost := float64(inputTokens) * p.InputPerMillion / 1_000_000
	outputCost := float64(outputTokens) * p.OutputPerMillion / 1_000_000
	return inputCost + outputCost
}
