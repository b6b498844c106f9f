package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func Load() (*Config, error) {
	databasePath := os.Getenv("KINDRED_DATABASE")
	if databasePath == "" {
		databasePath = "kindred.db"
	}

	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = "UTC"
	}

	listen := os.Getenv("KINDRED_LISTEN")
	if listen == "" {
		listen = ":8080"
	}

	llmConfig, err := loadLLMConfig("LLM", "claude")
	if err != nil {
		return nil, err
	}

	extractorConfig, err := loadLLMConfig("EXTRACTOR", llmConfig.Provider)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabasePath: databasePath,
		Timezone:     timezone,
		Listen:       listen,
		LLM:          llmConfig,
		Extractor:    extractorConfig,
		Voice:        loadVoiceConfig(),
		Storage:      loadStorageConfig(),
		Bots:         loadMultiBotConfig(),
		Budget:       loadBudgetConfig(),
		Pipeline:     loadPipelineConfig(),
		Dispatch:     loadDispatchConfig(),
		Sweep:        loadSweepConfig(),
	}

	if path := os.Getenv("KINDRED_CONFIG"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile overlays tunables from a YAML file. Only keys present in the
// file replace the environment values; secrets are never read from it.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	overlay := struct {
		Budget   *BudgetConfig   `yaml:"budget"`
		Pipeline *PipelineConfig `yaml:"pipeline"`
		Dispatch *DispatchConfig `yaml:"dispatch"`
		Sweep    *SweepConfig    `yaml:"sweep"`
	}{
		Budget:   &cfg.Budget,
		Pipeline: &cfg.Pipeline,
		Dispatch: &cfg.Dispatch,
		Sweep:    &cfg.Sweep,
	}

	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	return nil
}

func (c *Config) validate() error {
	if c.Pipeline.AggregateEvery < 1 {
		return fmt.Errorf("pipeline.aggregate_every must be at least 1, got %d", c.Pipeline.AggregateEvery)
	}
	if c.Pipeline.RetrievalThreshold < 1 {
		return fmt.Errorf("pipeline.retrieval_threshold must be at least 1, got %d", c.Pipeline.RetrievalThreshold)
	}
	if c.Pipeline.HistoryLimit < 0 {
		return fmt.Errorf("pipeline.history_limit must not be negative")
	}
	if c.Dispatch.Workers < 1 || c.Dispatch.QueueSize < 1 {
		return fmt.Errorf("dispatch workers and queue_size must be positive")
	}
	if c.Bots.Telegram.Enabled || c.Bots.Discord.Enabled {
		if c.Bots.OwnerID == "" {
			return fmt.Errorf("BOT_OWNER_ID must be set when a bot is enabled")
		}
	}
	return nil
}

func loadPipelineConfig() PipelineConfig {
	return PipelineConfig{
		AggregateEvery:     envInt("AGGREGATE_EVERY", 5),
		RetrievalThreshold: envInt("RETRIEVAL_THRESHOLD", 15),
		HistoryLimit:       envInt("HISTORY_LIMIT", 20),
		LLMTimeout:         envDuration("LLM_TIMEOUT", 90*time.Second),
		VoiceTimeout:       envDuration("VOICE_TIMEOUT", 30*time.Second),
		PersonaCacheTTL:    envDuration("PERSONA_CACHE_TTL", 10*time.Minute),
		DocumentTokenCap:   envInt("DOCUMENT_TOKEN_CAP", 1500),
	}
}

func loadDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Workers:    envInt("DISPATCH_WORKERS", 2),
		QueueSize:  envInt("DISPATCH_QUEUE", 256),
		JobTimeout: envDuration("DISPATCH_JOB_TIMEOUT", 5*time.Minute),
	}
}

func loadSweepConfig() SweepConfig {
	schedule := os.Getenv("SWEEP_SCHEDULE")
	if schedule == "" {
		schedule = "*/30 * * * *"
	}

	return SweepConfig{
		Enabled:  os.Getenv("SWEEP_ENABLED") != "false",
		Schedule: schedule,
		Grace:    envDuration("SWEEP_GRACE", 15*time.Minute),
	}
}

func loadBudgetConfig() BudgetConfig {
	enabled := os.Getenv("BUDGET_ENABLED") == "true"

	dailyLimit := 500000 // default 500k tokens
	if limit, err := strconv.Atoi(os.Getenv("BUDGET_DAILY_LIMIT")); err == nil && limit > 0 {
		dailyLimit = limit
	}

	warnAt := 0.8 // default 80%
	if warn, err := strconv.ParseFloat(os.Getenv("BUDGET_WARN_AT"), 64); err == nil && warn > 0 && warn < 1 {
		warnAt = warn
	}

	return BudgetConfig{
		Enabled:    enabled,
		DailyLimit: dailyLimit,
		WarnAt:     warnAt,
	}
}

func loadVoiceConfig() VoiceConfig {
	apiKey := os.Getenv("ELEVENLABS_API_KEY")

	baseURL := os.Getenv("VOICE_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}

	model := os.Getenv("VOICE_MODEL")
	if model == "" {
		model = "eleven_multilingual_v2"
	}

	return VoiceConfig{
		Enabled: apiKey != "",
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   model,
	}
}

func loadStorageConfig() StorageConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "minio:9000"
	}

	bucket := os.Getenv("MINIO_AUDIO_BUCKET")
	if bucket == "" {
		bucket = "kindred-audio"
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	return StorageConfig{
		Enabled:   accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		Bucket:    bucket,
	}
}

func loadMultiBotConfig() MultiBot {
	telegramToken := os.Getenv("TELEGRAM_TOKEN")
	discordToken := os.Getenv("DISCORD_TOKEN")

	return MultiBot{
		OwnerID: os.Getenv("BOT_OWNER_ID"),
		Voice:   os.Getenv("BOT_VOICE") == "true",
		Telegram: BotInstance{
			Enabled: telegramToken != "",
			Token:   telegramToken,
		},
		Discord: BotInstance{
			Enabled: discordToken != "",
			Token:   discordToken,
		},
	}
}

func loadLLMConfig(prefix, defaultProvider string) (LLMConfig, error) {
	provider := os.Getenv(prefix + "_PROVIDER")
	if provider == "" {
		provider = defaultProvider
	}

	apiKey, err := getAPIKey(provider, prefix)
	if err != nil {
		return LLMConfig{}, err
	}

	return LLMConfig{
		Provider: provider,
		APIKey:   apiKey,
		Model:    os.Getenv(prefix + "_MODEL"),
		BaseURL:  os.Getenv(prefix + "_BASE_URL"),
	}, nil
}

func getAPIKey(provider, prefix string) (string, error) {
	envKey := os.Getenv(prefix + "_API_KEY")
	if envKey != "" {
		return envKey, nil
	}

	switch provider {
	case "claude":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		return key, nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return "", fmt.Errorf("OPENAI_API_KEY not set")
		}
		return key, nil
	case "gemini":
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			return "", fmt.Errorf("GEMINI_API_KEY not set")
		}
		return key, nil
	case "ollama":
		// Ollama doesn't need an API key
		return "ollama", nil
	default:
		// convention: {PROVIDER}_API_KEY (e.g., MISTRAL_API_KEY, GROQ_API_KEY)
		key := os.Getenv(strings.ToUpper(provider) + "_API_KEY")
		if key == "" {
			return "", fmt.Errorf("no API key for provider %s", provider)
		}
		return key, nil
	}
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
