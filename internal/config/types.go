package config

import "time"

type Config struct {
	DatabasePath string
	Timezone     string
	Listen       string
	LLM          LLMConfig // conversation replies
	Extractor    LLMConfig // essence, personality and memory selection
	Voice        VoiceConfig
	Storage      StorageConfig
	Bots         MultiBot
	Budget       BudgetConfig   `yaml:"budget"`
	Pipeline     PipelineConfig `yaml:"pipeline"`
	Dispatch     DispatchConfig `yaml:"dispatch"`
	Sweep        SweepConfig    `yaml:"sweep"`
}

type LLMConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

type VoiceConfig struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Model   string
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type MultiBot struct {
	OwnerID  string // persona the bots speak as
	Voice    bool
	Telegram BotInstance
	Discord  BotInstance
}

type BotInstance struct {
	Enabled bool
	Token   string
}

type BudgetConfig struct {
	Enabled    bool    `yaml:"enabled"`
	DailyLimit int     `yaml:"daily_limit"`
	WarnAt     float64 `yaml:"warn_at"`
}

// PipelineConfig holds the enrichment and conversation tunables.
type PipelineConfig struct {
	AggregateEvery     int           `yaml:"aggregate_every"`
	RetrievalThreshold int           `yaml:"retrieval_threshold"`
	HistoryLimit       int           `yaml:"history_limit"`
	LLMTimeout         time.Duration `yaml:"llm_timeout"`
	VoiceTimeout       time.Duration `yaml:"voice_timeout"`
	PersonaCacheTTL    time.Duration `yaml:"persona_cache_ttl"`
	DocumentTokenCap   int           `yaml:"document_token_cap"`
}

type DispatchConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	Grace    time.Duration `yaml:"grace"`
}
