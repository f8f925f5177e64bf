package config

import (
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server       ServerConfig
	OpenAI       OpenAIConfig
	Store        StoreConfig
	Orchestrator OrchestratorConfig
}

type ServerConfig struct {
	Port         string        `envconfig:"SERVER_PORT" default:"8000"`
	Host         string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
}

type OpenAIConfig struct {
	APIKey      string `envconfig:"OPENAI_API_KEY" required:"true"`
	APIEndpoint string `envconfig:"OPENAI_ENDPOINT" default:"https://api.openai.com/v1"`
	Model       string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
}

type StoreConfig struct {
	// IndexPath is the on-disk bleve index written by the ingestion pipeline.
	IndexPath string        `envconfig:"STORE_INDEX_PATH" default:"data/serp.bleve"`
	Timeout   time.Duration `envconfig:"STORE_TIMEOUT" default:"15s"`
}

type OrchestratorConfig struct {
	// MaxToolSteps caps the standard path's tool-calling loop.
	MaxToolSteps int `envconfig:"ORCH_MAX_TOOL_STEPS" default:"8"`

	// GuardRetries is the schema-repair retry budget after the first attempt.
	GuardRetries int `envconfig:"ORCH_GUARD_RETRIES" default:"2"`

	// ModelCallTimeout bounds each outbound LLM call.
	ModelCallTimeout time.Duration `envconfig:"ORCH_MODEL_CALL_TIMEOUT" default:"60s"`
}

func LoadConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("configuration loaded successfully")
	return &cfg, nil
}
