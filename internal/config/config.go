// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultInstructions = "Você é um especialista técnico em robótica industrial com amplo conhecimento " +
	"nos manuais FANUC. Responda às perguntas de forma clara e técnica, citando sempre as páginas " +
	"relevantes do manual."

type Config struct {
	Documents DocumentsConfig
	Assistant AssistantConfig
	OpenAI    OpenAIConfig
	Translate TranslateConfig
	Polling   PollingConfig
	HTTP      HTTPConfig
	AWS       AWSConfig
	Logging   LoggingConfig

	MaxQuestionLength int
	ModerateQuestions bool
	// SessionID is the session used by the terminal tutor. Empty means a new one per process.
	SessionID string
}

type DocumentsConfig struct {
	Dir             string
	VectorStoreName string
}

type AssistantConfig struct {
	Name         string
	Instructions string
	Model        string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

type TranslateConfig struct {
	Enabled bool
	Target  string
	BaseURL string
	APIKey  string
}

type PollingConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

type HTTPConfig struct {
	// RequestTimeout bounds each Lambda request. API Gateway gives up after
	// about 29s, so the default leaves room to answer with a timeout. Zero disables it.
	RequestTimeout time.Duration
}

type AWSConfig struct {
	StateTable  string
	ParamPrefix string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the given .env files (".env" when none are given) and then the
// environment. Missing .env files are ignored; malformed values are errors.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	p := &parser{}
	cfg := &Config{
		Documents: DocumentsConfig{
			Dir:             getEnv("DOCS_DIR", "files"),
			VectorStoreName: getEnv("VECTOR_STORE_NAME", "Manual_FANUC"),
		},
		Assistant: AssistantConfig{
			Name:         getEnv("ASSISTANT_NAME", "Especialista FANUC"),
			Instructions: getEnv("ASSISTANT_INSTRUCTIONS", defaultInstructions),
			Model:        getEnv("OPENAI_MODEL", "gpt-4-turbo-preview"),
		},
		OpenAI: OpenAIConfig{
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			APIKey:  getEnv("OPENAI_API_KEY", ""),
		},
		Translate: TranslateConfig{
			Enabled: p.bool("TRANSLATE_ENABLED", false),
			Target:  getEnv("TRANSLATE_TARGET", "pt"),
			BaseURL: getEnv("TRANSLATE_BASE_URL", ""),
			APIKey:  getEnv("TRANSLATE_API_KEY", ""),
		},
		Polling: PollingConfig{
			Interval:    p.duration("POLL_INTERVAL", time.Second),
			MaxAttempts: p.int("POLL_MAX_ATTEMPTS", 300),
		},
		HTTP: HTTPConfig{
			RequestTimeout: p.duration("REQUEST_TIMEOUT", 28*time.Second),
		},
		AWS: AWSConfig{
			StateTable:  getEnv("STATE_TABLE", ""),
			ParamPrefix: getEnv("PARAM_PREFIX", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		MaxQuestionLength: p.int("MAX_QUESTION_LENGTH", 2000),
		ModerateQuestions: p.bool("MODERATE_QUESTIONS", false),
		SessionID:         getEnv("SESSION_ID", ""),
	}
	if len(p.errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(p.errs...))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Polling.Interval <= 0 {
		return errors.New("config: POLL_INTERVAL must be positive")
	}
	if c.Polling.MaxAttempts <= 0 {
		return errors.New("config: POLL_MAX_ATTEMPTS must be positive")
	}
	if c.HTTP.RequestTimeout < 0 {
		return errors.New("config: REQUEST_TIMEOUT must not be negative")
	}
	if c.MaxQuestionLength <= 0 {
		return errors.New("config: MAX_QUESTION_LENGTH must be positive")
	}
	if c.Translate.Enabled && c.Translate.Target == "" {
		return errors.New("config: TRANSLATE_TARGET is required when translation is enabled")
	}
	if c.OpenAI.APIKey == "" && c.AWS.ParamPrefix == "" {
		return errors.New("config: set OPENAI_API_KEY or PARAM_PREFIX")
	}
	if c.Translate.Enabled && c.Translate.APIKey == "" && c.AWS.ParamPrefix == "" {
		return errors.New("config: set TRANSLATE_API_KEY or PARAM_PREFIX when translation is enabled")
	}
	return nil
}

// NeedsAWS reports whether any AWS-backed component is configured.
func (c *Config) NeedsAWS() bool {
	return c.AWS.StateTable != "" || c.AWS.ParamPrefix != ""
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parser collects every malformed value instead of stopping at the first.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func (p *parser) bool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}
