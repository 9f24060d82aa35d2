package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderDummy     = "dummy"
)

// History backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// RelayConfig holds configuration for the relay process. It is read once
// at startup.
type RelayConfig struct {
	ListenAddr          string
	StaticDir           string
	EnvFile             string
	ModelProvider       string
	OpenAIAPIKey        string
	OpenAIChatCompURL   string
	OpenAIModel         string
	AnthropicAPIKey     string
	AnthropicModel      string
	MaxTokens           int
	Temperature         float64
	UpstreamTimeout     time.Duration
	Persona             string
	PersonaFile         string
	HistoryBackend      string
	HistoryWindow       int
	DBPath              string
	PostgresDSN         string
	SessionIdleTTL      time.Duration
	SweepSchedule       string
	RestrictMethods     bool
	DummyProviderScript string
	LogLevel            string
}

// LoadRelayConfig reads relay configuration from the process environment
// and the key=value file named by RELAY_ENV_FILE (default ".env"). Values
// in the file take precedence. A missing file is not an error.
func LoadRelayConfig() (RelayConfig, error) {
	envFile := envOrDefault("RELAY_ENV_FILE", ".env")
	fileVars, err := ReadEnvFile(envFile)
	if err != nil {
		return RelayConfig{}, err
	}
	e := source{file: fileVars}

	cfg := RelayConfig{
		ListenAddr:          e.orDefault("RELAY_LISTEN_ADDR", ":3456"),
		StaticDir:           e.orDefault("RELAY_STATIC_DIR", "./public"),
		EnvFile:             envFile,
		ModelProvider:       strings.ToLower(e.orDefault("RELAY_MODEL_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:        e.get("OPENAI_API_KEY"),
		OpenAIChatCompURL:   e.orDefault("OPENAI_CHAT_COMPLETIONS_URL", "https://api.openai.com/v1/chat/completions"),
		OpenAIModel:         e.orDefault("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicAPIKey:     e.get("ANTHROPIC_API_KEY"),
		AnthropicModel:      e.orDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		Persona:             e.orDefault("RELAY_PERSONA", "hoodtoly"),
		PersonaFile:         e.get("RELAY_PERSONA_FILE"),
		HistoryBackend:      strings.ToLower(e.orDefault("RELAY_HISTORY_BACKEND", BackendMemory)),
		DBPath:              e.orDefault("RELAY_DB_PATH", "./relay.db"),
		PostgresDSN:         e.get("RELAY_POSTGRES_DSN"),
		SweepSchedule:       e.orDefault("RELAY_SWEEP_SCHEDULE", "@every 5m"),
		RestrictMethods:     e.boolOrDefault("RELAY_RESTRICT_METHODS", false),
		DummyProviderScript: e.orDefault("RELAY_DUMMY_PROVIDER_SCRIPT", "ok"),
		LogLevel:            e.orDefault("RELAY_LOG_LEVEL", "info"),
	}

	if cfg.MaxTokens, err = e.intOrDefault("RELAY_MAX_TOKENS", 150); err != nil {
		return RelayConfig{}, err
	}
	if cfg.Temperature, err = e.floatOrDefault("RELAY_TEMPERATURE", 0.9); err != nil {
		return RelayConfig{}, err
	}
	if cfg.HistoryWindow, err = e.intOrDefault("RELAY_HISTORY_WINDOW", 20); err != nil {
		return RelayConfig{}, err
	}
	timeoutSeconds, err := e.intOrDefault("RELAY_UPSTREAM_TIMEOUT_SECONDS", 0)
	if err != nil {
		return RelayConfig{}, err
	}
	cfg.UpstreamTimeout = time.Duration(timeoutSeconds) * time.Second
	idleSeconds, err := e.intOrDefault("RELAY_SESSION_IDLE_TTL_SECONDS", 0)
	if err != nil {
		return RelayConfig{}, err
	}
	cfg.SessionIdleTTL = time.Duration(idleSeconds) * time.Second

	if err := cfg.validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func (c RelayConfig) validate() error {
	switch c.ModelProvider {
	case ProviderOpenAI, ProviderAnthropic, ProviderDummy:
	default:
		return fmt.Errorf("RELAY_MODEL_PROVIDER must be one of openai, anthropic, dummy; got %q", c.ModelProvider)
	}
	switch c.HistoryBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("RELAY_POSTGRES_DSN is required when RELAY_HISTORY_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("RELAY_HISTORY_BACKEND must be one of memory, sqlite, postgres; got %q", c.HistoryBackend)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("RELAY_MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("RELAY_TEMPERATURE must be within [0, 2], got %v", c.Temperature)
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("RELAY_HISTORY_WINDOW must be positive, got %d", c.HistoryWindow)
	}
	if c.UpstreamTimeout < 0 {
		return fmt.Errorf("RELAY_UPSTREAM_TIMEOUT_SECONDS must not be negative")
	}
	if c.SessionIdleTTL < 0 {
		return fmt.Errorf("RELAY_SESSION_IDLE_TTL_SECONDS must not be negative")
	}
	return nil
}

// CredentialVar names the variable holding the active provider's key.
func (c RelayConfig) CredentialVar() string {
	switch c.ModelProvider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderDummy:
		return ""
	default:
		return "OPENAI_API_KEY"
	}
}

// APIKey returns the credential for the active provider.
func (c RelayConfig) APIKey() string {
	switch c.ModelProvider {
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	default:
		return ""
	}
}

// Live reports whether completions can be requested. The dummy provider
// needs no credential.
func (c RelayConfig) Live() bool {
	return c.ModelProvider == ProviderDummy || c.APIKey() != ""
}

// FallbackNote is the advisory returned with canned replies.
func (c RelayConfig) FallbackNote() string {
	return fmt.Sprintf("Add %s to %s for real AI responses", c.CredentialVar(), c.EnvFile)
}

type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v, ok := s.file[key]; ok && v != "" {
		return v
	}
	return os.Getenv(key)
}

func (s source) orDefault(key, fallback string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return fallback
}

func (s source) intOrDefault(key string, fallback int) (int, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func (s source) floatOrDefault(key string, fallback float64) (float64, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func (s source) boolOrDefault(key string, fallback bool) bool {
	v := s.get(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
