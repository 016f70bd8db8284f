package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Engine backends accepted by ENGINE_BACKEND.
const (
	BackendHTTP = "http"
	BackendExec = "exec"
)

// Config holds all configuration for the synthesis gateway
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Prefix for audioUrl and previewUrl in API responses. Relative URLs are returned when empty.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:""`

	// Synthesis engine
	EngineBackend     string  `envconfig:"ENGINE_BACKEND" default:"http"` // http or exec
	EngineURL         string  `envconfig:"ENGINE_URL" default:"http://localhost:8000"`
	EngineTimeout     int     `envconfig:"ENGINE_TIMEOUT" default:"120"` // seconds per engine call
	EngineBinary      string  `envconfig:"ENGINE_BINARY" default:"tts"`
	EngineModel       string  `envconfig:"ENGINE_MODEL" default:"tts_models/multilingual/multi-dataset/xtts_v2"`
	EngineDevice      string  `envconfig:"ENGINE_DEVICE" default:"cpu"` // cpu, cuda
	EngineTemperature float64 `envconfig:"ENGINE_TEMPERATURE" default:"0.75"`
	CloneTemperature  float64 `envconfig:"CLONE_TEMPERATURE" default:"0.7"`

	// Hold a single process-wide lock around every engine call.
	EngineSerialized bool `envconfig:"ENGINE_SERIALIZED" default:"true"`

	// Orchestrator
	Workers            int      `envconfig:"WORKERS" default:"4"`
	MaxTextLength      int      `envconfig:"MAX_TEXT_LENGTH" default:"1000"` // characters
	SupportedLanguages []string `envconfig:"SUPPORTED_LANGUAGES" default:"en,zh-cn,es,fr,de,it,pt,ru,tr,ja"`
	DefaultLanguage    string   `envconfig:"DEFAULT_LANGUAGE" default:"zh-cn"`
	Models             []string `envconfig:"MODELS" default:"tts_models/multilingual/multi-dataset/xtts_v2"`
	DrainTimeout       int      `envconfig:"DRAIN_TIMEOUT" default:"30"`    // seconds
	StartupTimeout     int      `envconfig:"STARTUP_TIMEOUT" default:"300"` // seconds

	// Filesystem layout
	OutputDir        string `envconfig:"OUTPUT_DIR" default:"./output/xtts2"`
	LogDir           string `envconfig:"LOG_DIR" default:""`
	SpeakersFile     string `envconfig:"SPEAKERS_FILE" default:""`
	DefaultSpeaker   string `envconfig:"DEFAULT_SPEAKER" default:""`
	MaterialDir      string `envconfig:"MATERIAL_DIR" default:"./data/voice_materials"`
	MaterialMaxBytes int64  `envconfig:"MATERIAL_MAX_BYTES" default:"5242880"`

	// Optional archive of generated audio
	NATSURL     string `envconfig:"NATS_URL" default:""`
	NATSBucket  string `envconfig:"NATS_BUCKET" default:"SYNTHESIZED_AUDIO"`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"synthesis.completed"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Archive upload attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Engine load attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Engine load backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() {
	c.EngineBackend = strings.ToLower(strings.TrimSpace(c.EngineBackend))
	c.DefaultLanguage = strings.ToLower(strings.TrimSpace(c.DefaultLanguage))

	langs := make([]string, 0, len(c.SupportedLanguages))
	for _, l := range c.SupportedLanguages {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			langs = append(langs, l)
		}
	}
	c.SupportedLanguages = langs

	models := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	c.Models = models
}

// Validate checks value ranges that envconfig cannot express.
func (c *Config) Validate() error {
	switch c.EngineBackend {
	case BackendHTTP:
		if c.EngineURL == "" {
			return fmt.Errorf("ENGINE_URL is required for the http engine backend")
		}
	case BackendExec:
		if c.EngineBinary == "" {
			return fmt.Errorf("ENGINE_BINARY is required for the exec engine backend")
		}
	default:
		return fmt.Errorf("ENGINE_BACKEND must be %q or %q, got %q", BackendHTTP, BackendExec, c.EngineBackend)
	}

	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.MaxTextLength < 1 {
		return fmt.Errorf("MAX_TEXT_LENGTH must be at least 1, got %d", c.MaxTextLength)
	}
	if len(c.SupportedLanguages) == 0 {
		return fmt.Errorf("SUPPORTED_LANGUAGES must not be empty")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("MODELS must not be empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if c.DrainTimeout < 0 || c.EngineTimeout < 1 || c.StartupTimeout < 1 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaterialMaxBytes < 1 {
		return fmt.Errorf("MATERIAL_MAX_BYTES must be positive")
	}

	return nil
}

// DrainTimeoutDuration is the bounded drain allowed at shutdown.
func (c *Config) DrainTimeoutDuration() time.Duration {
	return time.Duration(c.DrainTimeout) * time.Second
}

// EngineTimeoutDuration bounds a single engine call.
func (c *Config) EngineTimeoutDuration() time.Duration {
	return time.Duration(c.EngineTimeout) * time.Second
}

// StartupTimeoutDuration bounds engine loading at startup.
func (c *Config) StartupTimeoutDuration() time.Duration {
	return time.Duration(c.StartupTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
