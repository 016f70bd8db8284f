package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.Workers != 4 {
		t.Errorf("Expected default Workers 4, got %d", cfg.Workers)
	}

	if cfg.MaxTextLength != 1000 {
		t.Errorf("Expected default MaxTextLength 1000, got %d", cfg.MaxTextLength)
	}

	if !cfg.EngineSerialized {
		t.Error("Expected engine calls to be serialized by default")
	}

	want := []string{"en", "zh-cn", "es", "fr", "de", "it", "pt", "ru", "tr", "ja"}
	if len(cfg.SupportedLanguages) != len(want) {
		t.Fatalf("Expected %d supported languages, got %v", len(want), cfg.SupportedLanguages)
	}
	for i, l := range want {
		if cfg.SupportedLanguages[i] != l {
			t.Errorf("Expected language %d to be %q, got %q", i, l, cfg.SupportedLanguages[i])
		}
	}

	if cfg.DrainTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected drain timeout 30s, got %v", cfg.DrainTimeoutDuration())
	}

	if cfg.EngineBackend != BackendHTTP {
		t.Errorf("Expected default backend %q, got %q", BackendHTTP, cfg.EngineBackend)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("WORKERS", "2")
	t.Setenv("MAX_TEXT_LENGTH", "200")
	t.Setenv("SUPPORTED_LANGUAGES", " EN , Zh-CN ")
	t.Setenv("ENGINE_BACKEND", "EXEC")
	t.Setenv("ENGINE_SERIALIZED", "false")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Workers != 2 {
		t.Errorf("Expected Workers 2, got %d", cfg.Workers)
	}
	if cfg.MaxTextLength != 200 {
		t.Errorf("Expected MaxTextLength 200, got %d", cfg.MaxTextLength)
	}
	if len(cfg.SupportedLanguages) != 2 || cfg.SupportedLanguages[0] != "en" || cfg.SupportedLanguages[1] != "zh-cn" {
		t.Errorf("Expected normalized languages [en zh-cn], got %v", cfg.SupportedLanguages)
	}
	if cfg.EngineBackend != BackendExec {
		t.Errorf("Expected backend %q, got %q", BackendExec, cfg.EngineBackend)
	}
	if cfg.EngineSerialized {
		t.Error("Expected EngineSerialized to be false")
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero workers", "WORKERS", "0"},
		{"zero text length", "MAX_TEXT_LENGTH", "0"},
		{"unknown backend", "ENGINE_BACKEND", "grpc"},
		{"no languages", "SUPPORTED_LANGUAGES", " , "},
		{"negative drain", "DRAIN_TIMEOUT", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("SYNTH_TEST_KEY", "value")

	if got := GetEnv("SYNTH_TEST_KEY", "fallback"); got != "value" {
		t.Errorf("Expected 'value', got '%s'", got)
	}
	if got := GetEnv("SYNTH_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("Expected 'fallback', got '%s'", got)
	}
}
