package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/callagent/internal/config"
)

func TestApplyEnv_Overrides(t *testing.T) {
	t.Parallel()

	env := envOf(map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-env",
		"SERVER_HOST":       "0.0.0.0",
		"SERVER_PORT":       "9090",
		"AI_MODEL":          "claude-3-opus-20240229",
		"MAX_TOKENS":        "300",
		"TEMPERATURE":       "0.2",
		"STT_MODEL":         "small",
		"TTS_RATE":          "180",
		"TTS_VOLUME":        "0.5",
		"MAX_CALL_DURATION": "120",
		"RECORDING_ENABLED": "FALSE",
		"DATA_DIR":          "/tmp/calls",
		"LOG_LEVEL":         "WARN",
	})
	cfg, err := config.LoadWithEnv(strings.NewReader(""), env)
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}

	checks := []struct {
		name      string
		got, want any
	}{
		{"api key", cfg.Providers.LLM.APIKey, "sk-ant-env"},
		{"listen addr", cfg.Server.ListenAddr(), "0.0.0.0:9090"},
		{"model", cfg.Providers.LLM.Model, "claude-3-opus-20240229"},
		{"max tokens", cfg.Call.MaxTokens, 300},
		{"temperature", cfg.Call.TemperatureOrDefault(), 0.2},
		{"stt model", cfg.Providers.STT.Model, "small"},
		{"speech rate", cfg.Call.SpeechRate, 180},
		{"volume", cfg.Call.VolumeOrDefault(), 0.5},
		{"max duration", cfg.Call.MaxDurationSeconds, 120},
		{"recording", cfg.Call.RecordingEnabled(), false},
		{"data dir", cfg.Storage.DataDir, "/tmp/calls"},
		{"log level", cfg.Server.LogLevel, config.LogWarn},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnv_FileKeyWins(t *testing.T) {
	t.Parallel()

	yaml := "providers:\n  llm:\n    name: anthropic\n    api_key: from-file\n"
	cfg, err := config.LoadWithEnv(strings.NewReader(yaml), envOf(map[string]string{"ANTHROPIC_API_KEY": "from-env"}))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "from-file" {
		t.Errorf("api key = %q, want from-file", cfg.Providers.LLM.APIKey)
	}
}

func TestApplyEnv_AnthropicKeyIgnoredForOtherProviders(t *testing.T) {
	t.Parallel()

	yaml := "providers:\n  llm:\n    name: openai\n    model: gpt-4o\n"
	cfg, err := config.LoadWithEnv(strings.NewReader(yaml), envOf(map[string]string{"ANTHROPIC_API_KEY": "sk-ant"}))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "" {
		t.Errorf("api key = %q, want empty", cfg.Providers.LLM.APIKey)
	}
}

func TestApplyEnv_Malformed(t *testing.T) {
	t.Parallel()

	env := envOf(map[string]string{
		"SERVER_PORT": "eighty",
		"TEMPERATURE": "warm",
	})
	_, err := config.LoadWithEnv(strings.NewReader(""), env)
	if err == nil {
		t.Fatal("expected error for malformed env, got nil")
	}
	for _, want := range []string{"SERVER_PORT", "TEMPERATURE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"port", "server:\n  port: 70000\n", "server.port"},
		{"tls", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
		{"temperature", "call:\n  temperature: 3\n", "call.temperature"},
		{"volume", "call:\n  volume: 1.5\n", "call.volume"},
		{"silence threshold", "call:\n  silence_threshold: -1\n", "call.silence_threshold"},
		{"channels", "call:\n  input_channels: 6\n", "call.input_channels"},
		{"backend", "storage:\n  backend: mongo\n", "storage.backend"},
		{"postgres dsn", "storage:\n  backend: postgres\n", "storage.postgres_dsn"},
		{"fallback name", "providers:\n  stt_fallbacks:\n    - model: x\n", "providers.stt_fallbacks[0].name"},
		{"empty script", "script:\n  opening_instruction: hi\n", "at least one stage"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadWithEnv(strings.NewReader(tc.yaml), noEnv)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	yaml := "server:\n  log_level: loud\nstorage:\n  backend: mongo\n"
	_, err := config.LoadWithEnv(strings.NewReader(yaml), noEnv)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log_level") || !strings.Contains(msg, "backend") {
		t.Errorf("both problems should be reported, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should wrap os.ErrNotExist, got: %v", err)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Providers.LLM.Name == "" || cfg.Call.MaxTokens == 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"llm", "stt", "tts"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}
