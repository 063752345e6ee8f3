package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"anthropic", "openai", "openai-native", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "openai"},
	"tts": {"elevenlabs", "coqui", "openai"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultHost        = "localhost"
	DefaultPort        = 5000
	DefaultLLM         = "anthropic"
	DefaultModel       = "claude-3-5-sonnet-20241022"
	DefaultSTT         = "whisper"
	DefaultSTTModel    = "base"
	DefaultMaxTokens   = 150
	DefaultSampleRate  = 16000
	DefaultMaxDuration = 600
	DefaultPortTimeout = 30 * time.Second
	DefaultDataDir     = "./data"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like [Load] but falls back to an empty config when
// path does not exist, so the service runs from environment variables alone.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using environment and defaults", "path", path)
		return finish(&Config{}, os.Getenv)
	}
	return cfg, err
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	return loadFromReader(r, os.Getenv)
}

func loadFromReader(r io.Reader, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg, getenv)
}

func finish(cfg *Config, getenv func(string) string) (*Config, error) {
	if err := ApplyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the supported environment variables onto cfg. Unset or
// empty variables leave the file value untouched.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s=%q is not an integer", key, v))
			return
		}
		*dst = n
	}
	float := func(key string) *float64 {
		v := getenv(key)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s=%q is not a number", key, v))
			return nil
		}
		return &f
	}

	if key := getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Providers.LLM.APIKey == "" &&
		(cfg.Providers.LLM.Name == "" || cfg.Providers.LLM.Name == "anthropic") {
		cfg.Providers.LLM.APIKey = key
	}
	str("SERVER_HOST", &cfg.Server.Host)
	integer("SERVER_PORT", &cfg.Server.Port)
	str("AI_MODEL", &cfg.Providers.LLM.Model)
	integer("MAX_TOKENS", &cfg.Call.MaxTokens)
	if f := float("TEMPERATURE"); f != nil {
		cfg.Call.Temperature = f
	}
	str("STT_MODEL", &cfg.Providers.STT.Model)
	integer("TTS_RATE", &cfg.Call.SpeechRate)
	if f := float("TTS_VOLUME"); f != nil {
		cfg.Call.Volume = f
	}
	integer("MAX_CALL_DURATION", &cfg.Call.MaxDurationSeconds)
	if v := getenv("RECORDING_ENABLED"); v != "" {
		on := strings.EqualFold(v, "true")
		cfg.Call.Recording = &on
	}
	str("DATA_DIR", &cfg.Storage.DataDir)
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	return errors.Join(errs...)
}

// ApplyDefaults fills every zero field that has a documented default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLM
	}
	if cfg.Providers.LLM.Model == "" && cfg.Providers.LLM.Name == DefaultLLM {
		cfg.Providers.LLM.Model = DefaultModel
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = DefaultSTT
	}
	if cfg.Providers.STT.Model == "" && cfg.Providers.STT.Name == DefaultSTT {
		cfg.Providers.STT.Model = DefaultSTTModel
	}
	if cfg.Call.MaxTokens == 0 {
		cfg.Call.MaxTokens = DefaultMaxTokens
	}
	if cfg.Call.SampleRate == 0 {
		cfg.Call.SampleRate = DefaultSampleRate
	}
	if cfg.Call.InputSampleRate == 0 {
		cfg.Call.InputSampleRate = cfg.Call.SampleRate
	}
	if cfg.Call.InputChannels == 0 {
		cfg.Call.InputChannels = 1
	}
	if cfg.Call.MaxDurationSeconds == 0 {
		cfg.Call.MaxDurationSeconds = DefaultMaxDuration
	}
	if cfg.Call.PortTimeout == 0 {
		cfg.Call.PortTimeout = DefaultPortTimeout
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageFile
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir
	}
	if cfg.Storage.BadgerDir == "" {
		cfg.Storage.BadgerDir = filepath.Join(cfg.Storage.DataDir, "badger")
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [0, 65535]", cfg.Server.Port))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		errs = append(errs, requireName(fmt.Sprintf("providers.llm_fallbacks[%d]", i), e))
	}
	for i, e := range cfg.Providers.STTFallbacks {
		errs = append(errs, requireName(fmt.Sprintf("providers.stt_fallbacks[%d]", i), e))
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		errs = append(errs, requireName(fmt.Sprintf("providers.tts_fallbacks[%d]", i), e))
	}
	if cfg.Providers.LLM.Name == "anthropic" && cfg.Providers.LLM.APIKey == "" {
		slog.Warn("providers.llm.api_key is empty; set ANTHROPIC_API_KEY or the oracle will fail every call")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; agent replies will be silent")
	}

	// Call
	c := cfg.Call
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("call.max_tokens %d must be positive", c.MaxTokens))
	}
	if t := c.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("call.temperature %.2f is out of range [0, 2]", *t))
	}
	if c.SampleRate < 0 || c.InputSampleRate < 0 {
		errs = append(errs, errors.New("call sample rates must be positive"))
	}
	if c.InputChannels < 0 || c.InputChannels > 2 {
		errs = append(errs, fmt.Errorf("call.input_channels %d must be 1 or 2", c.InputChannels))
	}
	if c.MaxDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("call.max_duration_seconds %d must not be negative", c.MaxDurationSeconds))
	}
	if c.PortTimeout < 0 {
		errs = append(errs, fmt.Errorf("call.port_timeout %s must not be negative", c.PortTimeout))
	}
	if c.SpeechRate < 0 {
		errs = append(errs, fmt.Errorf("call.speech_rate %d must not be negative", c.SpeechRate))
	}
	if v := c.Volume; v != nil && (*v < 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("call.volume %.2f is out of range [0, 1]", *v))
	}
	if v := c.SilenceThreshold; v != nil && (*v < 0 || *v > 32767) {
		errs = append(errs, fmt.Errorf("call.silence_threshold %.1f is out of range [0, 32767]", *v))
	}

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: file, postgres, badger", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when backend is postgres"))
	}

	// Script
	if cfg.Script != nil {
		if err := cfg.Script.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func requireName(path string, e ProviderEntry) error {
	if e.Name == "" {
		return fmt.Errorf("%s.name is required", path)
	}
	validateProviderName(strings.SplitN(strings.TrimPrefix(path, "providers."), "_", 2)[0], e.Name)
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// loadBytes parses data the same way [LoadFromReader] does.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}
