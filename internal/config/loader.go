package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ValidLLMProviders lists the supported generation backend names.
var ValidLLMProviders = []string{"azure", "openai", "mistral", "groq", "ollama"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Auth
	if len(cfg.Auth.Tokens) == 0 {
		errs = append(errs, fmt.Errorf("auth.tokens must contain at least one entry"))
	}
	tokensSeen := make(map[string]int, len(cfg.Auth.Tokens))
	for i, entry := range cfg.Auth.Tokens {
		prefix := fmt.Sprintf("auth.tokens[%d]", i)
		if entry.Token == "" {
			errs = append(errs, fmt.Errorf("%s.token is required", prefix))
		} else if prev, ok := tokensSeen[entry.Token]; ok {
			errs = append(errs, fmt.Errorf("%s.token is a duplicate of auth.tokens[%d]", prefix, prev))
		} else {
			tokensSeen[entry.Token] = i
		}
		if _, err := uuid.Parse(entry.ProviderID); err != nil {
			errs = append(errs, fmt.Errorf("%s.provider_id %q is not a valid UUID", prefix, entry.ProviderID))
		}
	}

	// Database
	if cfg.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn is required"))
	}

	// LLM
	if cfg.LLM.Provider == "" {
		errs = append(errs, fmt.Errorf("llm.provider is required"))
	} else if !slices.Contains(ValidLLMProviders, cfg.LLM.Provider) {
		errs = append(errs, fmt.Errorf("llm.provider %q is invalid; valid values: %s",
			cfg.LLM.Provider, strings.Join(ValidLLMProviders, ", ")))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required"))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must not be negative"))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.Provider == "azure" {
		if cfg.LLM.Endpoint == "" {
			errs = append(errs, fmt.Errorf("llm.endpoint is required when provider is azure"))
		}
		if cfg.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.api_key is required when provider is azure"))
		}
		if !validEURegion(cfg.LLM.Region) {
			errs = append(errs, fmt.Errorf("llm.region %q is not an EU region; valid values: %s",
				cfg.LLM.Region, strings.Join(EURegions, ", ")))
		}
	}

	// Speech
	if !cfg.Speech.Language.IsValid() {
		errs = append(errs, fmt.Errorf("speech.language %q is invalid; valid values: de, fr, auto", cfg.Speech.Language))
	}
	if cfg.Speech.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("speech.timeout_ms must not be negative"))
	}
	if cfg.Speech.MaxDurationSec < 0 {
		errs = append(errs, fmt.Errorf("speech.max_duration_sec must not be negative"))
	}

	return errors.Join(errs...)
}
