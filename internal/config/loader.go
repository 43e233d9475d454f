package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPrefix namespaces every environment variable override this loader
// recognizes, mirroring the teacher's MCP_THE_FORCE_-style env overlay.
const envPrefix = "MCPRELAY_"

// Load reads path as YAML into a Config seeded with Default's values,
// rejecting unknown fields (a typo'd key is a startup error, not a
// silently-ignored no-op), expanding ${VAR}-style references against the
// process environment first, and then applying a small set of direct env
// var overrides for the secrets that should never live in a checked-in
// config file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))

		dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers API keys and a handful of operational knobs
// from the environment on top of whatever the YAML file set, so secrets
// never need to be written to disk.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv(envPrefix + "OPENAI_API_KEY"); ok {
		cfg.Dispatch.OpenAI.APIKey = v
	}
	if v, ok := os.LookupEnv(envPrefix + "GEMINI_API_KEY"); ok {
		cfg.Dispatch.Gemini.APIKey = v
	}
	if v, ok := os.LookupEnv(envPrefix + "GROK_API_KEY"); ok {
		cfg.Dispatch.Grok.APIKey = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv(envPrefix + "MOCK_MODE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Dispatch.MockMode = b
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "LOITER_KILLER_URL"); ok {
		cfg.LoiterKiller.BaseURL = v
		cfg.LoiterKiller.Enabled = true
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"json": true, "text": true}

// Validate checks for config values that would otherwise fail confusingly
// deep inside some other subsystem at first use.
func (c *Config) Validate() error {
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("config: logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("config: logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.VectorStore.InlineBudgetPercent <= 0 || c.VectorStore.InlineBudgetPercent > 100 {
		return fmt.Errorf("config: vector_store.inline_budget_percent must be in (0,100], got %d", c.VectorStore.InlineBudgetPercent)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("config: session.ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Session.PurgeProbability < 0 || c.Session.PurgeProbability > 1 {
		return fmt.Errorf("config: session.purge_probability must be in [0,1], got %v", c.Session.PurgeProbability)
	}
	if c.Memory.RolloverLimit <= 0 {
		return fmt.Errorf("config: memory.rollover_limit must be positive, got %d", c.Memory.RolloverLimit)
	}
	if c.Dispatch.MaxToolIterations <= 0 {
		return fmt.Errorf("config: dispatch.max_tool_iterations must be positive, got %d", c.Dispatch.MaxToolIterations)
	}
	return nil
}

// inlineBudgetFraction returns InlineBudgetPercent as a 0.0-1.0 fraction
// for the context packer, which works in fractions rather than percent.
func (c VectorStoreConfig) inlineBudgetFraction() float64 {
	return float64(c.InlineBudgetPercent) / 100.0
}
