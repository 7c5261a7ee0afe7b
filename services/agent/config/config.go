// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the rules agent configuration from a YAML file and
// the environment.
//
// Precedence, lowest first: built-in defaults, the YAML file, environment
// variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRules/services/agent/session"
	"github.com/AleutianAI/AleutianRules/services/llm"
)

var validate = validator.New()

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8765,
			Path:           "/ws",
			PingInterval:   time.Hour,
			PingTimeout:    time.Hour,
			ReadLimitBytes: 128 * 1024,
		},
		LLM: LLMConfig{
			Backend: llm.BackendOpenAI,
			BaseURL: llm.GroqBaseURL,
			Model:   llm.DefaultOpenAIModel,
			Timeout: 60 * time.Second,
		},
		Retrieval: RetrievalConfig{
			Backend:    "static",
			TopK:       5,
			CorpusPath: "corpus.yaml",
			ClassName:  "Document",
			Cache: CacheConfig{
				TTL: 5 * time.Minute,
			},
		},
		Session: SessionConfig{
			BaselinePrompt: session.DefaultBaselinePrompt,
		},
		Telemetry: TelemetryConfig{
			Exporter:       "none",
			MetricsEnabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path and then
// with the environment. An empty path, or a path that does not exist,
// yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
			}
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	cfg.backendDefaults()
	return cfg, nil
}

// DefaultOllamaModel replaces the hosted default model when the ollama
// backend is selected without a model.
const DefaultOllamaModel = "llama3.1"

// backendDefaults swaps hosted-provider defaults that do not apply to a
// local ollama backend.
func (c *Config) backendDefaults() {
	if c.LLM.Backend != llm.BackendOllama {
		return
	}
	if c.LLM.BaseURL == llm.GroqBaseURL {
		c.LLM.BaseURL = llm.DefaultOllamaURL
	}
	if c.LLM.Model == llm.DefaultOpenAIModel {
		c.LLM.Model = DefaultOllamaModel
	}
}

// ApplyEnv overrides fields from environment variables that are set.
func (c *Config) ApplyEnv() error {
	if v := firstEnv("GROQ_API_KEY", "OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := firstEnv("GROQ_MODEL", "OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_BACKEND_TYPE"); v != "" {
		c.LLM.Backend = v
	}
	if v := os.Getenv("RULES_AGENT_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RULES_AGENT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RULES_AGENT_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("WEAVIATE_SERVICE_URL"); v != "" {
		c.Retrieval.WeaviateURL = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr returns host:port for the listener.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
