// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "time"

// Config is the process configuration. It is read once at startup and not
// changed afterward.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the listening socket and websocket heartbeat.
type ServerConfig struct {
	Host           string        `yaml:"host" validate:"required"`
	Port           int           `yaml:"port" validate:"gte=1,lte=65535"`
	Path           string        `yaml:"path" validate:"required,startswith=/"`
	PingInterval   time.Duration `yaml:"ping_interval" validate:"gt=0"`
	PingTimeout    time.Duration `yaml:"ping_timeout" validate:"gt=0"`
	ReadLimitBytes int64         `yaml:"read_limit_bytes" validate:"gte=1024"`
}

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	Backend     string        `yaml:"backend" validate:"oneof=openai ollama"`
	APIKey      string        `yaml:"api_key,omitempty" validate:"required_if=Backend openai"`
	BaseURL     string        `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model       string        `yaml:"model,omitempty" validate:"required_if=Backend ollama"`
	Temperature *float32      `yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int          `yaml:"max_tokens,omitempty" validate:"omitempty,gte=1"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
}

// RetrievalConfig selects the passage source.
type RetrievalConfig struct {
	Backend      string      `yaml:"backend" validate:"oneof=static weaviate"`
	TopK         int         `yaml:"top_k" validate:"gte=1,lte=100"`
	CorpusPath   string      `yaml:"corpus_path,omitempty" validate:"required_if=Backend static"`
	WatchCorpus  bool        `yaml:"watch_corpus"`
	WeaviateURL  string      `yaml:"weaviate_url,omitempty" validate:"required_if=Backend weaviate"`
	ClassName    string      `yaml:"class_name" validate:"required"`
	MinCertainty float32     `yaml:"min_certainty" validate:"gte=0,lte=1"`
	Cache        CacheConfig `yaml:"cache"`
}

// CacheConfig controls the optional retrieval result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
	Path    string        `yaml:"path,omitempty"`
}

// SessionConfig holds per-connection conversation settings.
type SessionConfig struct {
	MaxTurns          int    `yaml:"max_turns" validate:"gte=0"`
	MessagesPerMinute int    `yaml:"messages_per_minute" validate:"gte=0"`
	BaselinePrompt    string `yaml:"baseline_prompt" validate:"required"`
}

// TelemetryConfig selects the trace exporter and metrics endpoint.
type TelemetryConfig struct {
	Exporter       string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" validate:"required_if=Exporter otlp"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
}
