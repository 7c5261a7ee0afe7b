// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides clients for chat-completion providers.
//
// Every backend implements LLMClient: an ordered, role-tagged message list
// goes in, one assistant reply comes out. Backends are stateless after
// construction and safe for concurrent use.
package llm

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
)

// Backend names accepted by New.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "openai" (any OpenAI-compatible API, including Groq) or "ollama".
	Backend string

	// APIKey is the provider credential. Unused by Ollama.
	APIKey string

	// BaseURL overrides the provider endpoint.
	BaseURL string

	// Model is the model identifier sent with every request.
	Model string
}

// New builds the client for cfg.Backend.
func New(cfg Config) (LLMClient, error) {
	switch cfg.Backend {
	case BackendOllama:
		return NewOllamaClient(cfg)
	case BackendOpenAI, "":
		return NewOpenAIClient(cfg)
	default:
		return nil, &UnknownBackendError{Backend: cfg.Backend}
	}
}

// InvalidRoleError is returned by Chat when a message carries a role the
// backends do not understand.
type InvalidRoleError struct {
	Index int
	Role  datatypes.Role
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("message %d has invalid role %q", e.Index, e.Role)
}

func validateRoles(messages []datatypes.Message) error {
	for i, m := range messages {
		if !m.Role.Valid() {
			return &InvalidRoleError{Index: i, Role: m.Role}
		}
	}
	return nil
}

// UnknownBackendError is returned by New for an unsupported backend name.
type UnknownBackendError struct {
	Backend string
}

func (e *UnknownBackendError) Error() string {
	return "unknown llm backend: " + e.Backend
}
