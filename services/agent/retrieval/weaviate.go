// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.rules.retrieval")

// DefaultClassName is the Weaviate class holding rule passages.
const DefaultClassName = "Document"

// Compile-time interface implementation check.
var _ Retriever = (*WeaviateRetriever)(nil)

// WeaviateConfig configures a WeaviateRetriever.
type WeaviateConfig struct {
	// URL is the Weaviate base URL, e.g. "http://localhost:8080".
	URL string

	// ClassName is the class to search. Default: "Document".
	ClassName string

	// MinCertainty drops matches below this certainty (0 disables).
	MinCertainty float32
}

// WeaviateRetriever retrieves passages by semantic search over a Weaviate
// class whose objects carry "content" and "source" properties.
//
// # Description
//
// Uses NearText so the vectorizer configured on the class embeds the query.
// Transport errors and GraphQL errors are reported as ErrUnavailable; an
// empty result set is a legitimate "no relevant context".
//
// # Thread Safety
//
// Safe for concurrent use. The Weaviate client pools connections.
type WeaviateRetriever struct {
	client       *weaviate.Client
	className    string
	minCertainty float32
}

// NewWeaviateRetriever creates a retriever from a URL-based configuration.
//
// # Inputs
//
//   - cfg: URL is required and must include a scheme and host.
//
// # Outputs
//
//   - *WeaviateRetriever: Ready to use retriever.
//   - error: Non-nil if the URL is invalid or the client cannot be built.
func NewWeaviateRetriever(cfg WeaviateConfig) (*WeaviateRetriever, error) {
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", cfg.URL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return NewWeaviateRetrieverWithClient(client, cfg), nil
}

// NewWeaviateRetrieverWithClient wraps an existing Weaviate client.
// cfg.URL is ignored.
func NewWeaviateRetrieverWithClient(client *weaviate.Client, cfg WeaviateConfig) *WeaviateRetriever {
	className := cfg.ClassName
	if className == "" {
		className = DefaultClassName
	}
	return &WeaviateRetriever{
		client:       client,
		className:    className,
		minCertainty: cfg.MinCertainty,
	}
}

// passageObject is the shape of one object in the GraphQL Get result.
type passageObject struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// getResponse is the shape of resp.Data for a Get query. The inner map is
// keyed by class name.
type getResponse struct {
	Get map[string][]passageObject `json:"Get"`
}

// Retrieve implements Retriever.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string, limit int) ([]datatypes.Passage, error) {
	if err := checkQuery(query, limit); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.class", r.className),
		attribute.Int("retrieval.limit", limit),
	)

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})
	if r.minCertainty > 0 {
		nearText = nearText.WithCertainty(r.minCertainty)
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(r.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate search failed")
		slog.Error("Weaviate search failed", "class", r.className, "error", err)
		return nil, unavailable("weaviate", err)
	}
	if len(result.Errors) > 0 {
		err := errors.New(result.Errors[0].Message)
		span.SetStatus(codes.Error, "weaviate graphql error")
		slog.Error("Weaviate search returned errors", "class", r.className, "error", err)
		return nil, unavailable("weaviate", err)
	}

	parsed, err := parseGraphQL[getResponse](result)
	if err != nil {
		span.SetStatus(codes.Error, "malformed weaviate response")
		return nil, unavailable("weaviate", err)
	}

	objects := parsed.Get[r.className]
	passages := make([]datatypes.Passage, 0, len(objects))
	for _, obj := range objects {
		if obj.Content == "" {
			continue
		}
		passages = append(passages, datatypes.Passage{Source: obj.Source, Text: obj.Content})
	}
	passages = finalize(passages, limit)

	span.SetAttributes(attribute.Int("retrieval.passages", len(passages)))
	slog.Debug("Retrieved passages from Weaviate", "class", r.className, "count", len(passages))
	return passages, nil
}

// parseGraphQL converts resp.Data into T by a JSON round trip.
func parseGraphQL[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, errors.New("nil GraphQL response")
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL response data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal GraphQL response data: %w", err)
	}
	return &out, nil
}
