// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent wires the football rules agent together.
//
// New builds every shared adapter once (retriever, completion adapter,
// metrics and tracer) and hands them to the websocket server. Run serves
// until its context is cancelled, then shuts everything down.
//
// # Usage
//
//	cfg, err := config.Load("rulesagent.yaml")
//	if err != nil {
//	    return err
//	}
//	svc, err := agent.New(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianRules/services/agent/completion"
	"github.com/AleutianAI/AleutianRules/services/agent/config"
	"github.com/AleutianAI/AleutianRules/services/agent/observability"
	"github.com/AleutianAI/AleutianRules/services/agent/retrieval"
	"github.com/AleutianAI/AleutianRules/services/agent/server"
	"github.com/AleutianAI/AleutianRules/services/agent/session"
	"github.com/AleutianAI/AleutianRules/services/llm"
)

// ServiceName identifies the agent in traces and logs.
const ServiceName = "rules-agent"

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Options inject dependencies instead of building them from config.
// Every field is optional.
type Options struct {
	// Retriever replaces the configured retrieval backend. The cache, if
	// enabled, still wraps it.
	Retriever retrieval.Retriever

	// LLMClient replaces the configured LLM backend.
	LLMClient llm.LLMClient

	// Registry receives the metrics. Default: a fresh registry with Go and
	// process collectors.
	Registry *prometheus.Registry

	// Logger is the service logger. Default: slog.Default().
	Logger *slog.Logger
}

// Service is a configured, runnable agent.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	retriever retrieval.Retriever
	static    *retrieval.StaticRetriever
	cache     *badger.DB
	completer completion.Completer
	server    *server.Server

	tracerCleanup func(context.Context)
}

// New builds a Service from cfg.
//
// # Description
//
// Initialization order:
//
//  1. Validate the configuration.
//  2. Tracer provider (none, stdout or otlp).
//  3. Prometheus metrics on an isolated registry.
//  4. Retriever (static corpus or Weaviate), optionally wrapped in the
//     Badger cache.
//  5. LLM client and completion adapter.
//  6. Websocket server and router.
//
// Any failure releases what was already created.
//
// # Inputs
//
//   - cfg: Loaded configuration. It is not modified afterward.
//   - opts: Dependency overrides. May be nil.
//
// # Outputs
//
//   - *Service: Ready to Run.
//   - error: Non-nil if a component could not be built.
func New(cfg config.Config, opts *Options) (*Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, logger: opts.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.initMetrics(opts.Registry)

	if err := s.initRetriever(opts.Retriever); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}

	if err := s.initCompleter(opts.LLMClient); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.initServer()
	return s, nil
}

// Handler returns the HTTP handler serving /ws, /health and /metrics.
func (s *Service) Handler() http.Handler { return s.server.Handler() }

// Registry returns the metrics registry.
func (s *Service) Registry() *prometheus.Registry { return s.registry }

// Run listens on the configured address and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		s.cleanup()
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully and
// releases every resource. It returns nil after a requested shutdown.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	httpServer := &http.Server{
		Handler:           s.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting rules agent",
			"addr", ln.Addr().String(),
			"path", s.cfg.Server.Path,
			"llm_backend", s.cfg.LLM.Backend,
			"retrieval_backend", s.cfg.Retrieval.Backend,
		)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down rules agent")
		s.server.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if s.static != nil && s.cfg.Retrieval.WatchCorpus {
		g.Go(func() error {
			if err := s.static.Watch(gctx); err != nil {
				s.logger.Warn("Corpus watcher stopped", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// =============================================================================
// Initialization
// =============================================================================

func (s *Service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch s.cfg.Telemetry.Exporter {
	case "", "none":
		return func(context.Context) {}, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	case "otlp":
		conn, err := grpc.NewClient(s.cfg.Telemetry.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", s.cfg.Telemetry.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

func (s *Service) initMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.registry = reg
	s.metrics = observability.NewMetrics(reg)
}

func (s *Service) initRetriever(injected retrieval.Retriever) error {
	rc := s.cfg.Retrieval

	base := injected
	if base == nil {
		switch rc.Backend {
		case "weaviate":
			w, err := retrieval.NewWeaviateRetriever(retrieval.WeaviateConfig{
				URL:          rc.WeaviateURL,
				ClassName:    rc.ClassName,
				MinCertainty: rc.MinCertainty,
			})
			if err != nil {
				return err
			}
			base = w
			s.logger.Info("Using Weaviate retrieval backend", "url", rc.WeaviateURL, "class", rc.ClassName)
		default:
			st, err := retrieval.NewStaticRetrieverFromFile(rc.CorpusPath)
			if err != nil {
				return err
			}
			s.static = st
			base = st
			s.logger.Info("Using static corpus retrieval backend", "path", rc.CorpusPath, "passages", st.Len())
		}
	}

	if !rc.Cache.Enabled {
		s.retriever = base
		return nil
	}
	db, err := retrieval.OpenCache(retrieval.CacheConfig{
		Path:   rc.Cache.Path,
		TTL:    rc.Cache.TTL,
		Logger: s.logger,
	})
	if err != nil {
		return err
	}
	s.cache = db
	s.retriever = retrieval.NewCachingRetriever(base, db, rc.Cache.TTL)
	s.logger.Info("Retrieval cache enabled", "ttl", rc.Cache.TTL.String(), "in_memory", rc.Cache.Path == "")
	return nil
}

func (s *Service) initCompleter(injected llm.LLMClient) error {
	lc := s.cfg.LLM

	client := injected
	if client == nil {
		c, err := llm.New(llm.Config{
			Backend: lc.Backend,
			APIKey:  lc.APIKey,
			BaseURL: lc.BaseURL,
			Model:   lc.Model,
		})
		if err != nil {
			return err
		}
		client = c
	}

	s.completer = completion.NewAdapter(client, completion.Config{
		Timeout: lc.Timeout,
		Params: llm.GenerationParams{
			Temperature: lc.Temperature,
			MaxTokens:   lc.MaxTokens,
		},
	})
	s.logger.Info("LLM backend ready", "backend", lc.Backend, "model", lc.Model, "api_key_present", lc.APIKey != "")
	return nil
}

func (s *Service) initServer() {
	sc := s.cfg.Server

	var gatherer prometheus.Gatherer
	if s.cfg.Telemetry.MetricsEnabled {
		gatherer = s.registry
	}
	serviceName := ""
	if s.cfg.Telemetry.Exporter != "none" && s.cfg.Telemetry.Exporter != "" {
		serviceName = ServiceName
	}

	s.server = server.New(
		server.Config{
			Path:         sc.Path,
			PingInterval: sc.PingInterval,
			PingTimeout:  sc.PingTimeout,
			ReadLimit:    sc.ReadLimitBytes,
			Gatherer:     gatherer,
			ServiceName:  serviceName,
		},
		session.Deps{
			Retriever: s.retriever,
			Completer: s.completer,
			Metrics:   s.metrics,
			Logger:    s.logger,
		},
		session.Config{
			TopK:              s.cfg.Retrieval.TopK,
			BaselinePrompt:    s.cfg.Session.BaselinePrompt,
			MaxTurns:          s.cfg.Session.MaxTurns,
			MessagesPerMinute: s.cfg.Session.MessagesPerMinute,
		},
	)
}

// cleanup releases everything New created. Safe to call more than once.
func (s *Service) cleanup() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Retrieval cache close error", "error", err)
		}
		s.cache = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}
