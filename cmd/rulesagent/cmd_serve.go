// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRules/pkg/logging"
	"github.com/AleutianAI/AleutianRules/services/agent"
	"github.com/AleutianAI/AleutianRules/services/agent/config"
)

// loadConfig reads the config file and applies the --log-level flag.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg config.Config, service string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		Dir:     cfg.Log.Dir,
		Service: service,
	})
	if err != nil {
		logger.Warn("File logging disabled", "dir", cfg.Log.Dir, "error", err)
	}
	slog.SetDefault(logger.Slog())
	return logger, nil
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg, "rulesagent")
	if err != nil {
		return err
	}
	defer logger.Close()

	svc, err := agent.New(cfg, &agent.Options{Logger: logger.Slog()})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("rules agent: %w", err)
	}
	return nil
}

func runConfigCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Never echo the key.
	if cfg.LLM.APIKey != "" {
		cfg.LLM.APIKey = "<set>"
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	if err == nil {
		if verr := cfg.Validate(); verr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", verr)
		}
	}
	return err
}

