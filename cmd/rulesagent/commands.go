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
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	serverURL  string
	outputPath string

	rootCmd = &cobra.Command{
		Use:           "rulesagent",
		Short:         "A conversational assistant for the rules of football",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Starts the websocket server",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Asks the running agent a question, or starts an interactive session",
		RunE:  runAskCommand,
	}

	corpusCmd = &cobra.Command{
		Use:   "corpus",
		Short: "Manage the static rules corpus",
	}
	corpusBuildCmd = &cobra.Command{
		Use:   "build FILE...",
		Short: "Splits rule documents into a YAML passage corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCorpusBuildCommand,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Prints the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigCommand,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "rulesagent.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	askCmd.Flags().StringVar(&serverURL, "url", "", "websocket URL (default from config: ws://host:port/path)")

	corpusBuildCmd.Flags().StringVarP(&outputPath, "output", "o", "corpus.yaml", "corpus file to write")

	corpusCmd.AddCommand(corpusBuildCmd)
	rootCmd.AddCommand(serveCmd, askCmd, corpusCmd, configCmd)
}
