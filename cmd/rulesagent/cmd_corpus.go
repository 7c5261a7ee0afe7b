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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRules/pkg/ux"
	"github.com/AleutianAI/AleutianRules/services/agent/retrieval"
)

func runCorpusBuildCommand(cmd *cobra.Command, args []string) error {
	corpus, err := retrieval.BuildCorpus(args)
	if err != nil {
		return err
	}
	if err := retrieval.WriteCorpus(outputPath, corpus); err != nil {
		return err
	}
	msg := fmt.Sprintf("Wrote %d passages from %d files to %s", len(corpus.Passages), len(args), outputPath)
	out := cmd.OutOrStdout()
	if ux.IsTerminal(out) {
		msg = ux.Styles.Title.Render(ux.IconBall) + " " + msg
	}
	_, err = fmt.Fprintln(out, msg)
	return err
}
