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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
	"github.com/tmc/langchaingo/textsplitter"
)

var (
	// ChunkSize is the target passage length in characters.
	ChunkSize = 1000

	// ChunkOverlap is 10% of ChunkSize.
	ChunkOverlap = ChunkSize / 10

	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{"\n# ", "\n## ", "\n### ", "\n#### ", "\n\n", "\n", " ", ""}
)

func splitterFor(filename string) textsplitter.TextSplitter {
	separators := defaultSeparators
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		separators = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ChunkSize),
		textsplitter.WithChunkOverlap(ChunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}

// SplitDocument splits one reference document into passages sourced
// "<basename> - Part <n>", numbered from 1.
func SplitDocument(name, content string) ([]datatypes.Passage, error) {
	chunks, err := splitterFor(name).SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", name, err)
	}
	base := filepath.Base(name)
	passages := make([]datatypes.Passage, 0, len(chunks))
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		passages = append(passages, datatypes.Passage{
			Source: fmt.Sprintf("%s - Part %d", base, len(passages)+1),
			Text:   chunk,
		})
	}
	return passages, nil
}

// BuildCorpus reads and splits every file in paths, in order.
func BuildCorpus(paths []string) (*Corpus, error) {
	c := &Corpus{}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		passages, err := SplitDocument(p, string(data))
		if err != nil {
			return nil, err
		}
		c.Passages = append(c.Passages, passages...)
	}
	c.Passages = datatypes.DedupePassages(c.Passages)
	return c, nil
}
