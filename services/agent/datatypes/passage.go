// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQuestionLength is the longest question, in characters, accepted for retrieval.
	MaxQuestionLength = 32 * 1024
)

// questionValidate holds the validator used for inbound questions.
// Initialized in init() with the custom "notblank" rule.
var questionValidate *validator.Validate

func init() {
	questionValidate = validator.New()
	_ = questionValidate.RegisterValidation("notblank", validateNotBlank)
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Passage
// =============================================================================

// Passage is one ranked excerpt of reference text returned by retrieval.
//
// # Description
//
// Passages are produced fresh for every user turn and live only as long as
// it takes to build that turn's grounding prompt. Source is a human-readable
// label such as "Laws of the Game - Page 34".
type Passage struct {
	Source string `json:"source" yaml:"source"`
	Text   string `json:"text" yaml:"text"`
}

// key identifies a passage for duplicate detection.
func (p Passage) key() string {
	return p.Source + "\x00" + p.Text
}

// DedupePassages returns passages with later duplicates removed.
//
// Two passages are duplicates when both Source and Text match. The relative
// order of the survivors is preserved.
func DedupePassages(passages []Passage) []Passage {
	seen := make(map[string]struct{}, len(passages))
	out := make([]Passage, 0, len(passages))
	for _, p := range passages {
		k := p.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// =============================================================================
// Question
// =============================================================================

// Question is the validated form of an inbound client message.
//
// # Validation
//
//   - Text: required, not whitespace-only, at most MaxQuestionLength characters.
//   - Limit: between 1 and 100 passages.
type Question struct {
	Text  string `validate:"required,notblank,max=32768"`
	Limit int    `validate:"gte=1,lte=100"`
}

// Validate checks the question against its validation tags.
//
// # Outputs
//
//   - error: validator.ValidationErrors describing the failing fields, or nil.
func (q Question) Validate() error {
	return questionValidate.Struct(q)
}
