// Package soap defines the structured clinical note format (Subjective,
// Objective, Assessment, Plan), its validation rules, and the prompt pair
// used to request one from a language model.
//
// The [Note] shape is the single contract between the generation pipeline
// and everything downstream: model output is only trusted after
// [Note.Validate] passes, and manual edits go through the same check before
// they are persisted.
package soap

import (
	"fmt"
	"strings"
)

// MaxFieldLength is the maximum length in characters of a single SOAP field.
const MaxFieldLength = 10_000

// Note is one structured clinical note. All four fields are required and
// carry free text — short sentences and bullet-style fragments, per the
// generation prompt's style rules.
type Note struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// SchemaError describes the first field of a candidate note that violates
// the SOAP schema.
type SchemaError struct {
	// Field is the lowercase JSON name of the violating field.
	Field string

	// Reason is a short human-readable description of the violation.
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("soap: field %q %s", e.Field, e.Reason)
}

// Validate checks that every field is non-empty after trimming and no longer
// than [MaxFieldLength] characters. It returns a [*SchemaError] for the
// first violated field, or nil when the note is well-formed.
func (n *Note) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"subjective", n.Subjective},
		{"objective", n.Objective},
		{"assessment", n.Assessment},
		{"plan", n.Plan},
	}

	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &SchemaError{Field: f.name, Reason: "must not be empty"}
		}
		if length := len([]rune(f.value)); length > MaxFieldLength {
			return &SchemaError{Field: f.name, Reason: fmt.Sprintf("exceeds %d characters (got %d)", MaxFieldLength, length)}
		}
	}
	return nil
}

// Render formats the note as plain text for export or clipboard use.
func (n *Note) Render() string {
	var b strings.Builder
	sections := []struct {
		heading string
		body    string
	}{
		{"SUBJECTIVE", n.Subjective},
		{"OBJECTIVE", n.Objective},
		{"ASSESSMENT", n.Assessment},
		{"PLAN", n.Plan},
	}
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.heading)
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(s.body))
	}
	return b.String()
}
