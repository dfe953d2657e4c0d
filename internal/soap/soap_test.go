package soap

import (
	"errors"
	"strings"
	"testing"
)

func validNote() Note {
	return Note{
		Subjective: "Knieschmerzen rechts, NRS 6/10, seit zwei Wochen.",
		Objective:  "ROM Knieflexion 95°, Kraftgrad 4/5, Lachman negativ.",
		Assessment: "V. a. patellofemorales Schmerzsyndrom, Irritabilität mittel.",
		Plan:       "Quadrizepskräftigung 3x/Woche, HEP, Kontrolle in 2 Wochen.",
	}
}

func TestNoteValidate_OK(t *testing.T) {
	n := validNote()
	if err := n.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNoteValidate_Violations(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Note)
		wantField string
	}{
		{
			name:      "empty subjective",
			mutate:    func(n *Note) { n.Subjective = "" },
			wantField: "subjective",
		},
		{
			name:      "whitespace-only objective",
			mutate:    func(n *Note) { n.Objective = "   \n " },
			wantField: "objective",
		},
		{
			name:      "assessment too long",
			mutate:    func(n *Note) { n.Assessment = strings.Repeat("x", MaxFieldLength+1) },
			wantField: "assessment",
		},
		{
			name:      "empty plan",
			mutate:    func(n *Note) { n.Plan = "" },
			wantField: "plan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := validNote()
			tt.mutate(&n)

			err := n.Validate()
			if err == nil {
				t.Fatal("expected a schema error")
			}
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("err = %T, want *SchemaError", err)
			}
			if schemaErr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", schemaErr.Field, tt.wantField)
			}
		})
	}
}

func TestNoteValidate_MaxLengthBoundary(t *testing.T) {
	n := validNote()
	n.Plan = strings.Repeat("x", MaxFieldLength)
	if err := n.Validate(); err != nil {
		t.Fatalf("field of exactly %d characters should pass: %v", MaxFieldLength, err)
	}
}

func TestNoteValidate_FirstViolationWins(t *testing.T) {
	n := Note{} // everything empty
	err := n.Validate()
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("err = %T, want *SchemaError", err)
	}
	if schemaErr.Field != "subjective" {
		t.Errorf("field = %q, want subjective reported first", schemaErr.Field)
	}
}

func TestNoteRender(t *testing.T) {
	n := validNote()
	out := n.Render()

	for _, heading := range []string{"SUBJECTIVE", "OBJECTIVE", "ASSESSMENT", "PLAN"} {
		if !strings.Contains(out, heading+"\n") {
			t.Errorf("rendered note missing %s section:\n%s", heading, out)
		}
	}
	if !strings.Contains(out, n.Plan) {
		t.Error("rendered note missing plan body")
	}
}
