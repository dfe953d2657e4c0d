// Package store defines the persistent entities of the documentation
// service — patients, visits, transcripts, notes, and usage metrics — the
// visit lifecycle rules, and the [Store] interface with PostgreSQL
// ([PostgresStore]) and in-memory ([MemStore]) implementations.
//
// Every read and write that touches provider-owned data is scoped by the
// owning provider's ID. Lookups deliberately collapse "does not exist" and
// "not yours" into a single [ErrNotFound] so that callers cannot probe for
// the existence of other providers' records.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evanote/evanote/internal/soap"
)

// VisitStatus is the lifecycle state of a [Visit].
type VisitStatus string

const (
	// StatusDraft is the initial state of a freshly created visit.
	StatusDraft VisitStatus = "draft"

	// StatusRecording indicates a live speech-capture session is running.
	StatusRecording VisitStatus = "recording"

	// StatusProcessing indicates note generation is in flight. Concurrent
	// readers may observe this state; it is a signal, not a lock.
	StatusProcessing VisitStatus = "processing"

	// StatusCompleted indicates the most recent generation succeeded.
	StatusCompleted VisitStatus = "completed"

	// StatusFailed indicates the most recent generation exhausted its retry
	// budget. A fresh generation attempt moves the visit back to processing.
	StatusFailed VisitStatus = "failed"
)

// IsValid reports whether s is a recognised visit status.
func (s VisitStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusRecording, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Patient is one person a provider documents visits for.
type Patient struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the patient's name fields.
func (p *Patient) Validate() error {
	if p.FirstName == "" || len(p.FirstName) > 100 {
		return fmt.Errorf("store: patient first name must be 1-100 characters")
	}
	if p.LastName == "" || len(p.LastName) > 100 {
		return fmt.Errorf("store: patient last name must be 1-100 characters")
	}
	return nil
}

// Visit is one documented consultation session between a provider and a
// patient. Exactly one provider owns a visit.
type Visit struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	ProviderID uuid.UUID
	Status     VisitStatus
	Language   soap.Language
	StartedAt  *time.Time
	EndedAt    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Transcript is one raw-speech or manually entered text blob for a visit.
// Transcripts are immutable once written; re-recordings append new rows.
type Transcript struct {
	ID      uuid.UUID
	VisitID uuid.UUID

	// Text is the normalised transcript text.
	Text string

	// RawPayload is the opaque STT provider response, when available.
	RawPayload json.RawMessage

	// Language is the language code reported by the STT provider, if any.
	Language string

	// Confidence is the STT provider's confidence score in [0, 1].
	// Zero when not reported.
	Confidence float64

	CreatedAt time.Time
}

// Note is one generated or manually edited SOAP document, version-stamped
// per visit. Versions start at 1 and are contiguous.
type Note struct {
	ID      uuid.UUID
	VisitID uuid.UUID
	SOAP    soap.Note

	// Model identifies the generation backend, e.g. "azure:gpt-4o-mini-eu".
	Model string

	// Version is assigned by the store on insert; callers leave it zero.
	Version int

	// IsFinal marks the note as signed off. Finalised notes are immutable;
	// further changes require generating a new version.
	IsFinal bool

	CreatedAt time.Time
}

// UsageMetric is one append-only accounting record for a transcription or
// generation event. The pipeline writes these; nothing in the core reads
// them back.
type UsageMetric struct {
	ID      uuid.UUID
	VisitID uuid.UUID

	// SpeechSeconds is the transcribed audio duration, when the event
	// involved speech capture.
	SpeechSeconds int

	// SpeechModel is the STT model identifier, when applicable.
	SpeechModel string

	// TokensIn and TokensOut are the LLM token counters for a generation
	// event (prompt and completion respectively).
	TokensIn  int
	TokensOut int

	// LLMModel is the generation model identifier, when applicable.
	LLMModel string

	// CostCents is the derived total cost of the event in euro cents.
	CostCents int

	CreatedAt time.Time
}
