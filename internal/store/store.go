package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/evanote/evanote/internal/soap"
)

// Errors returned by [Store] implementations. Match with errors.Is.
var (
	// ErrNotFound indicates the entity does not exist or is not owned by the
	// requesting provider. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict indicates a concurrent writer claimed the note
	// version first. The losing caller may retry the insert.
	ErrVersionConflict = errors.New("store: note version conflict")

	// ErrNoteFinalized indicates an attempt to edit a finalised note.
	// Finalised notes are immutable; changes require a new version.
	ErrNoteFinalized = errors.New("store: note is finalized")
)

// Store provides persistence for all documentation entities.
//
// Implementations must be safe for concurrent use, and must guarantee that
// no two notes for the same visit ever share a version number: version
// assignment is either serialised per visit or a losing concurrent writer
// fails with [ErrVersionConflict].
type Store interface {
	// CreatePatient inserts a new patient. The ID is generated when zero;
	// CreatedAt/UpdatedAt are populated on the passed struct.
	CreatePatient(ctx context.Context, p *Patient) error

	// PatientOwnedBy retrieves a patient by ID, scoped to the owning
	// provider. Returns [ErrNotFound] when absent or owned by someone else.
	PatientOwnedBy(ctx context.Context, id, ownerID uuid.UUID) (*Patient, error)

	// ListPatients returns all patients of the given provider, newest first.
	ListPatients(ctx context.Context, ownerID uuid.UUID) ([]Patient, error)

	// UpdatePatient updates the name fields of an owned patient.
	UpdatePatient(ctx context.Context, p *Patient) error

	// DeletePatient removes an owned patient and, via cascade, all dependent
	// visits, transcripts, notes, and metrics.
	DeletePatient(ctx context.Context, id, ownerID uuid.UUID) error

	// CreateVisit inserts a new visit in its initial status.
	CreateVisit(ctx context.Context, v *Visit) error

	// VisitOwnedBy retrieves a visit by ID filtered by the owning provider.
	// This is the ownership check every pipeline operation starts with.
	VisitOwnedBy(ctx context.Context, id, ownerID uuid.UUID) (*Visit, error)

	// ListVisits returns all visits for an owned patient, newest first.
	ListVisits(ctx context.Context, patientID, ownerID uuid.UUID) ([]Visit, error)

	// UpdateVisitStatus applies a validated [StatusPatch] to a visit.
	// StartedAt is only written when the stored value is still null.
	UpdateVisitStatus(ctx context.Context, visitID uuid.UUID, patch StatusPatch) error

	// DeleteVisit removes an owned visit and its dependent rows.
	DeleteVisit(ctx context.Context, id, ownerID uuid.UUID) error

	// CreateTranscript appends a transcript row for a visit.
	CreateTranscript(ctx context.Context, t *Transcript) error

	// LatestTranscript returns the most recently created transcript for a
	// visit, or [ErrNotFound] when the visit has none.
	LatestTranscript(ctx context.Context, visitID uuid.UUID) (*Transcript, error)

	// CreateNote inserts a note, assigning the next contiguous version for
	// the visit (1 when none exist). The assigned version and timestamps are
	// populated on the passed struct. A concurrent duplicate assignment
	// fails with [ErrVersionConflict].
	CreateNote(ctx context.Context, n *Note) error

	// LatestNote returns the highest-version note for a visit, or
	// [ErrNotFound] when the visit has none.
	LatestNote(ctx context.Context, visitID uuid.UUID) (*Note, error)

	// NoteOwnedBy retrieves a note by ID, verifying ownership through its
	// parent visit.
	NoteOwnedBy(ctx context.Context, noteID, ownerID uuid.UUID) (*Note, error)

	// ListNotes returns all note versions for a visit, newest version first.
	ListNotes(ctx context.Context, visitID uuid.UUID) ([]Note, error)

	// UpdateNoteSOAP replaces the SOAP payload of a non-finalised note.
	// Returns [ErrNoteFinalized] when the note is already final.
	UpdateNoteSOAP(ctx context.Context, noteID uuid.UUID, payload soap.Note) (*Note, error)

	// FinalizeNote flips a note's final flag. Finalising an already-final
	// note is a no-op, not an error. No version change.
	FinalizeNote(ctx context.Context, noteID uuid.UUID) (*Note, error)

	// AppendUsage records one usage metric row. Append-only.
	AppendUsage(ctx context.Context, m *UsageMetric) error
}
