package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/evanote/evanote/internal/soap"
	"github.com/evanote/evanote/internal/store"
)

type patientDTO struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPatientDTO(p *store.Patient) patientDTO {
	return patientDTO{
		ID:        p.ID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type visitDTO struct {
	ID        uuid.UUID         `json:"id"`
	PatientID uuid.UUID         `json:"patient_id"`
	Status    store.VisitStatus `json:"status"`
	Language  soap.Language     `json:"language"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func toVisitDTO(v *store.Visit) visitDTO {
	return visitDTO{
		ID:        v.ID,
		PatientID: v.PatientID,
		Status:    v.Status,
		Language:  v.Language,
		StartedAt: v.StartedAt,
		EndedAt:   v.EndedAt,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

type transcriptDTO struct {
	ID        uuid.UUID `json:"id"`
	VisitID   uuid.UUID `json:"visit_id"`
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toTranscriptDTO(t *store.Transcript) transcriptDTO {
	return transcriptDTO{
		ID:        t.ID,
		VisitID:   t.VisitID,
		Text:      t.Text,
		Language:  t.Language,
		CreatedAt: t.CreatedAt,
	}
}

type noteDTO struct {
	ID        uuid.UUID `json:"id"`
	VisitID   uuid.UUID `json:"visit_id"`
	SOAP      soap.Note `json:"soap"`
	Model     string    `json:"model"`
	Version   int       `json:"version"`
	IsFinal   bool      `json:"is_final"`
	Reused    bool      `json:"reused,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toNoteDTO(n *store.Note) noteDTO {
	return noteDTO{
		ID:        n.ID,
		VisitID:   n.VisitID,
		SOAP:      n.SOAP,
		Model:     n.Model,
		Version:   n.Version,
		IsFinal:   n.IsFinal,
		CreatedAt: n.CreatedAt,
	}
}

type speechSessionDTO struct {
	Model          string        `json:"model"`
	Language       soap.Language `json:"language"`
	TimeoutMS      int           `json:"timeout_ms"`
	MaxDurationSec int           `json:"max_duration_sec"`
}
