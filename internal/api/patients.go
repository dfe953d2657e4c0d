package api

import (
	"net/http"

	"github.com/evanote/evanote/internal/observe"
	"github.com/evanote/evanote/internal/store"
)

type patientRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p := &store.Patient{
		OwnerID:   providerID(r),
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgValidation)
		return
	}
	if err := s.store.CreatePatient(r.Context(), p); err != nil {
		writeStoreError(w, r, err)
		return
	}

	observe.Logger(r.Context()).Info("patient created", "patient_id", p.ID)
	writeData(w, http.StatusCreated, toPatientDTO(p))
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.store.ListPatients(r.Context(), providerID(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	dtos := make([]patientDTO, len(patients))
	for i := range patients {
		dtos[i] = toPatientDTO(&patients[i])
	}
	writeData(w, http.StatusOK, dtos)
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}

	p, err := s.store.PatientOwnedBy(r.Context(), id, providerID(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPatientDTO(p))
}

func (s *Server) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}
	var req patientRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p := &store.Patient{
		ID:        id,
		OwnerID:   providerID(r),
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgValidation)
		return
	}
	if err := s.store.UpdatePatient(r.Context(), p); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPatientDTO(p))
}

func (s *Server) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}

	if err := s.store.DeletePatient(r.Context(), id, providerID(r)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("patient deleted", "patient_id", id)
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}
