package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/evanote/evanote/internal/observe"
	"github.com/evanote/evanote/internal/soap"
	"github.com/evanote/evanote/internal/store"
	"github.com/evanote/evanote/internal/transcript"
)

type createVisitRequest struct {
	Language soap.Language `json:"language"`
}

func (s *Server) handleCreateVisit(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}
	var req createVisitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Language != "" && !req.Language.IsValid() {
		writeError(w, http.StatusUnprocessableEntity, msgValidation)
		return
	}

	owner := providerID(r)
	if _, err := s.store.PatientOwnedBy(r.Context(), patientID, owner); err != nil {
		writeStoreError(w, r, err)
		return
	}

	v := &store.Visit{
		PatientID:  patientID,
		ProviderID: owner,
		Language:   req.Language,
	}
	if err := s.store.CreateVisit(r.Context(), v); err != nil {
		writeStoreError(w, r, err)
		return
	}

	observe.Logger(r.Context()).Info("visit created",
		"visit_id", v.ID, "patient_id", patientID)
	writeData(w, http.StatusCreated, toVisitDTO(v))
}

func (s *Server) handleListVisits(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}

	visits, err := s.store.ListVisits(r.Context(), patientID, providerID(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	dtos := make([]visitDTO, len(visits))
	for i := range visits {
		dtos[i] = toVisitDTO(&visits[i])
	}
	writeData(w, http.StatusOK, dtos)
}

func (s *Server) handleGetVisit(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "visitID")
	if !ok {
		return
	}

	v, err := s.store.VisitOwnedBy(r.Context(), visitID, providerID(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toVisitDTO(v))
}

type visitStatusRequest struct {
	Status store.VisitStatus `json:"status"`
}

// handleVisitStatus applies a client-driven lifecycle transition, such as
// starting a recording session. The generation transitions (processing,
// completed, failed) are driven by the pipeline, but the same edge rules
// apply here: anything the lifecycle table forbids is rejected.
func (s *Server) handleVisitStatus(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "visitID")
	if !ok {
		return
	}
	var req visitStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	v, err := s.store.VisitOwnedBy(r.Context(), visitID, providerID(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	patch, err := store.Transition(v.Status, req.Status, time.Now())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgValidation)
		return
	}
	if err := s.store.UpdateVisitStatus(r.Context(), visitID, patch); err != nil {
		writeStoreError(w, r, err)
		return
	}

	updated, err := s.store.VisitOwnedBy(r.Context(), visitID, providerID(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toVisitDTO(updated))
}

func (s *Server) handleDeleteVisit(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "visitID")
	if !ok {
		return
	}

	if err := s.store.DeleteVisit(r.Context(), visitID, providerID(r)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("visit deleted", "visit_id", visitID)
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

type saveTranscriptRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`

	// RawPayload is the opaque STT provider response, when the client
	// captured speech through Deepgram. Stored as-is; language, confidence,
	// and audio duration are extracted from it when present.
	RawPayload json.RawMessage `json:"raw_payload"`
}

// handleSaveTranscript persists a manually entered or externally transcribed
// text for a visit without triggering note generation.
func (s *Server) handleSaveTranscript(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "visitID")
	if !ok {
		return
	}
	var req saveTranscriptRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := s.store.VisitOwnedBy(r.Context(), visitID, providerID(r)); err != nil {
		writeStoreError(w, r, err)
		return
	}

	cleaned := transcript.Clean(req.Text)
	if _, err := transcript.ValidateLength(cleaned); err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgValidation)
		return
	}

	meta := transcript.ExtractMetadata(req.RawPayload)
	lang := req.Language
	if lang == "" {
		lang = meta.Language
	}

	tr := &store.Transcript{
		VisitID:    visitID,
		Text:       cleaned,
		RawPayload: req.RawPayload,
		Language:   lang,
		Confidence: meta.Confidence,
	}
	if err := s.store.CreateTranscript(r.Context(), tr); err != nil {
		writeStoreError(w, r, err)
		return
	}

	// Transcribed audio is billable; losing the row is not worth failing
	// the save.
	if meta.Duration > 0 {
		err := s.store.AppendUsage(r.Context(), &store.UsageMetric{
			VisitID:       visitID,
			SpeechSeconds: int(meta.Duration + 0.5),
			SpeechModel:   meta.Model,
		})
		if err != nil {
			observe.Logger(r.Context()).Warn("speech usage not recorded",
				"visit_id", visitID, "error", err)
		}
	}
	writeData(w, http.StatusCreated, toTranscriptDTO(tr))
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "visitID")
	if !ok {
		return
	}

	if _, err := s.store.VisitOwnedBy(r.Context(), visitID, providerID(r)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	tr, err := s.store.LatestTranscript(r.Context(), visitID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toTranscriptDTO(tr))
}

// handleSpeechSession hands the client the parameters for a browser-side
// speech capture session. The service itself never talks to the STT
// provider; audio streams from the browser directly.
func (s *Server) handleSpeechSession(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "visitID")
	if !ok {
		return
	}

	v, err := s.store.VisitOwnedBy(r.Context(), visitID, providerID(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	sc := s.speechConfig()
	lang := sc.Language
	if v.Language == soap.LanguageGerman || v.Language == soap.LanguageFrench {
		lang = v.Language
	}
	writeData(w, http.StatusOK, speechSessionDTO{
		Model:          sc.Model,
		Language:       lang,
		TimeoutMS:      sc.TimeoutMS,
		MaxDurationSec: sc.MaxDurationSec,
	})
}
