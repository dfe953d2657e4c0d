package api

import (
	"net/http"

	"github.com/evanote/evanote/internal/pipeline"
	"github.com/evanote/evanote/internal/soap"
)

type generateNoteRequest struct {
	Transcript string `json:"transcript"`

	Language   soap.Language    `json:"language"`
	Detail     soap.DetailLevel `json:"detail"`
	BodyRegion string           `json:"body_region"`
}

func (r generateNoteRequest) options() (pipeline.Options, bool) {
	if r.Language != "" && !r.Language.IsValid() {
		return pipeline.Options{}, false
	}
	if r.Detail != "" && !r.Detail.IsValid() {
		return pipeline.Options{}, false
	}
	return pipeline.Options{
		Language:   r.Language,
		Detail:     r.Detail,
		BodyRegion: r.BodyRegion,
	}, true
}

func (s *Server) handleGenerateNote(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "visitID")
	if !ok {
		return
	}
	var req generateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts, ok := req.options()
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, msgValidation)
		return
	}
	// The request body carries fresh transcript text; keep it.
	opts.PersistTranscript = true

	result, err := s.pipeline.GenerateNote(r.Context(), providerID(r), visitID, req.Transcript, opts)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	dto := toNoteDTO(result.Note)
	dto.Reused = result.Reused
	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	writeData(w, status, dto)
}

// handleRegenerateNote re-runs generation for a visit. An empty transcript
// reuses the visit's latest stored one; an unchanged transcript with an
// existing note returns that note instead of a new version.
func (s *Server) handleRegenerateNote(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "visitID")
	if !ok {
		return
	}
	var req generateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts, ok := req.options()
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, msgValidation)
		return
	}

	result, err := s.pipeline.RegenerateNote(r.Context(), providerID(r), visitID, req.Transcript, opts)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	dto := toNoteDTO(result.Note)
	dto.Reused = result.Reused
	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	writeData(w, status, dto)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "visitID")
	if !ok {
		return
	}

	if _, err := s.store.VisitOwnedBy(r.Context(), visitID, providerID(r)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	notes, err := s.store.ListNotes(r.Context(), visitID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	dtos := make([]noteDTO, len(notes))
	for i := range notes {
		dtos[i] = toNoteDTO(&notes[i])
	}
	writeData(w, http.StatusOK, dtos)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	noteID, ok := pathID(w, r, "noteID")
	if !ok {
		return
	}

	n, err := s.store.NoteOwnedBy(r.Context(), noteID, providerID(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toNoteDTO(n))
}

type updateNoteRequest struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	noteID, ok := pathID(w, r, "noteID")
	if !ok {
		return
	}
	var req updateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	payload := soap.Note{
		Subjective: req.Subjective,
		Objective:  req.Objective,
		Assessment: req.Assessment,
		Plan:       req.Plan,
	}
	n, err := s.pipeline.UpdateNote(r.Context(), providerID(r), noteID, payload)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toNoteDTO(n))
}

func (s *Server) handleFinalizeNote(w http.ResponseWriter, r *http.Request) {
	noteID, ok := pathID(w, r, "noteID")
	if !ok {
		return
	}

	n, err := s.pipeline.FinalizeNote(r.Context(), providerID(r), noteID)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toNoteDTO(n))
}
