// Package api exposes the documentation service as a JSON HTTP API.
//
// Every response uses a uniform envelope:
//
//	{"success": true,  "data": ...}
//	{"success": false, "error": "..."}
//
// Error messages are short, localized, and never carry internal detail;
// causes are logged server-side. All routes except health and metrics
// require a bearer token that resolves to a provider identity.
package api

import (
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/evanote/evanote/internal/config"
	"github.com/evanote/evanote/internal/pipeline"
	"github.com/evanote/evanote/internal/store"
)

// Server holds the HTTP handler state: the persistence layer, the note
// pipeline, the token table, and the hot-reloadable speech session config.
type Server struct {
	store    store.Store
	pipeline *pipeline.Pipeline
	tokens   map[string]uuid.UUID

	mu     sync.RWMutex
	speech config.SpeechConfig
}

// New constructs a Server. The auth token table is fixed for the process
// lifetime; the speech config can be swapped later via [Server.SetSpeechConfig].
func New(st store.Store, pl *pipeline.Pipeline, auth config.AuthConfig, speech config.SpeechConfig) *Server {
	tokens := make(map[string]uuid.UUID, len(auth.Tokens))
	for _, entry := range auth.Tokens {
		id, err := uuid.Parse(entry.ProviderID)
		if err != nil {
			// Config validation rejects malformed IDs before we get here.
			continue
		}
		tokens[entry.Token] = id
	}
	return &Server{
		store:    st,
		pipeline: pl,
		tokens:   tokens,
		speech:   speech,
	}
}

// SetSpeechConfig replaces the speech session parameters served to clients.
// Called by the config watcher on reload.
func (s *Server) SetSpeechConfig(sc config.SpeechConfig) {
	s.mu.Lock()
	s.speech = sc
	s.mu.Unlock()
}

func (s *Server) speechConfig() config.SpeechConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speech
}

// Register adds all API routes to mux. Every route is wrapped in the
// bearer-token authentication middleware.
func (s *Server) Register(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.authenticate(h))
	}

	handle("POST /api/v1/patients", s.handleCreatePatient)
	handle("GET /api/v1/patients", s.handleListPatients)
	handle("GET /api/v1/patients/{patientID}", s.handleGetPatient)
	handle("PUT /api/v1/patients/{patientID}", s.handleUpdatePatient)
	handle("DELETE /api/v1/patients/{patientID}", s.handleDeletePatient)

	handle("POST /api/v1/patients/{patientID}/visits", s.handleCreateVisit)
	handle("GET /api/v1/patients/{patientID}/visits", s.handleListVisits)
	handle("GET /api/v1/visits/{visitID}", s.handleGetVisit)
	handle("PUT /api/v1/visits/{visitID}/status", s.handleVisitStatus)
	handle("DELETE /api/v1/visits/{visitID}", s.handleDeleteVisit)

	handle("POST /api/v1/visits/{visitID}/transcript", s.handleSaveTranscript)
	handle("GET /api/v1/visits/{visitID}/transcript", s.handleGetTranscript)
	handle("GET /api/v1/visits/{visitID}/speech-session", s.handleSpeechSession)

	handle("POST /api/v1/visits/{visitID}/notes", s.handleGenerateNote)
	handle("POST /api/v1/visits/{visitID}/notes/regenerate", s.handleRegenerateNote)
	handle("GET /api/v1/visits/{visitID}/notes", s.handleListNotes)
	handle("GET /api/v1/notes/{noteID}", s.handleGetNote)
	handle("PUT /api/v1/notes/{noteID}", s.handleUpdateNote)
	handle("POST /api/v1/notes/{noteID}/finalize", s.handleFinalizeNote)
}
