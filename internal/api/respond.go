package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/evanote/evanote/internal/observe"
	"github.com/evanote/evanote/internal/pipeline"
	"github.com/evanote/evanote/internal/store"
)

// maxBodyBytes bounds request bodies. Transcripts top out at 100k runes,
// so 2 MiB leaves ample headroom for any valid payload.
const maxBodyBytes = 2 << 20

// Localized user-facing error messages. Internal detail goes to the log,
// never to the client.
const (
	msgUnauthenticated = "Anmeldung erforderlich."
	msgBadRequest      = "Ungültige Anfrage."
	msgNotFound        = "Nicht gefunden."
	msgValidation      = "Ungültige Eingabe."
	msgGeneration      = "Die Notiz konnte nicht erstellt werden. Bitte erneut versuchen."
	msgConflict        = "Die Notiz ist bereits finalisiert und kann nicht geändert werden."
	msgInternal        = "Interner Fehler."
)

// envelope is the uniform response shape of every API endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// Headers are already out when Encode fails; nothing useful left to do.
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// writePipelineError maps the pipeline error taxonomy to HTTP status codes
// and localized messages, logging the cause server-side.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	log := observe.Logger(r.Context())
	switch pipeline.KindOf(err) {
	case pipeline.KindNotFound:
		writeError(w, http.StatusNotFound, msgNotFound)
	case pipeline.KindValidation:
		log.Info("request rejected", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusUnprocessableEntity, msgValidation)
	case pipeline.KindGeneration:
		log.Error("generation failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, msgGeneration)
	case pipeline.KindConflict:
		writeError(w, http.StatusConflict, msgConflict)
	default:
		log.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

// writeStoreError maps raw store errors for handlers that bypass the
// pipeline (plain CRUD).
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, store.ErrNoteFinalized):
		writeError(w, http.StatusConflict, msgConflict)
	default:
		observe.Logger(r.Context()).Error("store operation failed",
			"path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

// decodeBody decodes the JSON request body into v, rejecting unknown fields
// and oversized payloads.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return false
	}
	return true
}

// pathID parses the named UUID path segment. A malformed ID is reported as
// not found, matching the policy of never distinguishing bad references
// from missing ones.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusNotFound, msgNotFound)
		return uuid.Nil, false
	}
	return id, true
}
