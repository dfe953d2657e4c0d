package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evanote/evanote/internal/config"
	"github.com/evanote/evanote/internal/generate"
	"github.com/evanote/evanote/internal/observe"
	"github.com/evanote/evanote/internal/pipeline"
	"github.com/evanote/evanote/internal/resilience"
	"github.com/evanote/evanote/internal/soap"
	"github.com/evanote/evanote/internal/store"
	"github.com/evanote/evanote/pkg/llm"
	"github.com/evanote/evanote/pkg/llm/mock"
)

const testToken = "tok-test"

const rawTranscript = "Ähm, der Patient berichtet über Knieschmerzen rechts seit drei Tagen, " +
	"äh, besonders beim Treppensteigen. Flexion etwa 95 Grad."

const noteJSON = `{
	"subjective": "Knieschmerzen rechts seit 3 Tagen, verstärkt beim Treppensteigen.",
	"objective": "Flexion ca. 95°.",
	"assessment": "V. a. patellofemorales Schmerzsyndrom.",
	"plan": "Kräftigungsübungen, Kontrolle in einer Woche."
}`

// testEnv bundles a fully wired server over a MemStore and a scripted LLM
// mock, plus one seeded patient and visit.
type testEnv struct {
	mux      *http.ServeMux
	server   *Server
	store    *store.MemStore
	provider *mock.Provider

	ownerID   uuid.UUID
	patientID uuid.UUID
	visitID   uuid.UUID
}

func newTestEnv(t *testing.T, responses []*llm.Response, errs []error) *testEnv {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemStore()
	ownerID := uuid.New()

	patient := &store.Patient{OwnerID: ownerID, FirstName: "Anna", LastName: "Muster"}
	if err := st.CreatePatient(ctx, patient); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	visit := &store.Visit{PatientID: patient.ID, ProviderID: ownerID}
	if err := st.CreateVisit(ctx, visit); err != nil {
		t.Fatalf("create visit: %v", err)
	}

	provider := &mock.Provider{Responses: responses, Errs: errs}
	gen := generate.New(provider, 0.2, 1024)
	retrier := resilience.NewRetrier(3, nil, resilience.WithSleep(
		func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	))
	pl := pipeline.New(st, gen, retrier, observe.DefaultMetrics(), "azure:gpt-4o-mini-eu")

	auth := config.AuthConfig{Tokens: []config.TokenEntry{
		{Token: testToken, ProviderID: ownerID.String()},
	}}
	speech := config.SpeechConfig{
		Model:          "nova-3",
		Language:       soap.LanguageGerman,
		TimeoutMS:      30000,
		MaxDurationSec: 900,
	}

	srv := New(st, pl, auth, speech)
	mux := http.NewServeMux()
	srv.Register(mux)

	return &testEnv{
		mux:       mux,
		server:    srv,
		store:     st,
		provider:  provider,
		ownerID:   ownerID,
		patientID: patient.ID,
		visitID:   visit.ID,
	}
}

type response struct {
	status int

	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// do issues an authenticated JSON request against the test mux.
func (e *testEnv) do(t *testing.T, method, path string, body any) response {
	t.Helper()
	return e.doWithToken(t, method, path, testToken, body)
}

func (e *testEnv) doWithToken(t *testing.T, method, path, token string, body any) response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	resp := response{status: rec.Code}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode envelope %q: %v", rec.Body.String(), err)
		}
	}
	return resp
}

func decodeData[T any](t *testing.T, resp response) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		t.Fatalf("decode data %q: %v", resp.Data, err)
	}
	return v
}

func TestAuthentication(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"unknown token", "tok-wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.doWithToken(t, http.MethodGet, "/api/v1/patients", tt.token, nil)
			if resp.status != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.status)
			}
			if resp.Success {
				t.Error("envelope reports success")
			}
			if resp.Error == "" {
				t.Error("envelope has no error message")
			}
		})
	}
}

func TestPatientCRUD(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	created := e.do(t, http.MethodPost, "/api/v1/patients",
		patientRequest{FirstName: "Max", LastName: "Beispiel"})
	if created.status != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", created.status)
	}
	p := decodeData[patientDTO](t, created)
	if p.FirstName != "Max" || p.ID == uuid.Nil {
		t.Errorf("unexpected patient: %+v", p)
	}

	list := e.do(t, http.MethodGet, "/api/v1/patients", nil)
	patients := decodeData[[]patientDTO](t, list)
	if len(patients) != 2 {
		t.Fatalf("listed %d patients, want 2", len(patients))
	}

	updated := e.do(t, http.MethodPut, "/api/v1/patients/"+p.ID.String(),
		patientRequest{FirstName: "Maximilian", LastName: "Beispiel"})
	if updated.status != http.StatusOK {
		t.Fatalf("update status = %d", updated.status)
	}
	if got := decodeData[patientDTO](t, updated); got.FirstName != "Maximilian" {
		t.Errorf("first name = %q after update", got.FirstName)
	}

	deleted := e.do(t, http.MethodDelete, "/api/v1/patients/"+p.ID.String(), nil)
	if deleted.status != http.StatusOK {
		t.Fatalf("delete status = %d", deleted.status)
	}
	if resp := e.do(t, http.MethodGet, "/api/v1/patients/"+p.ID.String(), nil); resp.status != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.status)
	}
}

func TestPatientValidation(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	resp := e.do(t, http.MethodPost, "/api/v1/patients", patientRequest{FirstName: "", LastName: "X"})
	if resp.status != http.StatusUnprocessableEntity {
		t.Errorf("empty first name: status = %d, want 422", resp.status)
	}
}

func TestMalformedBody(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMalformedIDIsNotFound(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	resp := e.do(t, http.MethodGet, "/api/v1/patients/not-a-uuid", nil)
	if resp.status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.status)
	}
}

func TestVisitLifecycle(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	created := e.do(t, http.MethodPost, "/api/v1/patients/"+e.patientID.String()+"/visits",
		createVisitRequest{Language: soap.LanguageFrench})
	if created.status != http.StatusCreated {
		t.Fatalf("create visit status = %d", created.status)
	}
	v := decodeData[visitDTO](t, created)
	if v.Status != store.StatusDraft || v.Language != soap.LanguageFrench {
		t.Errorf("unexpected visit: %+v", v)
	}

	started := e.do(t, http.MethodPut, "/api/v1/visits/"+v.ID.String()+"/status",
		visitStatusRequest{Status: store.StatusRecording})
	if started.status != http.StatusOK {
		t.Fatalf("status update = %d", started.status)
	}
	sv := decodeData[visitDTO](t, started)
	if sv.Status != store.StatusRecording {
		t.Errorf("status = %s, want recording", sv.Status)
	}
	if sv.StartedAt == nil {
		t.Error("started_at not stamped on recording start")
	}

	// draft → completed is not a permitted edge.
	bad := e.do(t, http.MethodPut, "/api/v1/visits/"+e.visitID.String()+"/status",
		visitStatusRequest{Status: store.StatusCompleted})
	if bad.status != http.StatusUnprocessableEntity {
		t.Errorf("invalid transition status = %d, want 422", bad.status)
	}
}

func TestVisitOwnership(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	ctx := context.Background()

	// A visit owned by a different provider must be indistinguishable from a
	// missing one.
	otherOwner := uuid.New()
	foreignPatient := &store.Patient{OwnerID: otherOwner, FirstName: "Jean", LastName: "Dupont"}
	if err := e.store.CreatePatient(ctx, foreignPatient); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	foreignVisit := &store.Visit{PatientID: foreignPatient.ID, ProviderID: otherOwner}
	if err := e.store.CreateVisit(ctx, foreignVisit); err != nil {
		t.Fatalf("create visit: %v", err)
	}

	resp := e.do(t, http.MethodGet, "/api/v1/visits/"+foreignVisit.ID.String(), nil)
	if resp.status != http.StatusNotFound {
		t.Errorf("foreign visit status = %d, want 404", resp.status)
	}
}

func TestTranscriptSaveAndFetch(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	saved := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/transcript",
		saveTranscriptRequest{Text: rawTranscript, Language: "de"})
	if saved.status != http.StatusCreated {
		t.Fatalf("save status = %d", saved.status)
	}
	tr := decodeData[transcriptDTO](t, saved)
	if bytes.Contains([]byte(tr.Text), []byte("Ähm")) {
		t.Error("filler words not removed from stored transcript")
	}

	fetched := e.do(t, http.MethodGet, "/api/v1/visits/"+e.visitID.String()+"/transcript", nil)
	if fetched.status != http.StatusOK {
		t.Fatalf("fetch status = %d", fetched.status)
	}
	if got := decodeData[transcriptDTO](t, fetched); got.Text != tr.Text {
		t.Error("fetched transcript differs from saved one")
	}
}

func TestTranscriptWithSpeechPayload(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	payload := json.RawMessage(`{
		"metadata": {"duration": 61.2, "model_info": {"name": "nova-3"}},
		"channel": {"detected_language": "de", "alternatives": [{"confidence": 0.95}]}
	}`)
	saved := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/transcript",
		saveTranscriptRequest{Text: rawTranscript, RawPayload: payload})
	if saved.status != http.StatusCreated {
		t.Fatalf("save status = %d", saved.status)
	}
	if tr := decodeData[transcriptDTO](t, saved); tr.Language != "de" {
		t.Errorf("detected language not applied: %q", tr.Language)
	}

	metrics := e.store.UsageMetrics(e.visitID)
	if len(metrics) != 1 {
		t.Fatalf("recorded %d usage rows, want 1", len(metrics))
	}
	if m := metrics[0]; m.SpeechSeconds != 61 || m.SpeechModel != "nova-3" {
		t.Errorf("unexpected usage row: %+v", m)
	}
}

func TestTranscriptTooShort(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	resp := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/transcript",
		saveTranscriptRequest{Text: "zu kurz"})
	if resp.status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.status)
	}
}

func TestSpeechSession(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	resp := e.do(t, http.MethodGet, "/api/v1/visits/"+e.visitID.String()+"/speech-session", nil)
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d", resp.status)
	}
	sc := decodeData[speechSessionDTO](t, resp)
	if sc.Model != "nova-3" || sc.TimeoutMS != 30000 || sc.MaxDurationSec != 900 {
		t.Errorf("unexpected session config: %+v", sc)
	}

	// Hot reload swaps the served parameters without a restart.
	e.server.SetSpeechConfig(config.SpeechConfig{
		Model:          "nova-3",
		Language:       soap.LanguageGerman,
		TimeoutMS:      45000,
		MaxDurationSec: 600,
	})
	resp = e.do(t, http.MethodGet, "/api/v1/visits/"+e.visitID.String()+"/speech-session", nil)
	if sc := decodeData[speechSessionDTO](t, resp); sc.TimeoutMS != 45000 {
		t.Errorf("timeout after reload = %d, want 45000", sc.TimeoutMS)
	}
}

func TestSpeechSessionUsesVisitLanguage(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	ctx := context.Background()

	visit := &store.Visit{
		PatientID:  e.patientID,
		ProviderID: e.ownerID,
		Language:   soap.LanguageFrench,
	}
	if err := e.store.CreateVisit(ctx, visit); err != nil {
		t.Fatalf("create visit: %v", err)
	}

	resp := e.do(t, http.MethodGet, "/api/v1/visits/"+visit.ID.String()+"/speech-session", nil)
	if sc := decodeData[speechSessionDTO](t, resp); sc.Language != soap.LanguageFrench {
		t.Errorf("language = %q, want fr", sc.Language)
	}
}

func TestGenerateNote(t *testing.T) {
	e := newTestEnv(t, []*llm.Response{{
		Content: noteJSON,
		Usage:   llm.Usage{PromptTokens: 150, CompletionTokens: 90, TotalTokens: 240},
	}}, nil)

	resp := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/notes",
		generateNoteRequest{Transcript: rawTranscript})
	if resp.status != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (error %q)", resp.status, resp.Error)
	}
	n := decodeData[noteDTO](t, resp)
	if n.Version != 1 || n.IsFinal || n.Reused {
		t.Errorf("unexpected note: %+v", n)
	}
	if n.SOAP.Subjective == "" {
		t.Error("SOAP payload missing")
	}

	// Identical resubmission is idempotent: 200 with the same note.
	again := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/notes",
		generateNoteRequest{Transcript: rawTranscript})
	if again.status != http.StatusOK {
		t.Fatalf("resubmit status = %d, want 200", again.status)
	}
	n2 := decodeData[noteDTO](t, again)
	if !n2.Reused || n2.ID != n.ID {
		t.Errorf("resubmission not reused: %+v", n2)
	}
	if calls := len(e.provider.CompleteCalls); calls != 1 {
		t.Errorf("LLM called %d times, want 1", calls)
	}
}

func TestGenerateNote_TooShort(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	resp := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/notes",
		generateNoteRequest{Transcript: "zu kurz"})
	if resp.status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.status)
	}
}

func TestGenerateNote_InvalidOptions(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	resp := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/notes",
		generateNoteRequest{Transcript: rawTranscript, Language: "it"})
	if resp.status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.status)
	}
	if len(e.provider.CompleteCalls) != 0 {
		t.Error("LLM called despite invalid options")
	}
}

func TestGenerateNote_BackendDown(t *testing.T) {
	backendErr := errors.New("upstream unavailable")
	e := newTestEnv(t, nil, []error{backendErr, backendErr, backendErr})

	resp := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/notes",
		generateNoteRequest{Transcript: rawTranscript})
	if resp.status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.status)
	}
	if resp.Error == "" {
		t.Error("no user-facing error message")
	}
	if bytes.Contains([]byte(resp.Error), []byte("upstream")) {
		t.Error("internal error detail leaked to client")
	}
}

func TestRegenerateNote(t *testing.T) {
	e := newTestEnv(t, []*llm.Response{{Content: noteJSON}}, nil)

	first := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/notes",
		generateNoteRequest{Transcript: rawTranscript})
	if first.status != http.StatusCreated {
		t.Fatalf("generate status = %d", first.status)
	}

	// Regenerate with no transcript reuses the stored one; its content is
	// unchanged, so the existing note comes back instead of a new version.
	second := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/notes/regenerate",
		generateNoteRequest{})
	if second.status != http.StatusOK {
		t.Fatalf("regenerate status = %d (error %q)", second.status, second.Error)
	}
	reused := decodeData[noteDTO](t, second)
	if reused.Version != 1 || !reused.Reused {
		t.Errorf("got v%d reused=%t, want the original v1 reused", reused.Version, reused.Reused)
	}

	// Regenerating with changed transcript text mints the next version.
	third := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/notes/regenerate",
		generateNoteRequest{Transcript: rawTranscript + " Zusätzlich Schwellung am Abend."})
	if third.status != http.StatusCreated {
		t.Fatalf("regenerate status = %d (error %q)", third.status, third.Error)
	}
	if n := decodeData[noteDTO](t, third); n.Version != 2 {
		t.Errorf("version = %d, want 2", n.Version)
	}

	list := e.do(t, http.MethodGet, "/api/v1/visits/"+e.visitID.String()+"/notes", nil)
	if notes := decodeData[[]noteDTO](t, list); len(notes) != 2 {
		t.Errorf("listed %d notes, want 2", len(notes))
	}
}

func TestUpdateAndFinalizeNote(t *testing.T) {
	e := newTestEnv(t, []*llm.Response{{Content: noteJSON}}, nil)

	created := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/notes",
		generateNoteRequest{Transcript: rawTranscript})
	n := decodeData[noteDTO](t, created)

	edited := e.do(t, http.MethodPut, "/api/v1/notes/"+n.ID.String(), updateNoteRequest{
		Subjective: "Schmerzen rückläufig.",
		Objective:  "Flexion 110°.",
		Assessment: "Besserung.",
		Plan:       "Übungen fortführen.",
	})
	if edited.status != http.StatusOK {
		t.Fatalf("update status = %d (error %q)", edited.status, edited.Error)
	}
	if got := decodeData[noteDTO](t, edited); got.Version != n.Version {
		t.Error("manual edit must not bump the version")
	}

	final := e.do(t, http.MethodPost, "/api/v1/notes/"+n.ID.String()+"/finalize", nil)
	if final.status != http.StatusOK {
		t.Fatalf("finalize status = %d", final.status)
	}
	if got := decodeData[noteDTO](t, final); !got.IsFinal {
		t.Error("note not marked final")
	}

	// Edits after finalization are conflicts.
	blocked := e.do(t, http.MethodPut, "/api/v1/notes/"+n.ID.String(), updateNoteRequest{
		Subjective: "x", Objective: "x", Assessment: "x", Plan: "x",
	})
	if blocked.status != http.StatusConflict {
		t.Errorf("edit after finalize status = %d, want 409", blocked.status)
	}
}

func TestUpdateNote_InvalidPayload(t *testing.T) {
	e := newTestEnv(t, []*llm.Response{{Content: noteJSON}}, nil)

	created := e.do(t, http.MethodPost, "/api/v1/visits/"+e.visitID.String()+"/notes",
		generateNoteRequest{Transcript: rawTranscript})
	n := decodeData[noteDTO](t, created)

	resp := e.do(t, http.MethodPut, "/api/v1/notes/"+n.ID.String(), updateNoteRequest{
		Subjective: "", Objective: "x", Assessment: "x", Plan: "x",
	})
	if resp.status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.status)
	}
}
