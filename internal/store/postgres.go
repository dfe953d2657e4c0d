package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/evanote/evanote/internal/soap"
)

// Schema is the SQL DDL for all documentation tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// The UNIQUE (visit_id, version) constraint on notes is load-bearing: it is
// what guarantees two concurrent generations for the same visit can never
// commit the same version number.
const Schema = `
CREATE TABLE IF NOT EXISTS patients (
    id         UUID PRIMARY KEY,
    owner_id   UUID NOT NULL,
    first_name TEXT NOT NULL,
    last_name  TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_patients_owner ON patients(owner_id);

CREATE TABLE IF NOT EXISTS visits (
    id            UUID PRIMARY KEY,
    patient_id    UUID NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
    provider_id   UUID NOT NULL,
    status        TEXT NOT NULL DEFAULT 'draft',
    language_pref TEXT NOT NULL DEFAULT 'de',
    started_at    TIMESTAMPTZ,
    ended_at      TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_visits_patient ON visits(patient_id);
CREATE INDEX IF NOT EXISTS idx_visits_provider ON visits(provider_id);

CREATE TABLE IF NOT EXISTS transcripts (
    id          UUID PRIMARY KEY,
    visit_id    UUID NOT NULL REFERENCES visits(id) ON DELETE CASCADE,
    text        TEXT NOT NULL,
    raw_payload JSONB,
    language    TEXT NOT NULL DEFAULT '',
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcripts_visit ON transcripts(visit_id, created_at DESC);

CREATE TABLE IF NOT EXISTS notes (
    id         UUID PRIMARY KEY,
    visit_id   UUID NOT NULL REFERENCES visits(id) ON DELETE CASCADE,
    soap       JSONB NOT NULL,
    model      TEXT NOT NULL DEFAULT '',
    version    INTEGER NOT NULL CHECK (version >= 1),
    is_final   BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (visit_id, version)
);

CREATE TABLE IF NOT EXISTS usage_metrics (
    id             UUID PRIMARY KEY,
    visit_id       UUID NOT NULL REFERENCES visits(id) ON DELETE CASCADE,
    speech_seconds INTEGER NOT NULL DEFAULT 0,
    speech_model   TEXT NOT NULL DEFAULT '',
    tokens_in      INTEGER NOT NULL DEFAULT 0,
    tokens_out     INTEGER NOT NULL DEFAULT 0,
    llm_model      TEXT NOT NULL DEFAULT '',
    cost_cents     INTEGER NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_usage_metrics_visit ON usage_metrics(visit_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. SOAP payloads and raw STT
// responses are stored as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on the given connection or
// pool. Call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating tables and indexes if they do
// not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreatePatient implements [Store.CreatePatient].
func (s *PostgresStore) CreatePatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	const query = `
		INSERT INTO patients (id, owner_id, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query, p.ID, p.OwnerID, p.FirstName, p.LastName).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create patient: %w", err)
	}
	return nil
}

// PatientOwnedBy implements [Store.PatientOwnedBy].
func (s *PostgresStore) PatientOwnedBy(ctx context.Context, id, ownerID uuid.UUID) (*Patient, error) {
	const query = `
		SELECT id, owner_id, first_name, last_name, created_at, updated_at
		FROM patients
		WHERE id = $1 AND owner_id = $2`

	var p Patient
	err := s.db.QueryRow(ctx, query, id, ownerID).
		Scan(&p.ID, &p.OwnerID, &p.FirstName, &p.LastName, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get patient %s: %w", id, err)
	}
	return &p, nil
}

// ListPatients implements [Store.ListPatients].
func (s *PostgresStore) ListPatients(ctx context.Context, ownerID uuid.UUID) ([]Patient, error) {
	const query = `
		SELECT id, owner_id, first_name, last_name, created_at, updated_at
		FROM patients
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list patients: %w", err)
	}
	defer rows.Close()

	var patients []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.FirstName, &p.LastName, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list patients: %w", err)
	}
	return patients, nil
}

// UpdatePatient implements [Store.UpdatePatient].
func (s *PostgresStore) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}

	const query = `
		UPDATE patients
		SET first_name = $3, last_name = $4, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING updated_at`

	err := s.db.QueryRow(ctx, query, p.ID, p.OwnerID, p.FirstName, p.LastName).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("store: update patient %s: %w", p.ID, err)
	}
	return nil
}

// DeletePatient implements [Store.DeletePatient].
func (s *PostgresStore) DeletePatient(ctx context.Context, id, ownerID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM patients WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("store: delete patient %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateVisit implements [Store.CreateVisit].
func (s *PostgresStore) CreateVisit(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Status == "" {
		v.Status = StatusDraft
	}
	if v.Language == "" {
		v.Language = soap.LanguageGerman
	}

	const query = `
		INSERT INTO visits (id, patient_id, provider_id, status, language_pref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query, v.ID, v.PatientID, v.ProviderID, string(v.Status), string(v.Language)).
		Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create visit: %w", err)
	}
	return nil
}

// VisitOwnedBy implements [Store.VisitOwnedBy].
func (s *PostgresStore) VisitOwnedBy(ctx context.Context, id, ownerID uuid.UUID) (*Visit, error) {
	const query = `
		SELECT id, patient_id, provider_id, status, language_pref,
		       started_at, ended_at, created_at, updated_at
		FROM visits
		WHERE id = $1 AND provider_id = $2`

	var v Visit
	err := s.db.QueryRow(ctx, query, id, ownerID).Scan(
		&v.ID, &v.PatientID, &v.ProviderID, &v.Status, &v.Language,
		&v.StartedAt, &v.EndedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get visit %s: %w", id, err)
	}
	return &v, nil
}

// ListVisits implements [Store.ListVisits].
func (s *PostgresStore) ListVisits(ctx context.Context, patientID, ownerID uuid.UUID) ([]Visit, error) {
	const query = `
		SELECT id, patient_id, provider_id, status, language_pref,
		       started_at, ended_at, created_at, updated_at
		FROM visits
		WHERE patient_id = $1 AND provider_id = $2
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, patientID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list visits: %w", err)
	}
	defer rows.Close()

	var visits []Visit
	for rows.Next() {
		var v Visit
		if err := rows.Scan(
			&v.ID, &v.PatientID, &v.ProviderID, &v.Status, &v.Language,
			&v.StartedAt, &v.EndedAt, &v.CreatedAt, &v.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan visit: %w", err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list visits: %w", err)
	}
	return visits, nil
}

// UpdateVisitStatus implements [Store.UpdateVisitStatus]. StartedAt is only
// written when the stored value is still null; EndedAt overwrites so that a
// regenerated visit reflects its latest completion time.
func (s *PostgresStore) UpdateVisitStatus(ctx context.Context, visitID uuid.UUID, patch StatusPatch) error {
	const query = `
		UPDATE visits
		SET status     = $2,
		    started_at = COALESCE(started_at, $3),
		    ended_at   = COALESCE($4, ended_at),
		    updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, visitID, string(patch.Status), patch.StartedAt, patch.EndedAt)
	if err != nil {
		return fmt.Errorf("store: update visit status %s: %w", visitID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteVisit implements [Store.DeleteVisit].
func (s *PostgresStore) DeleteVisit(ctx context.Context, id, ownerID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM visits WHERE id = $1 AND provider_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("store: delete visit %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateTranscript implements [Store.CreateTranscript].
func (s *PostgresStore) CreateTranscript(ctx context.Context, t *Transcript) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	const query = `
		INSERT INTO transcripts (id, visit_id, text, raw_payload, language, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	var raw any
	if len(t.RawPayload) > 0 {
		raw = t.RawPayload
	}

	err := s.db.QueryRow(ctx, query, t.ID, t.VisitID, t.Text, raw, t.Language, t.Confidence).
		Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create transcript: %w", err)
	}
	return nil
}

// LatestTranscript implements [Store.LatestTranscript].
func (s *PostgresStore) LatestTranscript(ctx context.Context, visitID uuid.UUID) (*Transcript, error) {
	const query = `
		SELECT id, visit_id, text, raw_payload, language, confidence, created_at
		FROM transcripts
		WHERE visit_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var t Transcript
	err := s.db.QueryRow(ctx, query, visitID).
		Scan(&t.ID, &t.VisitID, &t.Text, &t.RawPayload, &t.Language, &t.Confidence, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: latest transcript for %s: %w", visitID, err)
	}
	return &t, nil
}

// CreateNote implements [Store.CreateNote]. The version is computed and
// inserted in one statement; the UNIQUE (visit_id, version) constraint turns
// a lost race into [ErrVersionConflict] instead of a silent duplicate.
func (s *PostgresStore) CreateNote(ctx context.Context, n *Note) error {
	if err := n.SOAP.Validate(); err != nil {
		return err
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	payload, err := json.Marshal(n.SOAP)
	if err != nil {
		return fmt.Errorf("store: marshal soap: %w", err)
	}

	const query = `
		INSERT INTO notes (id, visit_id, soap, model, version, is_final)
		SELECT $1, $2, $3, $4, COALESCE(MAX(version), 0) + 1, $5
		FROM notes
		WHERE visit_id = $2
		RETURNING version, created_at`

	err = s.db.QueryRow(ctx, query, n.ID, n.VisitID, payload, n.Model, n.IsFinal).
		Scan(&n.Version, &n.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("store: create note: %w", err)
	}
	return nil
}

// LatestNote implements [Store.LatestNote].
func (s *PostgresStore) LatestNote(ctx context.Context, visitID uuid.UUID) (*Note, error) {
	const query = `
		SELECT id, visit_id, soap, model, version, is_final, created_at
		FROM notes
		WHERE visit_id = $1
		ORDER BY version DESC
		LIMIT 1`

	return s.scanNote(s.db.QueryRow(ctx, query, visitID))
}

// NoteOwnedBy implements [Store.NoteOwnedBy].
func (s *PostgresStore) NoteOwnedBy(ctx context.Context, noteID, ownerID uuid.UUID) (*Note, error) {
	const query = `
		SELECT n.id, n.visit_id, n.soap, n.model, n.version, n.is_final, n.created_at
		FROM notes n
		JOIN visits v ON v.id = n.visit_id
		WHERE n.id = $1 AND v.provider_id = $2`

	return s.scanNote(s.db.QueryRow(ctx, query, noteID, ownerID))
}

// ListNotes implements [Store.ListNotes].
func (s *PostgresStore) ListNotes(ctx context.Context, visitID uuid.UUID) ([]Note, error) {
	const query = `
		SELECT id, visit_id, soap, model, version, is_final, created_at
		FROM notes
		WHERE visit_id = $1
		ORDER BY version DESC`

	rows, err := s.db.Query(ctx, query, visitID)
	if err != nil {
		return nil, fmt.Errorf("store: list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var payload []byte
		if err := rows.Scan(&n.ID, &n.VisitID, &payload, &n.Model, &n.Version, &n.IsFinal, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan note: %w", err)
		}
		if err := json.Unmarshal(payload, &n.SOAP); err != nil {
			return nil, fmt.Errorf("store: unmarshal soap: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list notes: %w", err)
	}
	return notes, nil
}

// UpdateNoteSOAP implements [Store.UpdateNoteSOAP]. The is_final guard is in
// the WHERE clause so the edit-vs-finalise race resolves inside the database.
func (s *PostgresStore) UpdateNoteSOAP(ctx context.Context, noteID uuid.UUID, payload soap.Note) (*Note, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("store: marshal soap: %w", err)
	}

	const query = `
		UPDATE notes
		SET soap = $2
		WHERE id = $1 AND is_final = false
		RETURNING id, visit_id, soap, model, version, is_final, created_at`

	note, err := s.scanNote(s.db.QueryRow(ctx, query, noteID, raw))
	if errors.Is(err, ErrNotFound) {
		// Distinguish "absent" from "finalised" for a usable error message.
		var isFinal bool
		probe := s.db.QueryRow(ctx, `SELECT is_final FROM notes WHERE id = $1`, noteID)
		if probeErr := probe.Scan(&isFinal); probeErr == nil && isFinal {
			return nil, ErrNoteFinalized
		}
		return nil, ErrNotFound
	}
	return note, err
}

// FinalizeNote implements [Store.FinalizeNote].
func (s *PostgresStore) FinalizeNote(ctx context.Context, noteID uuid.UUID) (*Note, error) {
	const query = `
		UPDATE notes
		SET is_final = true
		WHERE id = $1
		RETURNING id, visit_id, soap, model, version, is_final, created_at`

	return s.scanNote(s.db.QueryRow(ctx, query, noteID))
}

// AppendUsage implements [Store.AppendUsage].
func (s *PostgresStore) AppendUsage(ctx context.Context, m *UsageMetric) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	const query = `
		INSERT INTO usage_metrics (id, visit_id, speech_seconds, speech_model,
		                           tokens_in, tokens_out, llm_model, cost_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query, m.ID, m.VisitID, m.SpeechSeconds, m.SpeechModel,
		m.TokensIn, m.TokensOut, m.LLMModel, m.CostCents).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append usage metric: %w", err)
	}
	return nil
}

// scanNote reads one note row, unmarshalling the JSONB SOAP payload.
func (s *PostgresStore) scanNote(row pgx.Row) (*Note, error) {
	var n Note
	var payload []byte
	err := row.Scan(&n.ID, &n.VisitID, &payload, &n.Model, &n.Version, &n.IsFinal, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan note: %w", err)
	}
	if err := json.Unmarshal(payload, &n.SOAP); err != nil {
		return nil, fmt.Errorf("store: unmarshal soap: %w", err)
	}
	return &n, nil
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
