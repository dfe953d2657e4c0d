package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evanote/evanote/internal/soap"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. It is
// suitable for tests and single-process experiments. Version assignment is
// serialised under the store mutex, so [ErrVersionConflict] never occurs.
type MemStore struct {
	mu          sync.RWMutex
	patients    map[uuid.UUID]Patient
	visits      map[uuid.UUID]Visit
	transcripts []Transcript
	notes       []Note
	metrics     []UsageMetric
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		patients: make(map[uuid.UUID]Patient),
		visits:   make(map[uuid.UUID]Visit),
	}
}

// CreatePatient implements [Store.CreatePatient].
func (s *MemStore) CreatePatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = *p
	return nil
}

// PatientOwnedBy implements [Store.PatientOwnedBy].
func (s *MemStore) PatientOwnedBy(ctx context.Context, id, ownerID uuid.UUID) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[id]
	if !ok || p.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return &p, nil
}

// ListPatients implements [Store.ListPatients].
func (s *MemStore) ListPatients(ctx context.Context, ownerID uuid.UUID) ([]Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Patient
	for _, p := range s.patients {
		if p.OwnerID == ownerID {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b Patient) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

// UpdatePatient implements [Store.UpdatePatient].
func (s *MemStore) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.patients[p.ID]
	if !ok || existing.OwnerID != p.OwnerID {
		return ErrNotFound
	}
	existing.FirstName = p.FirstName
	existing.LastName = p.LastName
	existing.UpdatedAt = time.Now()
	s.patients[p.ID] = existing
	*p = existing
	return nil
}

// DeletePatient implements [Store.DeletePatient]. Dependent visits,
// transcripts, notes, and metrics are removed as well, mirroring the
// database cascade.
func (s *MemStore) DeletePatient(ctx context.Context, id, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok || p.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(s.patients, id)

	for visitID, v := range s.visits {
		if v.PatientID == id {
			delete(s.visits, visitID)
			s.cascadeVisitLocked(visitID)
		}
	}
	return nil
}

// CreateVisit implements [Store.CreateVisit].
func (s *MemStore) CreateVisit(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Status == "" {
		v.Status = StatusDraft
	}
	if v.Language == "" {
		v.Language = soap.LanguageGerman
	}
	now := time.Now()
	v.CreatedAt = now
	v.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[v.ID] = *v
	return nil
}

// VisitOwnedBy implements [Store.VisitOwnedBy].
func (s *MemStore) VisitOwnedBy(ctx context.Context, id, ownerID uuid.UUID) (*Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.visits[id]
	if !ok || v.ProviderID != ownerID {
		return nil, ErrNotFound
	}
	return &v, nil
}

// ListVisits implements [Store.ListVisits].
func (s *MemStore) ListVisits(ctx context.Context, patientID, ownerID uuid.UUID) ([]Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Visit
	for _, v := range s.visits {
		if v.PatientID == patientID && v.ProviderID == ownerID {
			result = append(result, v)
		}
	}
	slices.SortFunc(result, func(a, b Visit) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

// UpdateVisitStatus implements [Store.UpdateVisitStatus].
func (s *MemStore) UpdateVisitStatus(ctx context.Context, visitID uuid.UUID, patch StatusPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[visitID]
	if !ok {
		return ErrNotFound
	}
	v.Status = patch.Status
	if patch.StartedAt != nil && v.StartedAt == nil {
		v.StartedAt = patch.StartedAt
	}
	if patch.EndedAt != nil {
		v.EndedAt = patch.EndedAt
	}
	v.UpdatedAt = time.Now()
	s.visits[visitID] = v
	return nil
}

// DeleteVisit implements [Store.DeleteVisit].
func (s *MemStore) DeleteVisit(ctx context.Context, id, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok || v.ProviderID != ownerID {
		return ErrNotFound
	}
	delete(s.visits, id)
	s.cascadeVisitLocked(id)
	return nil
}

// cascadeVisitLocked removes all rows dependent on a visit. Must be called
// with s.mu held for writing.
func (s *MemStore) cascadeVisitLocked(visitID uuid.UUID) {
	s.transcripts = slices.DeleteFunc(s.transcripts, func(t Transcript) bool {
		return t.VisitID == visitID
	})
	s.notes = slices.DeleteFunc(s.notes, func(n Note) bool {
		return n.VisitID == visitID
	})
	s.metrics = slices.DeleteFunc(s.metrics, func(m UsageMetric) bool {
		return m.VisitID == visitID
	})
}

// CreateTranscript implements [Store.CreateTranscript].
func (s *MemStore) CreateTranscript(ctx context.Context, t *Transcript) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, *t)
	return nil
}

// LatestTranscript implements [Store.LatestTranscript]. Transcripts are
// appended in order, so the last matching row is the newest.
func (s *MemStore) LatestTranscript(ctx context.Context, visitID uuid.UUID) (*Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.transcripts) - 1; i >= 0; i-- {
		if s.transcripts[i].VisitID == visitID {
			t := s.transcripts[i]
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

// CreateNote implements [Store.CreateNote]. The mutex serialises version
// assignment, so versions are always contiguous.
func (s *MemStore) CreateNote(ctx context.Context, n *Note) error {
	if err := n.SOAP.Validate(); err != nil {
		return err
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	maxVersion := 0
	for _, existing := range s.notes {
		if existing.VisitID == n.VisitID && existing.Version > maxVersion {
			maxVersion = existing.Version
		}
	}
	n.Version = maxVersion + 1
	n.CreatedAt = time.Now()
	s.notes = append(s.notes, *n)
	return nil
}

// LatestNote implements [Store.LatestNote].
func (s *MemStore) LatestNote(ctx context.Context, visitID uuid.UUID) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Note
	for i := range s.notes {
		n := s.notes[i]
		if n.VisitID == visitID && (latest == nil || n.Version > latest.Version) {
			latest = &n
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	result := *latest
	return &result, nil
}

// NoteOwnedBy implements [Store.NoteOwnedBy].
func (s *MemStore) NoteOwnedBy(ctx context.Context, noteID, ownerID uuid.UUID) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.notes {
		if n.ID == noteID {
			v, ok := s.visits[n.VisitID]
			if !ok || v.ProviderID != ownerID {
				return nil, ErrNotFound
			}
			result := n
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// ListNotes implements [Store.ListNotes].
func (s *MemStore) ListNotes(ctx context.Context, visitID uuid.UUID) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Note
	for _, n := range s.notes {
		if n.VisitID == visitID {
			result = append(result, n)
		}
	}
	slices.SortFunc(result, func(a, b Note) int {
		return b.Version - a.Version
	})
	return result, nil
}

// UpdateNoteSOAP implements [Store.UpdateNoteSOAP].
func (s *MemStore) UpdateNoteSOAP(ctx context.Context, noteID uuid.UUID, payload soap.Note) (*Note, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notes {
		if s.notes[i].ID == noteID {
			if s.notes[i].IsFinal {
				return nil, ErrNoteFinalized
			}
			s.notes[i].SOAP = payload
			result := s.notes[i]
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// FinalizeNote implements [Store.FinalizeNote].
func (s *MemStore) FinalizeNote(ctx context.Context, noteID uuid.UUID) (*Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notes {
		if s.notes[i].ID == noteID {
			s.notes[i].IsFinal = true
			result := s.notes[i]
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// AppendUsage implements [Store.AppendUsage].
func (s *MemStore) AppendUsage(ctx context.Context, m *UsageMetric) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, *m)
	return nil
}

// UsageMetrics returns a copy of all recorded usage metrics for a visit.
// Test helper; the pipeline never reads metrics back.
func (s *MemStore) UsageMetrics(visitID uuid.UUID) []UsageMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []UsageMetric
	for _, m := range s.metrics {
		if m.VisitID == visitID {
			result = append(result, m)
		}
	}
	return result
}
