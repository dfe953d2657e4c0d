// Package pipeline orchestrates the transcript-to-note workflow: ownership
// checks, idempotency, transcript persistence, visit status bookkeeping,
// retried LLM generation, and note versioning.
//
// The pipeline is the only component that mutates visit status, so the
// status machine in the store package is driven from exactly one place.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/evanote/evanote/internal/generate"
	"github.com/evanote/evanote/internal/observe"
	"github.com/evanote/evanote/internal/resilience"
	"github.com/evanote/evanote/internal/soap"
	"github.com/evanote/evanote/internal/store"
	"github.com/evanote/evanote/internal/transcript"
)

// Kind classifies pipeline errors so the HTTP layer can map them to status
// codes without inspecting causes.
type Kind int

const (
	// KindNotFound covers missing entities and ownership mismatches. The two
	// are indistinguishable on purpose.
	KindNotFound Kind = iota

	// KindValidation covers rejected input: transcript length bounds, unknown
	// language or detail level, malformed SOAP payloads.
	KindValidation

	// KindGeneration covers exhausted LLM attempts and schema-invalid model
	// output.
	KindGeneration

	// KindConflict covers attempts to modify finalized notes.
	KindConflict

	// KindInternal covers persistence and other infrastructure failures.
	KindInternal
)

// Error is the classified error type returned by all pipeline operations.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify wraps err with the given kind, preserving the cause chain.
func classify(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the classification of err, or KindInternal for errors that
// did not pass through the pipeline boundary.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// Options carries per-request generation parameters.
type Options struct {
	// Language selects the documentation language. Empty or "auto" falls
	// back to German.
	Language soap.Language

	// Detail selects concise or detailed output. Empty means detailed.
	Detail soap.DetailLevel

	// BodyRegion optionally focuses the note on a body region.
	BodyRegion string

	// PersistTranscript stores the cleaned transcript as a new row before
	// generation. Leave unset when generating from a transcript that is
	// already stored; RegenerateNote manages this flag itself.
	PersistTranscript bool
}

// Result is returned by the generation operations.
type Result struct {
	// Note is the persisted note, including its assigned version.
	Note *store.Note

	// Reused is true when the fingerprint idempotency check short-circuited
	// and Note is a previously generated note rather than a fresh one.
	Reused bool
}

// Pipeline wires the store, the generator, and the retry policy together.
// Safe for concurrent use.
type Pipeline struct {
	store     store.Store
	generator *generate.Generator
	retrier   *resilience.Retrier
	metrics   *observe.Metrics
	modelID   string

	// group collapses concurrent generation requests for the same visit
	// within this process. Cross-process duplicates are caught by the
	// store's version uniqueness.
	group singleflight.Group
}

// New constructs a Pipeline. modelID is the identifier recorded on generated
// notes, e.g. "azure:gpt-4o-mini-eu".
func New(st store.Store, gen *generate.Generator, retrier *resilience.Retrier, metrics *observe.Metrics, modelID string) *Pipeline {
	return &Pipeline{
		store:     st,
		generator: gen,
		retrier:   retrier,
		metrics:   metrics,
		modelID:   modelID,
	}
}

// GenerateNote runs the full workflow for a visit: validate the transcript,
// persist it when [Options.PersistTranscript] is set, move the visit to
// processing, generate with retries, persist the note as the next version,
// record usage, and complete the visit.
//
// Submitting the same transcript text for a visit that already has a note is
// idempotent: the existing latest note is returned without a new generation.
func (p *Pipeline) GenerateNote(ctx context.Context, ownerID, visitID uuid.UUID, rawText string, opts Options) (*Result, error) {
	visit, err := p.store.VisitOwnedBy(ctx, visitID, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, classify(KindNotFound, err)
		}
		return nil, classify(KindInternal, err)
	}
	return p.generateForVisit(ctx, visit, rawText, opts)
}

// generateForVisit validates the transcript and runs the collapsed
// generation. Ownership must already be verified: the singleflight result is
// shared between collapsed callers, so nothing caller-specific may run
// inside the group.
func (p *Pipeline) generateForVisit(ctx context.Context, visit *store.Visit, rawText string, opts Options) (*Result, error) {
	lang := p.resolveLanguage(opts.Language, visit.Language)

	// Clean and validate once, before any retry or state mutation. A
	// transcript that fails the length bounds can never succeed on retry.
	cleaned := transcript.Clean(rawText)
	if _, err := transcript.ValidateLength(cleaned); err != nil {
		return nil, classify(KindValidation, err)
	}
	fingerprint := transcript.Fingerprint(cleaned)

	v, err, _ := p.group.Do(visit.ID.String(), func() (any, error) {
		return p.generateLocked(ctx, visit, cleaned, lang, fingerprint, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// generateLocked is the singleflight-protected body of the generation
// workflow. The transcript is already cleaned and validated.
func (p *Pipeline) generateLocked(ctx context.Context, visit *store.Visit, cleaned string, lang soap.Language, fingerprint string, opts Options) (*Result, error) {
	log := observe.Logger(ctx).With("visit_id", visit.ID)

	// Idempotency: identical transcript content plus an existing note means
	// the work is already done.
	if note, ok := p.reusableNote(ctx, visit.ID, fingerprint); ok {
		log.Info("reusing existing note for identical transcript",
			"note_id", note.ID, "version", note.Version)
		return &Result{Note: note, Reused: true}, nil
	}

	if opts.PersistTranscript {
		tr := &store.Transcript{
			VisitID:  visit.ID,
			Text:     cleaned,
			Language: string(lang),
		}
		if err := p.store.CreateTranscript(ctx, tr); err != nil {
			// Nothing has been mutated yet; surface without touching status.
			return nil, classify(KindInternal, fmt.Errorf("persist transcript: %w", err))
		}
	}

	if err := p.moveStatus(ctx, visit.ID, visit.Status, store.StatusProcessing); err != nil {
		return nil, classify(KindInternal, err)
	}

	note, err := p.runGeneration(ctx, visit.ID, cleaned, lang, opts)
	if err != nil {
		// Only exhausted generation marks the visit failed. A persistence
		// failure after a successful model call leaves it in processing so
		// the partial state is visible rather than rolled back.
		if KindOf(err) == KindGeneration {
			p.failVisit(ctx, visit.ID)
		}
		return nil, err
	}

	if err := p.moveStatus(ctx, visit.ID, store.StatusProcessing, store.StatusCompleted); err != nil {
		log.Error("visit not marked completed after successful generation", "error", err)
	}

	return &Result{Note: note}, nil
}

// runGeneration performs the retried LLM call and persists the resulting
// note and usage row. The visit must already be in processing.
func (p *Pipeline) runGeneration(ctx context.Context, visitID uuid.UUID, cleaned string, lang soap.Language, opts Options) (*store.Note, error) {
	log := observe.Logger(ctx).With("visit_id", visitID)
	prompts := soap.BuildPrompts(lang, cleaned, soap.PromptOptions{
		Detail:     opts.Detail,
		BodyRegion: opts.BodyRegion,
	})

	start := time.Now()
	p.metrics.ActiveGenerations.Add(ctx, 1)
	defer p.metrics.ActiveGenerations.Add(ctx, -1)

	var (
		generated *soap.Note
		usage     struct{ in, out, total int }
	)
	err := p.retrier.Do(ctx, "generate_note", func(ctx context.Context, attempt int) error {
		llmStart := time.Now()
		note, u, genErr := p.generator.Generate(ctx, prompts)
		p.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
		if genErr != nil {
			p.metrics.RecordProviderError(ctx, p.modelID)
			return genErr
		}
		generated = note
		usage.in, usage.out, usage.total = u.PromptTokens, u.CompletionTokens, u.TotalTokens
		return nil
	})
	if err != nil {
		p.metrics.RecordGeneration(ctx, "failed", string(lang), time.Since(start))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, classify(KindInternal, err)
		}
		return nil, classify(KindGeneration, err)
	}

	stored := &store.Note{
		VisitID: visitID,
		SOAP:    *generated,
		Model:   p.modelID,
	}
	if err := p.store.CreateNote(ctx, stored); err != nil {
		// The model output is lost but the visit stays in processing so the
		// clinician can trigger a regenerate. No rollback.
		p.metrics.RecordGeneration(ctx, "persist_failed", string(lang), time.Since(start))
		return nil, classify(KindInternal, fmt.Errorf("persist note: %w", err))
	}

	p.metrics.RecordTokens(ctx, usage.in, usage.out)
	if err := p.store.AppendUsage(ctx, &store.UsageMetric{
		VisitID:   visitID,
		TokensIn:  usage.in,
		TokensOut: usage.out,
		LLMModel:  p.modelID,
	}); err != nil {
		// Usage is billing telemetry, not clinical data; losing a row is
		// logged but never fails the request.
		log.Warn("usage metric not recorded", "error", err)
	}

	p.metrics.RecordGeneration(ctx, "completed", string(lang), time.Since(start))
	log.Info("note generated",
		"note_id", stored.ID,
		"version", stored.Version,
		"tokens_in", usage.in,
		"tokens_out", usage.out)
	return stored, nil
}

// RegenerateNote runs the generation workflow again for a visit. When
// rawText is empty the latest stored transcript is reused; its length bounds
// are re-validated on every call. Regeneration delegates to the same path as
// [Pipeline.GenerateNote], so an unchanged transcript with an existing note
// returns that note instead of minting a new version.
func (p *Pipeline) RegenerateNote(ctx context.Context, ownerID, visitID uuid.UUID, rawText string, opts Options) (*Result, error) {
	visit, err := p.store.VisitOwnedBy(ctx, visitID, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, classify(KindNotFound, err)
		}
		return nil, classify(KindInternal, err)
	}

	// Fresh text is worth storing; a reused stored transcript is not.
	opts.PersistTranscript = rawText != ""
	if rawText == "" {
		tr, err := p.store.LatestTranscript(ctx, visitID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, classify(KindValidation, fmt.Errorf("visit has no transcript to regenerate from"))
			}
			return nil, classify(KindInternal, err)
		}
		rawText = tr.Text
	}

	return p.generateForVisit(ctx, visit, rawText, opts)
}

// UpdateNote replaces the SOAP content of an owned, non-finalized note.
func (p *Pipeline) UpdateNote(ctx context.Context, ownerID, noteID uuid.UUID, payload soap.Note) (*store.Note, error) {
	if _, err := p.store.NoteOwnedBy(ctx, noteID, ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, classify(KindNotFound, err)
		}
		return nil, classify(KindInternal, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, classify(KindValidation, err)
	}

	note, err := p.store.UpdateNoteSOAP(ctx, noteID, payload)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNoteFinalized):
			return nil, classify(KindConflict, err)
		case errors.Is(err, store.ErrNotFound):
			return nil, classify(KindNotFound, err)
		default:
			return nil, classify(KindInternal, err)
		}
	}
	return note, nil
}

// FinalizeNote marks an owned note as final. Finalizing twice is a no-op.
func (p *Pipeline) FinalizeNote(ctx context.Context, ownerID, noteID uuid.UUID) (*store.Note, error) {
	if _, err := p.store.NoteOwnedBy(ctx, noteID, ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, classify(KindNotFound, err)
		}
		return nil, classify(KindInternal, err)
	}

	note, err := p.store.FinalizeNote(ctx, noteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, classify(KindNotFound, err)
		}
		return nil, classify(KindInternal, err)
	}
	observe.Logger(ctx).Info("note finalized", "note_id", noteID, "version", note.Version)
	return note, nil
}

// reusableNote reports whether the latest transcript matches the fingerprint
// and a note already exists. Both lookups are best-effort; any store error
// just disables the short-circuit. Stored text is already cleaned and
// cleaning is idempotent, so fingerprinting it is equivalent to
// fingerprinting the original raw text.
func (p *Pipeline) reusableNote(ctx context.Context, visitID uuid.UUID, fingerprint string) (*store.Note, bool) {
	latest, err := p.store.LatestTranscript(ctx, visitID)
	if err != nil || transcript.Fingerprint(latest.Text) != fingerprint {
		return nil, false
	}
	note, err := p.store.LatestNote(ctx, visitID)
	if err != nil {
		return nil, false
	}
	return note, true
}

// resolveLanguage picks the request language, falling back to the visit's
// configured language and finally to German. "auto" means no reliable
// detection signal, which also falls back to German.
func (p *Pipeline) resolveLanguage(requested, visitLang soap.Language) soap.Language {
	for _, l := range []soap.Language{requested, visitLang} {
		if l == soap.LanguageGerman || l == soap.LanguageFrench {
			return l
		}
	}
	return soap.LanguageGerman
}

// moveStatus validates and applies a status transition.
func (p *Pipeline) moveStatus(ctx context.Context, visitID uuid.UUID, from, to store.VisitStatus) error {
	if from == to {
		return nil
	}
	patch, err := store.Transition(from, to, time.Now())
	if err != nil {
		return err
	}
	return p.store.UpdateVisitStatus(ctx, visitID, patch)
}

// failVisit moves a processing visit to failed, logging rather than
// propagating errors: the caller is already returning the real failure.
func (p *Pipeline) failVisit(ctx context.Context, visitID uuid.UUID) {
	if err := p.moveStatus(ctx, visitID, store.StatusProcessing, store.StatusFailed); err != nil {
		observe.Logger(ctx).Error("visit not marked failed", "visit_id", visitID, "error", err)
	}
}
