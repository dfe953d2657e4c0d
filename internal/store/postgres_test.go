package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow scripts a single QueryRow result: either scan values or an error.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return errors.New("fakeRow: scan arity mismatch")
	}
	for i, v := range r.vals {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

// fakeDB returns scripted rows in order and a fixed Exec result. Only the
// methods a test exercises need scripting.
type fakeDB struct {
	rows []fakeRow
	idx  int

	execTag pgconn.CommandTag
	execErr error
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if db.idx >= len(db.rows) {
		return fakeRow{err: errors.New("fakeDB: no more scripted rows")}
	}
	row := db.rows[db.idx]
	db.idx++
	return row
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("fakeDB: Query not scripted")
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.execTag, db.execErr
}

func TestPostgresStore_NoRowsBecomesNotFound(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{{err: pgx.ErrNoRows}}}
	s := NewPostgresStore(db)

	_, err := s.PatientOwnedBy(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_CreateNoteVersionConflict(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{
		{err: &pgconn.PgError{Code: "23505", ConstraintName: "notes_visit_id_version_key"}},
	}}
	s := NewPostgresStore(db)

	n := &Note{VisitID: uuid.New(), SOAP: testSOAP()}
	err := s.CreateNote(context.Background(), n)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("err = %v, want ErrVersionConflict", err)
	}
}

func TestPostgresStore_UpdateNoteSOAP_Finalized(t *testing.T) {
	// The guarded UPDATE matches no row; the probe reveals the note exists
	// and is final.
	db := &fakeDB{rows: []fakeRow{
		{err: pgx.ErrNoRows},
		{vals: []any{true}},
	}}
	s := NewPostgresStore(db)

	_, err := s.UpdateNoteSOAP(context.Background(), uuid.New(), testSOAP())
	if !errors.Is(err, ErrNoteFinalized) {
		t.Errorf("err = %v, want ErrNoteFinalized", err)
	}
}

func TestPostgresStore_UpdateNoteSOAP_Missing(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{
		{err: pgx.ErrNoRows},
		{err: pgx.ErrNoRows},
	}}
	s := NewPostgresStore(db)

	_, err := s.UpdateNoteSOAP(context.Background(), uuid.New(), testSOAP())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_DeleteVisitNotOwned(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("DELETE 0")}
	s := NewPostgresStore(db)

	err := s.DeleteVisit(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestIsDuplicateKeyError(t *testing.T) {
	if !isDuplicateKeyError(&pgconn.PgError{Code: "23505"}) {
		t.Error("23505 not recognised as duplicate key")
	}
	if isDuplicateKeyError(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation misclassified as duplicate")
	}
	if isDuplicateKeyError(errors.New("plain")) {
		t.Error("plain error misclassified")
	}
}
