package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"

	"bordereau/internal/config"
	"bordereau/internal/domain/bsd"
	"bordereau/internal/usecase"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	store, err := Open(postgres.New(postgres.Config{Conn: sqlDB}), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store, mock
}

func TestNewStoreRequiresDSN(t *testing.T) {
	if _, err := NewStore(config.Config{}, nil); err == nil {
		t.Fatal("expected an error without POSTGRES_DSN")
	}
}

func TestSerializationFailureIsTxConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "documents"`).
		WillReturnError(&pgconn.PgError{Code: PgErrSerializationFailed, Message: "could not serialize access"})
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx usecase.Tx) error {
		_, err := tx.Documents().Get(context.Background(), "0f8fad5b-d9cb-469f-a165-70867728950e")
		return err
	})
	if !errors.Is(err, bsd.ErrTxConflict) {
		t.Fatalf("expected tx conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCommitDeadlockIsTxConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: PgErrDeadlockDetected})

	err := store.WithinTx(context.Background(), func(usecase.Tx) error { return nil })
	if !errors.Is(err, bsd.ErrTxConflict) {
		t.Fatalf("expected tx conflict, got %v", err)
	}
}

func TestMissingRowIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "transporter_legs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx usecase.Tx) error {
		_, err := tx.Transporters().Get(context.Background(), "0f8fad5b-d9cb-469f-a165-70867728950e")
		return err
	})
	if !errors.Is(err, bsd.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUniqueViolationIsConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "revision_requests"`).
		WillReturnError(&pgconn.PgError{Code: PgErrUniqueViolation, ConstraintName: "idx_revision_requests_one_pending"})
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx usecase.Tx) error {
		_, err := tx.Revisions().Insert(context.Background(), bsd.RevisionRequest{
			DocumentID: "0f8fad5b-d9cb-469f-a165-70867728950e",
			Family:     bsd.FamilyBSDA,
			Status:     bsd.RevisionPending,
		})
		return err
	})
	if !errors.Is(err, bsd.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if e, ok := bsd.AsError(err); !ok || e.Code != bsd.CodeConflict {
		t.Fatalf("expected CONFLICT code, got %v", err)
	}
}

func TestStaleVersionIsTxConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "documents" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "documents"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx usecase.Tx) error {
		_, err := tx.Documents().Update(context.Background(), bsd.Document{
			ID:      "0f8fad5b-d9cb-469f-a165-70867728950e",
			Family:  bsd.FamilyBSDD,
			Version: 3,
		})
		return err
	})
	if !errors.Is(err, bsd.ErrTxConflict) {
		t.Fatalf("expected tx conflict, got %v", err)
	}
}

func TestUpdateOfMissingDocumentIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "documents" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "documents"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx usecase.Tx) error {
		_, err := tx.Documents().Update(context.Background(), bsd.Document{
			ID:      "0f8fad5b-d9cb-469f-a165-70867728950e",
			Family:  bsd.FamilyBSDD,
			Version: 1,
		})
		return err
	})
	if !errors.Is(err, bsd.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClassifyErrorKeepsOtherErrors(t *testing.T) {
	plain := errors.New("connection reset")
	if got := classifyError(plain); got != plain {
		t.Fatalf("expected the error unchanged, got %v", got)
	}
	domainErr := bsd.Validation("bad")
	if got := classifyError(domainErr); got != domainErr {
		t.Fatalf("expected the domain error unchanged, got %v", got)
	}
	if classifyError(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}
