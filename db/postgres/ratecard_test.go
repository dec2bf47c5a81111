package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"sow-pricing/decision/ratecard"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := NewStore(db)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, mock
}

func TestListRateCard(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT role, hourly_rate::TEXT FROM rate_card_entries").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"role", "hourly_rate"}).
			AddRow("Tech - Developer", "170.00").
			AddRow("Tech - Head Of- Senior Project Management", "365.50"))

	entries, err := s.ListRateCard(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListRateCard: %v", err)
	}
	if len(entries) != 2 || entries[1].HourlyRate != 365.5 {
		t.Fatalf("entries = %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestListRateCardBadNumeric(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM rate_card_entries").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"role", "hourly_rate"}).AddRow("Dev", "abc"))

	if _, err := s.Load(context.Background(), "acme"); err == nil {
		t.Fatal("expected error for non-numeric rate")
	}
}

func TestUpsertEntries(t *testing.T) {
	s, mock := newMockStore(t)
	now := s.now().UTC()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO rate_card_entries"))
	prep.ExpectExec().WithArgs("acme", "Tech - Developer", "170.00", now).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("acme", "QA", "150.13", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.UpsertEntries(context.Background(), "acme", []ratecard.Entry{
		{Role: " Tech - Developer ", HourlyRate: 170},
		{Role: "", HourlyRate: 100},
		{Role: "Negative", HourlyRate: -1},
		{Role: "QA", HourlyRate: 150.125},
	})
	if err != nil {
		t.Fatalf("UpsertEntries: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestUpsertEntriesRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO rate_card_entries")
	prep.ExpectExec().WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	if err := s.UpsertEntries(context.Background(), "acme", []ratecard.Entry{{Role: "Dev", HourlyRate: 1}}); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestDeleteRolesAndMigrate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rate_card_entries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM rate_card_entries").
		WithArgs("acme", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	n, err := s.DeleteRoles(context.Background(), "acme", []string{"A", "B"})
	if err != nil || n != 2 {
		t.Fatalf("DeleteRoles = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
