package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestGetSettingUsesMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT value FROM settings WHERE key = \?`).
		WithArgs("model").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("claude-sonnet-4-20250514"))

	s := OpenWithDB(db)
	value, ok, err := s.GetSetting(context.Background(), "model")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if !ok || value != "claude-sonnet-4-20250514" {
		t.Fatalf("unexpected setting: ok=%v value=%q", ok, value)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetSettingMissingReturnsFalse(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT value FROM settings WHERE key = \?`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	s := OpenWithDB(db)
	_, ok, err := s.GetSetting(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing setting")
	}
}

func TestSetSettingUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs("log_level", "debug").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := OpenWithDB(db)
	if err := s.SetSetting(context.Background(), "log_level", "debug"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
