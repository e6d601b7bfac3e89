package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

const testUserID = "7a1f5c52-0d7e-4f5e-9a52-3a4b8a0f6c11"

var profileCols = []string{"id", "role", "full_name", "company", "phone", "created_at", "updated_at"}

func TestPGProfileStoreFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("select id, role, full_name, company, phone, created_at, updated_at from profiles where id").
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow(testUserID, "editor", "Ada", "Analytical", nil, now, now))

	p, err := NewPGProfileStore(db).Find(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if p.Role != RoleEditor || p.FullName != "Ada" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.Company == nil || *p.Company != "Analytical" || p.Phone != nil {
		t.Fatalf("unexpected optional fields: company=%v phone=%v", p.Company, p.Phone)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGProfileStoreFindMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("from profiles where id").WithArgs(testUserID).WillReturnRows(sqlmock.NewRows(profileCols))

	if _, err := NewPGProfileStore(db).Find(context.Background(), testUserID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGProfileStoreRejectsUnknownRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("from profiles where id").WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow(testUserID, "owner", "Ada", nil, nil, now, now))

	if _, err := NewPGProfileStore(db).Find(context.Background(), testUserID); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestPGProfileStoreRejectsMalformedID(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	if _, err := NewPGProfileStore(db).Find(context.Background(), "not-a-uuid"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPGProfileStoreCreateConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("insert into profiles").
		WithArgs(testUserID, "user", "Ada", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err = NewPGProfileStore(db).Create(context.Background(), Profile{UserID: testUserID, FullName: "Ada"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPGProfileStoreUpdateBuildsSetClauses(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	name := "Ada Lovelace"
	mock.ExpectQuery(`update profiles set full_name = \$1, updated_at = now\(\) where id = \$2`).
		WithArgs(name, testUserID).
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow(testUserID, "user", name, nil, nil, now, now))

	p, err := NewPGProfileStore(db).Update(context.Background(), testUserID, ProfileUpdate{FullName: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if p.FullName != name {
		t.Fatalf("unexpected name %q", p.FullName)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGProfileStoreSetRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGProfileStore(db)
	if _, err := store.SetRole(context.Background(), testUserID, "root"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}

	now := time.Now()
	mock.ExpectQuery("update profiles set role").
		WithArgs("admin", testUserID).
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow(testUserID, "admin", "Ada", nil, nil, now, now))

	p, err := store.SetRole(context.Background(), testUserID, RoleAdmin)
	if err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if p.Role != RoleAdmin {
		t.Fatalf("expected admin, got %s", p.Role)
	}
}

func TestPGProfileStoreList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("from profiles order by created_at").
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow(testUserID, "admin", "Ada", nil, nil, now, now).
			AddRow("2b0e3f4c-8d1a-4d8e-bb0f-0c9e7d6a5b43", "user", "Grace", nil, "+14155550100", now, now))

	list, err := NewPGProfileStore(db).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[1].Phone == nil || *list[1].Phone != "+14155550100" {
		t.Fatalf("unexpected list: %+v", list)
	}
}
