package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pavelanni/studentdash/internal/model"
	"github.com/pavelanni/studentdash/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNormalizeBasePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/", ""},
		{"dash", "/dash"},
		{"/dash/", "/dash"},
		{" /school/dash ", "/school/dash"},
	}
	for _, tt := range tests {
		if got := normalizeBasePath(tt.in); got != tt.want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestImportRecords(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "records.json")
	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	write(`{"Users": {"u1": {"studentName": "Ana", "studentExercises": {"e1": {"subject": "Math", "answer": true}}}}}`)
	imported, err := importRecords(ctx, db, file, "Students", false)
	if err != nil || !imported {
		t.Fatalf("first import: %v, %v", imported, err)
	}
	exp, err := db.ExportDashboard(ctx, "Students", false)
	if err != nil {
		t.Fatalf("ExportDashboard: %v", err)
	}
	if len(exp.Students) != 1 || exp.Students[0].Score != 10 {
		t.Fatalf("unexpected students: %+v", exp.Students)
	}

	imported, err = importRecords(ctx, db, file, "Students", false)
	if err != nil || imported {
		t.Fatalf("unchanged file should be skipped: %v, %v", imported, err)
	}
	imported, err = importRecords(ctx, db, file, "Students", true)
	if err != nil || !imported {
		t.Fatalf("forced import: %v, %v", imported, err)
	}

	write(`{"Users": {"u2": {"studentName": "Bia", "studentExercises": {"e1": {"subject": "Math", "answer": false}}}}}`)
	if imported, err := importRecords(ctx, db, file, "Students", false); err != nil || !imported {
		t.Fatalf("changed file: %v, %v", imported, err)
	}
	exp, _ = db.ExportDashboard(ctx, "Students", false)
	if len(exp.Students) != 1 || exp.Students[0].StudentName != "Bia" {
		t.Fatalf("import should replace the collection, got %+v", exp.Students)
	}

	write(`[1, 2, 3]`)
	if _, err := importRecords(ctx, db, file, "Students", false); err == nil {
		t.Error("expected error for a non-object file")
	}
}

func TestSeedAdmin(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	if err := seedAdmin(ctx, db, "admin@localhost", ""); err == nil {
		t.Fatal("expected error without a password")
	}
	if err := seedAdmin(ctx, db, "admin@localhost", "secret"); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	u, err := db.GetUserByEmail(ctx, "admin@localhost")
	if err != nil || u == nil {
		t.Fatalf("GetUserByEmail: %v, %v", u, err)
	}
	if u.Role != model.UserRoleAdmin {
		t.Errorf("role = %q, want admin", u.Role)
	}

	// Existing users suppress seeding, even without a password.
	if err := seedAdmin(ctx, db, "other@localhost", ""); err != nil {
		t.Fatalf("second seedAdmin: %v", err)
	}
	if n, _ := db.UserCount(ctx); n != 1 {
		t.Errorf("UserCount = %d, want 1", n)
	}
}

func TestResetPassword(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	if err := resetPassword(ctx, db, "ghost@school.org", "x"); err == nil {
		t.Error("expected error for unknown account")
	}
	if err := seedAdmin(ctx, db, "admin@localhost", "secret"); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	if err := resetPassword(ctx, db, "admin@localhost", "new-hash"); err != nil {
		t.Fatalf("resetPassword: %v", err)
	}
	u, _ := db.GetUserByEmail(ctx, "admin@localhost")
	if u.PasswordHash != "new-hash" {
		t.Errorf("hash = %q, want new-hash", u.PasswordHash)
	}
}

func TestOpenSource(t *testing.T) {
	db := newTestStore(t)

	src, closeSrc, err := openSource(db, "sqlite", "")
	if err != nil {
		t.Fatalf("openSource(sqlite): %v", err)
	}
	closeSrc()
	if src != any(db) {
		t.Error("sqlite source should be the store itself")
	}

	_, closeSrc, err = openSource(db, "file", filepath.Join(t.TempDir(), "records.json"))
	if err != nil {
		t.Fatalf("openSource(file): %v", err)
	}
	closeSrc()

	if _, _, err := openSource(db, "postgres", ""); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestRootCommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"serve", "import", "export", "adduser"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("missing %s command: %v", name, err)
		}
	}
	if root.Flags().Lookup("records-path") == nil {
		t.Error("serve flags should be registered on root")
	}
}
