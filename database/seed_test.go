package database

import (
	"context"
	"path/filepath"
	"testing"

	"fundraiser/logging"
	"fundraiser/store"
)

func TestSeedProjectsOnlyOnce(t *testing.T) {
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := SeedProjects(ctx, s, logging.Discard()); err != nil {
			t.Fatal(err)
		}
	}
	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 3 {
		t.Fatalf("expected 3 seeded projects, got %d", len(projects))
	}
	if projects[0].Title != "Clean Water for All" || projects[0].TargetAmount != 50000 {
		t.Fatalf("unexpected first project %+v", projects[0])
	}
}

func TestBootstrapAdmin(t *testing.T) {
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "admin.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := BootstrapAdmin(ctx, s, "", "", logging.Discard()); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountAdmins(ctx); n != 0 {
		t.Fatalf("expected no admin without credentials, got %d", n)
	}
	if err := BootstrapAdmin(ctx, s, "ops@example.org", "s3cret", logging.Discard()); err != nil {
		t.Fatal(err)
	}
	if err := BootstrapAdmin(ctx, s, "other@example.org", "x", logging.Discard()); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountAdmins(ctx); n != 1 {
		t.Fatalf("expected exactly one admin, got %d", n)
	}
	a, err := s.FindAdminByEmail(ctx, "ops@example.org")
	if err != nil {
		t.Fatal(err)
	}
	if a.Password == "s3cret" || !a.ValidatePassword("s3cret") {
		t.Fatal("expected bcrypt-hashed password")
	}
}
