package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"fundraiser/models"
	"fundraiser/store"
)

// SeedProjects inserts the sample projects when the store has none.
func SeedProjects(ctx context.Context, s store.DonationStore, log *slog.Logger) error {
	existing, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, tmpl := range models.SeedProjects {
		p := tmpl
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		p.ID = id.String()
		if err := s.CreateProject(ctx, &p); err != nil {
			return fmt.Errorf("seed project %q: %w", p.Title, err)
		}
		log.Info("seeded project", slog.String("id", p.ID), slog.String("title", p.Title))
	}
	return nil
}

// BootstrapAdmin creates the first admin from the given credentials when no
// admin exists yet. Empty credentials skip the step.
func BootstrapAdmin(ctx context.Context, s store.DonationStore, email, password string, log *slog.Logger) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil
	}
	n, err := s.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	admin := &models.Admin{Email: email, Password: password, Name: "Administrator", IsActive: true}
	if err := admin.HashPassword(); err != nil {
		return err
	}
	if err := s.CreateAdmin(ctx, admin); err != nil {
		return err
	}
	log.Info("bootstrapped admin", slog.String("email", admin.Email))
	return nil
}
