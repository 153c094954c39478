// Package store persists donations, projects, admins and callback audit rows.
// Two implementations share the DonationStore contract: GormStore for MySQL
// and BoltStore for an embedded single-file database.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fundraiser/apperr"
	"fundraiser/models"
)

var (
	// ErrNotFound is wrapped by every lookup miss.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is wrapped when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate key")
)

// Transition is the terminal state a pending donation moves to.
type Transition struct {
	Status           string
	PaymentReference *string
	PaymentMethod    *string
	PaymentDate      *time.Time
	Details          models.PaymentDetails
}

// DonationFilter narrows admin listings. Zero values mean no filter.
type DonationFilter struct {
	Status    string
	ProjectID string
	Page      int
	Limit     int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps paging to sane bounds.
func (f DonationFilter) Normalize() DonationFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	f.ProjectID = strings.TrimSpace(f.ProjectID)
	return f
}

func (f DonationFilter) offset() int {
	return (f.Page - 1) * f.Limit
}

// DonationStore is the single source of truth for donation state.
type DonationStore interface {
	CreateDonation(ctx context.Context, d *models.Donation) error
	// AttachCheckout records the correlation id on a donation that has none.
	AttachCheckout(ctx context.Context, donationID, checkoutID string, details models.PaymentDetails) error
	FindDonation(ctx context.Context, id string) (*models.Donation, error)
	FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Donation, error)
	LatestByProject(ctx context.Context, projectID string) (*models.Donation, error)
	// Transition moves the donation correlated by checkoutID out of pending,
	// exactly once. applied is false when the donation was already terminal.
	Transition(ctx context.Context, checkoutID string, t Transition) (d *models.Donation, applied bool, err error)
	ListDonations(ctx context.Context, f DonationFilter) ([]models.Donation, int64, error)

	ListProjects(ctx context.Context) ([]models.Project, error)
	FindProject(ctx context.Context, id string) (*models.Project, error)
	CreateProject(ctx context.Context, p *models.Project) error

	FindAdminByEmail(ctx context.Context, email string) (*models.Admin, error)
	CreateAdmin(ctx context.Context, a *models.Admin) error
	CountAdmins(ctx context.Context) (int64, error)

	LogCallback(ctx context.Context, l *models.CallbackLog) error

	Ping(ctx context.Context) error
	Close() error
}

func notFound(what string) error {
	return apperr.Wrap(apperr.KindNotFound, what+" not found", ErrNotFound)
}

func storeError(op string, err error) error {
	return apperr.Wrap(apperr.KindStore, "Database error", fmt.Errorf("%s: %w", op, err))
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func validTerminal(status string) bool {
	return status == models.StatusCompleted || status == models.StatusFailed
}
