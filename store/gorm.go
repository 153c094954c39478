package store

import (
	"context"
	"errors"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fundraiser/apperr"
	"fundraiser/models"
)

// GormStore keeps donations in a relational database through gorm.
type GormStore struct {
	DB  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *GormStore) CreateDonation(ctx context.Context, d *models.Donation) error {
	if d.Status == "" {
		d.Status = models.StatusPending
	}
	if err := s.DB.WithContext(ctx).Create(d).Error; err != nil {
		if isDuplicateKey(err) {
			return apperr.Wrap(apperr.KindDuplicateCorrelation, "Donation already exists", ErrDuplicate)
		}
		return storeError("create donation", err)
	}
	return nil
}

func (s *GormStore) AttachCheckout(ctx context.Context, donationID, checkoutID string, details models.PaymentDetails) error {
	res := s.DB.WithContext(ctx).Model(&models.Donation{}).
		Where("id = ? AND checkout_request_id IS NULL", donationID).
		Updates(map[string]interface{}{
			"checkout_request_id": checkoutID,
			"payment_details":     details.JSON(),
			"updated_at":          s.now(),
		})
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return apperr.Wrap(apperr.KindDuplicateCorrelation, "Checkout request already recorded", ErrDuplicate)
		}
		return storeError("attach checkout", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	existing, err := s.FindDonation(ctx, donationID)
	if err != nil {
		return err
	}
	if existing.CheckoutRequestID != nil && *existing.CheckoutRequestID == checkoutID {
		return nil
	}
	return apperr.Wrap(apperr.KindDuplicateCorrelation, "Donation already has a checkout request", ErrDuplicate)
}

func (s *GormStore) FindDonation(ctx context.Context, id string) (*models.Donation, error) {
	var d models.Donation
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, lookupError("Donation", "find donation", err)
	}
	return &d, nil
}

func (s *GormStore) FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Donation, error) {
	var d models.Donation
	if err := s.DB.WithContext(ctx).Where("checkout_request_id = ?", checkoutID).First(&d).Error; err != nil {
		return nil, lookupError("Donation", "find by checkout", err)
	}
	return &d, nil
}

func (s *GormStore) LatestByProject(ctx context.Context, projectID string) (*models.Donation, error) {
	var d models.Donation
	err := s.DB.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").Order("id DESC").
		First(&d).Error
	if err != nil {
		return nil, lookupError("Donation", "latest by project", err)
	}
	return &d, nil
}

// Transition locks the correlated row, skips terminal donations and applies a
// conditional update guarded by status = pending. Completing a donation adds
// its amount to the project total in the same transaction.
func (s *GormStore) Transition(ctx context.Context, checkoutID string, t Transition) (*models.Donation, bool, error) {
	if !validTerminal(t.Status) {
		return nil, false, apperr.New(apperr.KindValidation, "invalid target status "+t.Status)
	}

	var (
		result  models.Donation
		applied bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("checkout_request_id = ?", checkoutID).
			First(&result).Error; err != nil {
			return err
		}
		if result.Terminal() {
			return nil
		}

		updates := map[string]interface{}{
			"status":          t.Status,
			"payment_details": t.Details.JSON(),
			"updated_at":      s.now(),
		}
		if t.PaymentReference != nil {
			updates["payment_reference"] = *t.PaymentReference
		}
		if t.PaymentMethod != nil {
			updates["payment_method"] = *t.PaymentMethod
		}
		if t.PaymentDate != nil {
			updates["payment_date"] = t.PaymentDate.UTC()
		}

		res := tx.Model(&models.Donation{}).
			Where("id = ? AND status = ?", result.ID, models.StatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Where("id = ?", result.ID).First(&result).Error
		}

		if t.Status == models.StatusCompleted {
			if err := tx.Model(&models.Project{}).
				Where("id = ?", result.ProjectID).
				UpdateColumn("current_amount", gorm.Expr("current_amount + ?", result.Amount)).Error; err != nil {
				return err
			}
		}
		applied = true
		return tx.Where("id = ?", result.ID).First(&result).Error
	})
	if err != nil {
		return nil, false, lookupError("Donation", "transition", err)
	}
	return &result, applied, nil
}

func (s *GormStore) ListDonations(ctx context.Context, f DonationFilter) ([]models.Donation, int64, error) {
	f = f.Normalize()
	q := s.DB.WithContext(ctx).Model(&models.Donation{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ProjectID != "" {
		q = q.Where("project_id = ?", f.ProjectID)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, storeError("count donations", err)
	}
	donations := []models.Donation{}
	if err := q.Order("created_at DESC").Order("id DESC").
		Offset(f.offset()).Limit(f.Limit).
		Find(&donations).Error; err != nil {
		return nil, 0, storeError("list donations", err)
	}
	return donations, total, nil
}

func (s *GormStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	projects := []models.Project{}
	if err := s.DB.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&projects).Error; err != nil {
		return nil, storeError("list projects", err)
	}
	return projects, nil
}

func (s *GormStore) FindProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, lookupError("Project", "find project", err)
	}
	return &p, nil
}

func (s *GormStore) CreateProject(ctx context.Context, p *models.Project) error {
	if err := s.DB.WithContext(ctx).Create(p).Error; err != nil {
		return storeError("create project", err)
	}
	return nil
}

func (s *GormStore) FindAdminByEmail(ctx context.Context, email string) (*models.Admin, error) {
	var a models.Admin
	err := s.DB.WithContext(ctx).
		Where("email = ? AND is_active = ?", strings.ToLower(strings.TrimSpace(email)), true).
		First(&a).Error
	if err != nil {
		return nil, lookupError("Admin", "find admin", err)
	}
	return &a, nil
}

func (s *GormStore) CreateAdmin(ctx context.Context, a *models.Admin) error {
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if err := s.DB.WithContext(ctx).Create(a).Error; err != nil {
		if isDuplicateKey(err) {
			return apperr.Wrap(apperr.KindValidation, "Admin already exists", ErrDuplicate)
		}
		return storeError("create admin", err)
	}
	return nil
}

func (s *GormStore) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.Admin{}).Count(&n).Error; err != nil {
		return 0, storeError("count admins", err)
	}
	return n, nil
}

func (s *GormStore) LogCallback(ctx context.Context, l *models.CallbackLog) error {
	if err := s.DB.WithContext(ctx).Create(l).Error; err != nil {
		return storeError("log callback", err)
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func lookupError(what, op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(what)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return storeError(op, err)
}

// isDuplicateKey recognises unique violations from MySQL, SQLite and gorm's
// translated error.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
