package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"

	"fundraiser/apperr"
	"fundraiser/models"
)

var (
	bucketDonations    = []byte("donations")
	bucketCheckouts    = []byte("checkouts")
	bucketProjects     = []byte("projects")
	bucketAdmins       = []byte("admins")
	bucketCallbackLogs = []byte("callback_logs")
)

// BoltStore keeps everything in a single BoltDB file. Bolt serializes write
// transactions, so every check-then-write below is atomic.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens (or creates) the database at path and ensures all
// buckets exist.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDonations, bucketCheckouts, bucketProjects, bucketAdmins, bucketCallbackLogs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

func (s *BoltStore) CreateDonation(ctx context.Context, d *models.Donation) error {
	if err := ctx.Err(); err != nil {
		return storeError("create donation", err)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDonations)
		if b.Get([]byte(d.ID)) != nil {
			return apperr.Wrap(apperr.KindDuplicateCorrelation, "Donation already exists", ErrDuplicate)
		}
		if d.Status == "" {
			d.Status = models.StatusPending
		}
		now := s.now()
		d.CreatedAt, d.UpdatedAt = now, now
		if d.CheckoutRequestID != nil {
			idx := tx.Bucket(bucketCheckouts)
			if idx.Get([]byte(*d.CheckoutRequestID)) != nil {
				return apperr.Wrap(apperr.KindDuplicateCorrelation, "Checkout request already recorded", ErrDuplicate)
			}
			if err := idx.Put([]byte(*d.CheckoutRequestID), []byte(d.ID)); err != nil {
				return err
			}
		}
		return putJSON(b, []byte(d.ID), d)
	})
	return boltError("create donation", err)
}

func (s *BoltStore) AttachCheckout(ctx context.Context, donationID, checkoutID string, details models.PaymentDetails) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDonations)
		var d models.Donation
		if err := getJSON(b, []byte(donationID), &d); err != nil {
			return err
		}
		if d.CheckoutRequestID != nil {
			if *d.CheckoutRequestID == checkoutID {
				return nil
			}
			return apperr.Wrap(apperr.KindDuplicateCorrelation, "Donation already has a checkout request", ErrDuplicate)
		}
		idx := tx.Bucket(bucketCheckouts)
		if idx.Get([]byte(checkoutID)) != nil {
			return apperr.Wrap(apperr.KindDuplicateCorrelation, "Checkout request already recorded", ErrDuplicate)
		}
		d.CheckoutRequestID = &checkoutID
		d.PaymentDetails = details.JSON()
		d.UpdatedAt = s.now()
		if err := idx.Put([]byte(checkoutID), []byte(d.ID)); err != nil {
			return err
		}
		return putJSON(b, []byte(d.ID), &d)
	})
	return boltError("attach checkout", lookupMiss(err, "Donation"))
}

func (s *BoltStore) FindDonation(ctx context.Context, id string) (*models.Donation, error) {
	var d models.Donation
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketDonations), []byte(id), &d)
	})
	if err != nil {
		return nil, boltError("find donation", lookupMiss(err, "Donation"))
	}
	return &d, nil
}

func (s *BoltStore) FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Donation, error) {
	var d models.Donation
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketCheckouts).Get([]byte(checkoutID))
		if id == nil {
			return ErrNotFound
		}
		return getJSON(tx.Bucket(bucketDonations), id, &d)
	})
	if err != nil {
		return nil, boltError("find by checkout", lookupMiss(err, "Donation"))
	}
	return &d, nil
}

func (s *BoltStore) LatestByProject(ctx context.Context, projectID string) (*models.Donation, error) {
	var latest *models.Donation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDonations).ForEach(func(k, v []byte) error {
			var d models.Donation
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.ProjectID != projectID {
				return nil
			}
			if latest == nil || newer(&d, latest) {
				latest = &d
			}
			return nil
		})
	})
	if err != nil {
		return nil, storeError("latest by project", err)
	}
	if latest == nil {
		return nil, notFound("Donation")
	}
	return latest, nil
}

func (s *BoltStore) Transition(ctx context.Context, checkoutID string, t Transition) (*models.Donation, bool, error) {
	if !validTerminal(t.Status) {
		return nil, false, apperr.New(apperr.KindValidation, "invalid target status "+t.Status)
	}
	var (
		d       models.Donation
		applied bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketCheckouts).Get([]byte(checkoutID))
		if id == nil {
			return ErrNotFound
		}
		donations := tx.Bucket(bucketDonations)
		if err := getJSON(donations, id, &d); err != nil {
			return err
		}
		if d.Terminal() {
			return nil
		}

		d.Status = t.Status
		d.PaymentDetails = t.Details.JSON()
		d.UpdatedAt = s.now()
		if t.PaymentReference != nil {
			d.PaymentReference = t.PaymentReference
		}
		if t.PaymentMethod != nil {
			d.PaymentMethod = t.PaymentMethod
		}
		if t.PaymentDate != nil {
			pd := t.PaymentDate.UTC()
			d.PaymentDate = &pd
		}
		if err := putJSON(donations, []byte(d.ID), &d); err != nil {
			return err
		}

		if t.Status == models.StatusCompleted {
			projects := tx.Bucket(bucketProjects)
			var p models.Project
			switch err := getJSON(projects, []byte(d.ProjectID), &p); {
			case err == nil:
				p.CurrentAmount += d.Amount
				p.UpdatedAt = d.UpdatedAt
				if err := putJSON(projects, []byte(p.ID), &p); err != nil {
					return err
				}
			case err != ErrNotFound:
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, boltError("transition", lookupMiss(err, "Donation"))
	}
	return &d, applied, nil
}

func (s *BoltStore) ListDonations(ctx context.Context, f DonationFilter) ([]models.Donation, int64, error) {
	f = f.Normalize()
	var all []models.Donation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDonations).ForEach(func(k, v []byte) error {
			var d models.Donation
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if f.Status != "" && d.Status != f.Status {
				return nil
			}
			if f.ProjectID != "" && d.ProjectID != f.ProjectID {
				return nil
			}
			all = append(all, d)
			return nil
		})
	})
	if err != nil {
		return nil, 0, storeError("list donations", err)
	}
	sort.Slice(all, func(i, j int) bool { return newer(&all[i], &all[j]) })

	total := int64(len(all))
	page := []models.Donation{}
	if off := f.offset(); off < len(all) {
		end := off + f.Limit
		if end > len(all) {
			end = len(all)
		}
		page = append(page, all[off:end]...)
	}
	return page, total, nil
}

func (s *BoltStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	projects := []models.Project{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p models.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			projects = append(projects, p)
			return nil
		})
	})
	if err != nil {
		return nil, storeError("list projects", err)
	}
	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].ID < projects[j].ID
		}
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *BoltStore) FindProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketProjects), []byte(id), &p)
	})
	if err != nil {
		return nil, boltError("find project", lookupMiss(err, "Project"))
	}
	return &p, nil
}

func (s *BoltStore) CreateProject(ctx context.Context, p *models.Project) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		if b.Get([]byte(p.ID)) != nil {
			return apperr.Wrap(apperr.KindValidation, "Project already exists", ErrDuplicate)
		}
		now := s.now()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		return putJSON(b, []byte(p.ID), p)
	})
	return boltError("create project", err)
}

// adminRecord keeps the password hash, which models.Admin hides from JSON.
type adminRecord struct {
	models.Admin
	PasswordHash string `json:"password_hash"`
}

func (s *BoltStore) FindAdminByEmail(ctx context.Context, email string) (*models.Admin, error) {
	var rec adminRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketAdmins), []byte(normalizeEmail(email)), &rec)
	})
	if err == nil && !rec.IsActive {
		err = ErrNotFound
	}
	if err != nil {
		return nil, boltError("find admin", lookupMiss(err, "Admin"))
	}
	a := rec.Admin
	a.Password = rec.PasswordHash
	return &a, nil
}

func (s *BoltStore) CreateAdmin(ctx context.Context, a *models.Admin) error {
	a.Email = normalizeEmail(a.Email)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdmins)
		if b.Get([]byte(a.Email)) != nil {
			return apperr.Wrap(apperr.KindValidation, "Admin already exists", ErrDuplicate)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		now := s.now()
		a.ID = int64(seq)
		a.CreatedAt, a.UpdatedAt = now, now
		return putJSON(b, []byte(a.Email), adminRecord{Admin: *a, PasswordHash: a.Password})
	})
	return boltError("create admin", err)
}

func (s *BoltStore) CountAdmins(ctx context.Context) (int64, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketAdmins).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, storeError("count admins", err)
	}
	return int64(n), nil
}

func (s *BoltStore) LogCallback(ctx context.Context, l *models.CallbackLog) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCallbackLogs)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		l.ID = uint(seq)
		if l.CreatedAt.IsZero() {
			l.CreatedAt = s.now()
		}
		return putJSON(b, itob(seq), l)
	})
	return boltError("log callback", err)
}

// CallbackLogs returns audit rows in arrival order.
func (s *BoltStore) CallbackLogs(ctx context.Context) ([]models.CallbackLog, error) {
	logs := []models.CallbackLog{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCallbackLogs).ForEach(func(k, v []byte) error {
			var l models.CallbackLog
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			logs = append(logs, l)
			return nil
		})
	})
	if err != nil {
		return nil, storeError("callback logs", err)
	}
	return logs, nil
}

func newer(a, b *models.Donation) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(bytes.Clone(data), v)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func lookupMiss(err error, what string) error {
	if err == ErrNotFound {
		return notFound(what)
	}
	return err
}

// boltError passes classified errors through and wraps the rest as store
// failures.
func boltError(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return storeError(op, err)
}
