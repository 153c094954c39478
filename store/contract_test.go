package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fundraiser/apperr"
	"fundraiser/models"
	"fundraiser/store"
)

func strPtr(s string) *string { return &s }

func seedProject(t *testing.T, s store.DonationStore, id string) *models.Project {
	t.Helper()
	p := &models.Project{ID: id, Title: "Project " + id, TargetAmount: 1000}
	if err := s.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func seedDonation(t *testing.T, s store.DonationStore, id, projectID, checkoutID string, amount int64) *models.Donation {
	t.Helper()
	d := &models.Donation{ID: id, ProjectID: projectID, Amount: amount, DonorPhone: "0712345678"}
	if err := s.CreateDonation(context.Background(), d); err != nil {
		t.Fatalf("create donation: %v", err)
	}
	if checkoutID != "" {
		if err := s.AttachCheckout(context.Background(), id, checkoutID, models.PaymentDetails{CheckoutRequestID: checkoutID}); err != nil {
			t.Fatalf("attach checkout: %v", err)
		}
	}
	return d
}

func completed(receipt string) store.Transition {
	date := time.Date(2024, 3, 1, 9, 30, 45, 0, time.UTC)
	return store.Transition{
		Status:           models.StatusCompleted,
		PaymentReference: strPtr(receipt),
		PaymentMethod:    strPtr(models.PaymentMethodMpesa),
		PaymentDate:      &date,
		Details:          models.PaymentDetails{ReceiptNumber: receipt, PhoneNumber: "254712345678"},
	}
}

// runContract exercises the behaviour every DonationStore must share.
func runContract(t *testing.T, newStore func(t *testing.T) store.DonationStore) {
	ctx := context.Background()

	t.Run("CreateAndFind", func(t *testing.T) {
		s := newStore(t)
		seedProject(t, s, "P1")
		seedDonation(t, s, "d1", "P1", "", 500)

		got, err := s.FindDonation(ctx, "d1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != models.StatusPending || got.CheckoutRequestID != nil {
			t.Fatalf("expected pending without checkout, got %+v", got)
		}
		if got.Amount != 500 || got.DonorPhone != "0712345678" {
			t.Fatalf("unexpected donation %+v", got)
		}

		_, err = s.FindDonation(ctx, "missing")
		if apperr.KindOf(err) != apperr.KindNotFound || !store.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("AttachCheckoutUnique", func(t *testing.T) {
		s := newStore(t)
		seedProject(t, s, "P1")
		seedDonation(t, s, "d1", "P1", "ws_CO_1", 100)
		seedDonation(t, s, "d2", "P1", "", 100)

		err := s.AttachCheckout(ctx, "d2", "ws_CO_1", models.PaymentDetails{})
		if apperr.KindOf(err) != apperr.KindDuplicateCorrelation {
			t.Fatalf("expected duplicate correlation, got %v", err)
		}
		// Re-attaching the same id to the same donation is a no-op.
		if err := s.AttachCheckout(ctx, "d1", "ws_CO_1", models.PaymentDetails{}); err != nil {
			t.Fatalf("expected idempotent attach, got %v", err)
		}
		if err := s.AttachCheckout(ctx, "d1", "ws_CO_other", models.PaymentDetails{}); apperr.KindOf(err) != apperr.KindDuplicateCorrelation {
			t.Fatalf("expected rejection of second correlation id, got %v", err)
		}

		got, err := s.FindByCheckoutID(ctx, "ws_CO_1")
		if err != nil || got.ID != "d1" {
			t.Fatalf("expected d1, got %+v %v", got, err)
		}
		if got.Details().CheckoutRequestID != "ws_CO_1" {
			t.Fatalf("expected details blob, got %s", got.PaymentDetails)
		}
	})

	t.Run("TransitionCompletesOnce", func(t *testing.T) {
		s := newStore(t)
		seedProject(t, s, "P1")
		seedDonation(t, s, "d1", "P1", "ws_CO_1", 500)

		d, applied, err := s.Transition(ctx, "ws_CO_1", completed("QGR12345"))
		if err != nil || !applied {
			t.Fatalf("expected applied transition, got applied=%v err=%v", applied, err)
		}
		if d.Status != models.StatusCompleted || d.PaymentReference == nil || *d.PaymentReference != "QGR12345" {
			t.Fatalf("unexpected donation %+v", d)
		}
		if d.PaymentMethod == nil || *d.PaymentMethod != "mpesa" || d.PaymentDate == nil {
			t.Fatalf("expected payment method and date, got %+v", d)
		}

		// Replay and a contradicting failure are both no-ops.
		_, applied, err = s.Transition(ctx, "ws_CO_1", completed("OTHER"))
		if err != nil || applied {
			t.Fatalf("expected no-op replay, got applied=%v err=%v", applied, err)
		}
		d, applied, err = s.Transition(ctx, "ws_CO_1", store.Transition{Status: models.StatusFailed})
		if err != nil || applied {
			t.Fatalf("expected no-op failure after completion, got applied=%v err=%v", applied, err)
		}
		if d.Status != models.StatusCompleted || *d.PaymentReference != "QGR12345" {
			t.Fatalf("terminal donation mutated: %+v", d)
		}

		p, err := s.FindProject(ctx, "P1")
		if err != nil {
			t.Fatal(err)
		}
		if p.CurrentAmount != 500 {
			t.Fatalf("expected project total 500, got %d", p.CurrentAmount)
		}
	})

	t.Run("TransitionFailedLeavesTotal", func(t *testing.T) {
		s := newStore(t)
		seedProject(t, s, "P1")
		seedDonation(t, s, "d1", "P1", "ws_CO_9", 500)

		d, applied, err := s.Transition(ctx, "ws_CO_9", store.Transition{
			Status:  models.StatusFailed,
			Details: models.PaymentDetails{Error: "Request cancelled by user", CheckoutRequestID: "ws_CO_9"},
		})
		if err != nil || !applied {
			t.Fatalf("expected applied, got %v %v", applied, err)
		}
		if d.Status != models.StatusFailed || d.PaymentReference != nil {
			t.Fatalf("unexpected donation %+v", d)
		}
		if d.Details().Error != "Request cancelled by user" {
			t.Fatalf("expected error detail, got %s", d.PaymentDetails)
		}
		_, applied, _ = s.Transition(ctx, "ws_CO_9", completed("LATE"))
		if applied {
			t.Fatal("failed donation must not complete")
		}
		p, _ := s.FindProject(ctx, "P1")
		if p.CurrentAmount != 0 {
			t.Fatalf("expected untouched total, got %d", p.CurrentAmount)
		}
	})

	t.Run("TransitionUnknownCorrelation", func(t *testing.T) {
		s := newStore(t)
		seedProject(t, s, "P1")
		seedDonation(t, s, "d1", "P1", "ws_CO_1", 500)

		_, _, err := s.Transition(ctx, "ws_CO_999", completed("X"))
		if !store.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
		d, _ := s.FindDonation(ctx, "d1")
		if d.Status != models.StatusPending {
			t.Fatalf("unrelated donation mutated: %+v", d)
		}
	})

	t.Run("ConcurrentDuplicateCallbacks", func(t *testing.T) {
		s := newStore(t)
		seedProject(t, s, "P1")
		seedDonation(t, s, "d1", "P1", "ws_CO_1", 250)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.Transition(ctx, "ws_CO_1", completed("R1"))
				if err != nil {
					t.Errorf("transition: %v", err)
					return
				}
				if ok {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if applied != 1 {
			t.Fatalf("expected exactly one applied transition, got %d", applied)
		}
		p, _ := s.FindProject(ctx, "P1")
		if p.CurrentAmount != 250 {
			t.Fatalf("expected total 250, got %d", p.CurrentAmount)
		}
	})

	t.Run("ListAndLatest", func(t *testing.T) {
		s := newStore(t)
		seedProject(t, s, "P1")
		seedProject(t, s, "P2")
		for i := 0; i < 5; i++ {
			seedDonation(t, s, fmt.Sprintf("d%d", i), "P1", fmt.Sprintf("ws_CO_%d", i), int64(10*(i+1)))
			time.Sleep(2 * time.Millisecond)
		}
		seedDonation(t, s, "other", "P2", "", 1)
		if _, _, err := s.Transition(ctx, "ws_CO_0", completed("R0")); err != nil {
			t.Fatal(err)
		}

		latest, err := s.LatestByProject(ctx, "P1")
		if err != nil || latest.ID != "d4" {
			t.Fatalf("expected d4 latest, got %+v %v", latest, err)
		}
		if _, err := s.LatestByProject(ctx, "P3"); !store.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}

		page, total, err := s.ListDonations(ctx, store.DonationFilter{ProjectID: "P1", Page: 2, Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if total != 5 || len(page) != 2 || page[0].ID != "d2" || page[1].ID != "d1" {
			t.Fatalf("unexpected page total=%d ids=%v", total, ids(page))
		}

		done, total, err := s.ListDonations(ctx, store.DonationFilter{Status: "completed"})
		if err != nil {
			t.Fatal(err)
		}
		if total != 1 || done[0].ID != "d0" {
			t.Fatalf("unexpected completed listing %v", ids(done))
		}

		projects, err := s.ListProjects(ctx)
		if err != nil || len(projects) != 2 {
			t.Fatalf("expected 2 projects, got %d %v", len(projects), err)
		}
	})

	t.Run("Admins", func(t *testing.T) {
		s := newStore(t)
		n, err := s.CountAdmins(ctx)
		if err != nil || n != 0 {
			t.Fatalf("expected no admins, got %d %v", n, err)
		}
		a := &models.Admin{Email: "Admin@Example.org", Password: "secret", Name: "Admin", IsActive: true}
		if err := a.HashPassword(); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateAdmin(ctx, a); err != nil {
			t.Fatal(err)
		}
		got, err := s.FindAdminByEmail(ctx, "admin@example.org")
		if err != nil {
			t.Fatal(err)
		}
		if !got.ValidatePassword("secret") || got.ValidatePassword("wrong") {
			t.Fatal("password validation mismatch")
		}
		if err := s.CreateAdmin(ctx, &models.Admin{Email: "admin@example.org", Password: "x", IsActive: true}); err == nil {
			t.Fatal("expected duplicate admin to fail")
		}
		if _, err := s.FindAdminByEmail(ctx, "nobody@example.org"); !store.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("LogCallback", func(t *testing.T) {
		s := newStore(t)
		code := 0
		if err := s.LogCallback(ctx, &models.CallbackLog{CheckoutRequestID: "ws_CO_1", ResultCode: &code, Outcome: models.OutcomeCompleted, Payload: []byte(`{"a":1}`)}); err != nil {
			t.Fatal(err)
		}
		if err := s.Ping(ctx); err != nil {
			t.Fatal(err)
		}
	})
}

func ids(ds []models.Donation) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.ID)
	}
	return out
}
