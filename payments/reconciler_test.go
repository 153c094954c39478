package payments

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"fundraiser/apperr"
	"fundraiser/logging"
	"fundraiser/models"
	"fundraiser/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []DonationEvent
	subs   []string
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, subject)
	p.events = append(p.events, v.(DonationEvent))
	return p.err
}

type recordingArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *recordingArchive) Archive(ctx context.Context, checkoutID string, payload []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, checkoutID)
	return "k/" + checkoutID, nil
}

type fixture struct {
	store   *store.BoltStore
	events  *recordingPublisher
	archive *recordingArchive
	rec     *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "rec.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	if err := s.CreateProject(ctx, &models.Project{ID: "P1", Title: "Water", TargetAmount: 50000}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateDonation(ctx, &models.Donation{ID: "d1", ProjectID: "P1", Amount: 500, DonorPhone: "0712345678"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachCheckout(ctx, "d1", "ws_CO_1", models.PaymentDetails{CheckoutRequestID: "ws_CO_1"}); err != nil {
		t.Fatal(err)
	}
	f := &fixture{store: s, events: &recordingPublisher{}, archive: &recordingArchive{}}
	f.rec = NewReconciler(s, f.events, f.archive, logging.Discard())
	return f
}

const (
	successCallback = `{"Body":{"stkCallback":{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":500},{"Name":"MpesaReceiptNumber","Value":"QGR12345"},{"Name":"TransactionDate","Value":20240301123045},{"Name":"PhoneNumber","Value":254712345678}]}}}}`
	failureCallback = `{"Body":{"stkCallback":{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_1","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
)

func TestReconcile_Success(t *testing.T) {
	f := newFixture(t)
	res, err := f.rec.Reconcile(context.Background(), []byte(successCallback))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeCompleted || !res.Applied || res.DonationID != "d1" {
		t.Fatalf("unexpected result %+v", res)
	}

	d, err := f.store.FindDonation(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != models.StatusCompleted || d.PaymentReference == nil || *d.PaymentReference != "QGR12345" {
		t.Fatalf("unexpected donation %+v", d)
	}
	if d.PaymentMethod == nil || *d.PaymentMethod != models.PaymentMethodMpesa {
		t.Fatalf("expected mpesa payment method, got %v", d.PaymentMethod)
	}
	if d.PaymentDate == nil || d.PaymentDate.UTC().Hour() != 9 {
		t.Fatalf("expected EAT transaction date 12:30 (09:30 UTC), got %v", d.PaymentDate)
	}
	details := d.Details()
	if details.ReceiptNumber != "QGR12345" || details.PhoneNumber != "254712345678" || details.TransactionDate != "20240301123045" {
		t.Fatalf("unexpected details %+v", details)
	}

	p, _ := f.store.FindProject(context.Background(), "P1")
	if p.CurrentAmount != 500 {
		t.Fatalf("expected project total 500, got %d", p.CurrentAmount)
	}
	if len(f.events.subs) != 1 || f.events.subs[0] != SubjectCompleted || f.events.events[0].PaymentReference != "QGR12345" {
		t.Fatalf("unexpected events %+v", f.events)
	}
	if len(f.archive.keys) != 1 {
		t.Fatalf("expected one archived payload, got %d", len(f.archive.keys))
	}
}

func TestReconcile_DuplicateIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.rec.Reconcile(ctx, []byte(successCallback)); err != nil {
		t.Fatal(err)
	}
	for _, payload := range []string{successCallback, failureCallback} {
		res, err := f.rec.Reconcile(ctx, []byte(payload))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Outcome != OutcomeDuplicate || res.Applied || res.Status != models.StatusCompleted {
			t.Fatalf("unexpected result %+v", res)
		}
	}
	p, _ := f.store.FindProject(ctx, "P1")
	if p.CurrentAmount != 500 {
		t.Fatalf("expected total counted once, got %d", p.CurrentAmount)
	}
	if len(f.events.events) != 1 {
		t.Fatalf("expected a single event, got %d", len(f.events.events))
	}
	logs, _ := f.store.CallbackLogs(ctx)
	if len(logs) != 3 || logs[1].Outcome != models.OutcomeDuplicate {
		t.Fatalf("expected every delivery audited, got %+v", logs)
	}
}

func TestReconcile_Failure(t *testing.T) {
	f := newFixture(t)
	res, err := f.rec.Reconcile(context.Background(), []byte(failureCallback))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeFailed || res.Status != models.StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	d, _ := f.store.FindDonation(context.Background(), "d1")
	details := d.Details()
	if details.Error != "Request cancelled by user" || details.CheckoutRequestID != "ws_CO_1" {
		t.Fatalf("unexpected details %+v", details)
	}
	if details.ResultCode == nil || *details.ResultCode != 1032 {
		t.Fatalf("expected result code in details, got %v", details.ResultCode)
	}
	if d.PaymentReference != nil {
		t.Fatal("failed donation must not carry a payment reference")
	}
	if f.events.subs[0] != SubjectFailed || f.events.events[0].Reason != "Request cancelled by user" {
		t.Fatalf("unexpected events %+v", f.events)
	}

	// A late success for a failed donation changes nothing.
	res, err = f.rec.Reconcile(context.Background(), []byte(successCallback))
	if err != nil || res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %+v %v", res, err)
	}
	p, _ := f.store.FindProject(context.Background(), "P1")
	if p.CurrentAmount != 0 {
		t.Fatalf("expected untouched total, got %d", p.CurrentAmount)
	}
}

func TestReconcile_UnknownCorrelation(t *testing.T) {
	f := newFixture(t)
	payload := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_999","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"X"}]}}}}`
	res, err := f.rec.Reconcile(context.Background(), []byte(payload))
	if apperr.KindOf(err) != apperr.KindUnknownCorrelation {
		t.Fatalf("expected UNKNOWN_CORRELATION, got %v", err)
	}
	if res.Outcome != OutcomeUnknown {
		t.Fatalf("unexpected outcome %s", res.Outcome)
	}
	d, _ := f.store.FindDonation(context.Background(), "d1")
	if d.Status != models.StatusPending {
		t.Fatalf("donation mutated: %+v", d)
	}
	if len(f.events.events) != 0 {
		t.Fatal("no event expected for unknown correlation")
	}
}

func TestReconcile_Malformed(t *testing.T) {
	f := newFixture(t)
	for _, payload := range []string{`garbage`, `{"Body":{}}`} {
		res, err := f.rec.Reconcile(context.Background(), []byte(payload))
		if apperr.KindOf(err) != apperr.KindMalformedCallback || res.Outcome != OutcomeMalformed {
			t.Fatalf("expected malformed for %s, got %+v %v", payload, res, err)
		}
	}
	logs, _ := f.store.CallbackLogs(context.Background())
	if len(logs) != 2 || string(logs[0].Payload) != `"garbage"` {
		t.Fatalf("unexpected audit rows %+v", logs)
	}
}

func TestReconcile_SuccessMissingMetadata(t *testing.T) {
	f := newFixture(t)
	payload := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"R9"}]}}}}`
	res, err := f.rec.Reconcile(context.Background(), []byte(payload))
	if apperr.KindOf(err) != apperr.KindMalformedCallback {
		t.Fatalf("expected MALFORMED_CALLBACK, got %v", err)
	}
	if !res.Applied || res.Outcome != OutcomeCompleted || len(res.MissingFields) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	d, _ := f.store.FindDonation(context.Background(), "d1")
	if d.Status != models.StatusCompleted || *d.PaymentReference != "R9" || d.PaymentDate != nil {
		t.Fatalf("unexpected donation %+v", d)
	}
	if got := d.Details().MissingFields; len(got) != 2 {
		t.Fatalf("expected missing fields recorded, got %v", got)
	}
}

func TestReconcile_SideChannelFailuresDoNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("nats down")
	res, err := f.rec.Reconcile(context.Background(), []byte(successCallback))
	if err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed despite publish failure, got %+v %v", res, err)
	}
}

func TestReconcile_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	results := make(chan Result, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := successCallback
			if i%2 == 1 {
				payload = failureCallback
			}
			res, err := f.rec.Reconcile(context.Background(), []byte(payload))
			if err != nil {
				t.Errorf("reconcile: %v", err)
			}
			results <- res
		}(i)
	}
	wg.Wait()
	close(results)

	applied := 0
	for res := range results {
		if res.Applied {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied transition, got %d", applied)
	}
	d, _ := f.store.FindDonation(context.Background(), "d1")
	p, _ := f.store.FindProject(context.Background(), "P1")
	if d.Status == models.StatusCompleted && p.CurrentAmount != 500 {
		t.Fatalf("completed donation must count once, total %d", p.CurrentAmount)
	}
	if d.Status == models.StatusFailed && p.CurrentAmount != 0 {
		t.Fatalf("failed donation must not count, total %d", p.CurrentAmount)
	}
}
