// Package payments reconciles asynchronous provider callbacks with the
// donations they belong to.
package payments

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fundraiser/apperr"
	"fundraiser/models"
	"fundraiser/mpesa"
	"fundraiser/store"
)

// Outcome of one callback delivery.
type Outcome string

const (
	OutcomeCompleted Outcome = models.OutcomeCompleted
	OutcomeFailed    Outcome = models.OutcomeFailed
	OutcomeDuplicate Outcome = models.OutcomeDuplicate
	OutcomeUnknown   Outcome = models.OutcomeUnknown
	OutcomeMalformed Outcome = models.OutcomeMalformed
	OutcomeError     Outcome = models.OutcomeError
)

// Event subjects, relative to the publisher prefix.
const (
	SubjectCompleted = "completed"
	SubjectFailed    = "failed"
)

// Store is the part of store.DonationStore the reconciler writes through.
type Store interface {
	Transition(ctx context.Context, checkoutID string, t store.Transition) (*models.Donation, bool, error)
	LogCallback(ctx context.Context, l *models.CallbackLog) error
}

// Publisher emits donation outcome events.
type Publisher interface {
	Publish(ctx context.Context, subject string, v interface{}) error
}

// Archiver keeps raw callback payloads.
type Archiver interface {
	Archive(ctx context.Context, checkoutID string, payload []byte) (string, error)
}

// Result describes what a callback did.
type Result struct {
	Outcome           Outcome
	DonationID        string
	CheckoutRequestID string
	Status            string
	Applied           bool
	MissingFields     []string
}

// DonationEvent is published after an applied transition.
type DonationEvent struct {
	DonationID        string    `json:"donation_id"`
	ProjectID         string    `json:"project_id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Status            string    `json:"status"`
	Amount            int64     `json:"amount"`
	PaymentReference  string    `json:"payment_reference,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type Reconciler struct {
	store   Store
	events  Publisher
	archive Archiver
	logger  *slog.Logger
	now     func() time.Time
}

// NewReconciler wires the reconciler. events and archive may be nil.
func NewReconciler(s Store, events Publisher, archive Archiver, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: s, events: events, archive: archive, logger: logger, now: time.Now}
}

// Reconcile applies one callback payload. The returned error carries an
// apperr kind: MALFORMED_CALLBACK, UNKNOWN_CORRELATION or STORE_ERROR. A
// success callback missing metadata is still applied and then reported as
// MALFORMED_CALLBACK with Result.Applied set.
func (r *Reconciler) Reconcile(ctx context.Context, payload []byte) (Result, error) {
	cb, err := mpesa.ParseCallback(payload)
	if err != nil {
		r.logger.Warn("malformed callback", slog.Any("error", err))
		r.audit(ctx, nil, OutcomeMalformed, payload)
		return Result{Outcome: OutcomeMalformed}, err
	}

	res := Result{CheckoutRequestID: cb.CheckoutRequestID}
	t := r.transitionFor(cb)
	if t.Status == models.StatusCompleted {
		res.MissingFields = t.Details.MissingFields
	}

	d, applied, err := r.store.Transition(ctx, cb.CheckoutRequestID, t)
	switch {
	case store.IsNotFound(err):
		r.logger.Warn("callback for unknown checkout request",
			slog.String("checkout_request_id", cb.CheckoutRequestID),
			slog.Int("result_code", cb.ResultCode))
		res.Outcome = OutcomeUnknown
		r.audit(ctx, cb, res.Outcome, payload)
		return res, apperr.Wrap(apperr.KindUnknownCorrelation, "Unknown CheckoutRequestID", err)
	case err != nil:
		r.logger.Error("callback transition failed",
			slog.String("checkout_request_id", cb.CheckoutRequestID),
			slog.Any("error", err))
		res.Outcome = OutcomeError
		r.audit(ctx, cb, res.Outcome, payload)
		if apperr.KindOf(err) != apperr.KindStore {
			err = apperr.Wrap(apperr.KindStore, "Database error", err)
		}
		return res, err
	}

	res.DonationID = d.ID
	res.Status = d.Status
	res.Applied = applied
	if !applied {
		r.logger.Info("duplicate callback ignored",
			slog.String("checkout_request_id", cb.CheckoutRequestID),
			slog.String("donation_id", d.ID),
			slog.String("status", d.Status))
		res.Outcome = OutcomeDuplicate
		r.audit(ctx, cb, res.Outcome, payload)
		return res, nil
	}

	if d.Status == models.StatusCompleted {
		res.Outcome = OutcomeCompleted
	} else {
		res.Outcome = OutcomeFailed
	}
	r.logger.Info("donation reconciled",
		slog.String("donation_id", d.ID),
		slog.String("checkout_request_id", cb.CheckoutRequestID),
		slog.String("status", d.Status),
		slog.Int("result_code", cb.ResultCode))

	r.audit(ctx, cb, res.Outcome, payload)
	r.publish(ctx, d, cb)
	r.archiveRaw(ctx, cb.CheckoutRequestID, payload)

	if len(res.MissingFields) > 0 {
		r.logger.Warn("success callback missing metadata",
			slog.String("checkout_request_id", cb.CheckoutRequestID),
			slog.Any("missing", res.MissingFields))
		return res, apperr.New(apperr.KindMalformedCallback, "Callback metadata incomplete")
	}
	return res, nil
}

func (r *Reconciler) transitionFor(cb *mpesa.Callback) store.Transition {
	code := cb.ResultCode
	if !cb.Succeeded() {
		return store.Transition{
			Status: models.StatusFailed,
			Details: models.PaymentDetails{
				MerchantRequestID: cb.MerchantRequestID,
				CheckoutRequestID: cb.CheckoutRequestID,
				ResultCode:        &code,
				Error:             cb.ResultDesc,
			},
		}
	}

	method := models.PaymentMethodMpesa
	t := store.Transition{
		Status:        models.StatusCompleted,
		PaymentMethod: &method,
		Details: models.PaymentDetails{
			MerchantRequestID: cb.MerchantRequestID,
			CheckoutRequestID: cb.CheckoutRequestID,
			ReceiptNumber:     cb.Receipt(),
			TransactionDate:   cb.RawTransactionDate(),
			PhoneNumber:       cb.PhoneNumber(),
			ResultCode:        &code,
			MissingFields:     cb.MissingFields(),
		},
	}
	if receipt := cb.Receipt(); receipt != "" {
		t.PaymentReference = &receipt
	}
	if date, ok := cb.TransactionDate(); ok {
		t.PaymentDate = &date
	}
	if amount, ok := cb.Amount(); ok {
		t.Details.Amount = &amount
	}
	return t
}

func (r *Reconciler) audit(ctx context.Context, cb *mpesa.Callback, outcome Outcome, payload []byte) {
	entry := &models.CallbackLog{
		Outcome:   string(outcome),
		Payload:   rawJSON(payload),
		CreatedAt: r.now().UTC(),
	}
	if cb != nil {
		code := cb.ResultCode
		entry.CheckoutRequestID = cb.CheckoutRequestID
		entry.MerchantRequestID = cb.MerchantRequestID
		entry.ResultCode = &code
	}
	if err := r.store.LogCallback(ctx, entry); err != nil {
		r.logger.Warn("callback audit failed", slog.Any("error", err))
	}
}

func (r *Reconciler) publish(ctx context.Context, d *models.Donation, cb *mpesa.Callback) {
	if r.events == nil {
		return
	}
	ev := DonationEvent{
		DonationID:        d.ID,
		ProjectID:         d.ProjectID,
		CheckoutRequestID: cb.CheckoutRequestID,
		Status:            d.Status,
		Amount:            d.Amount,
		OccurredAt:        r.now().UTC(),
	}
	subject := SubjectFailed
	if d.Status == models.StatusCompleted {
		subject = SubjectCompleted
		if d.PaymentReference != nil {
			ev.PaymentReference = *d.PaymentReference
		}
	} else {
		ev.Reason = cb.ResultDesc
	}
	if err := r.events.Publish(ctx, subject, ev); err != nil {
		r.logger.Warn("donation event publish failed",
			slog.String("donation_id", d.ID),
			slog.String("subject", subject),
			slog.Any("error", err))
	}
}

func (r *Reconciler) archiveRaw(ctx context.Context, checkoutID string, payload []byte) {
	if r.archive == nil {
		return
	}
	key, err := r.archive.Archive(ctx, checkoutID, payload)
	if err != nil {
		r.logger.Warn("callback archive failed", slog.String("checkout_request_id", checkoutID), slog.Any("error", err))
		return
	}
	r.logger.Debug("callback archived", slog.String("key", key))
}

// rawJSON keeps valid JSON as-is and wraps anything else as a JSON string so
// the audit column always holds valid JSON.
func rawJSON(payload []byte) []byte {
	if json.Valid(payload) {
		return payload
	}
	b, _ := json.Marshal(string(payload))
	return b
}
