package mpesa

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fundraiser/apperr"
)

const transactionDesc = "Donation payment"

// InitiationResult is what the caller stores to correlate the later callback.
type InitiationResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	CustomerMessage   string
}

// Initiator runs the push-payment handshake: token, callback registration,
// signed STK push. It never retries.
type Initiator struct {
	client  *Client
	tokens  TokenProvider
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewInitiator(client *Client, tokens TokenProvider, logger *slog.Logger, timeout time.Duration) *Initiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Initiator{client: client, tokens: tokens, logger: logger, timeout: timeout, now: time.Now}
}

// Validate checks the preconditions of Initiate without contacting the provider.
func (i *Initiator) Validate(phone string, amount int64) error {
	if !ValidatePhone(phone) {
		return apperr.New(apperr.KindInvalidPhone, "Invalid phone number format")
	}
	if amount <= 0 {
		return apperr.New(apperr.KindInvalidAmount, "Amount must be greater than 0")
	}
	return nil
}

// Initiate asks the provider to push a payment prompt to phone. Every provider
// failure, including a timeout, comes back with kind INITIATION_FAILED.
func (i *Initiator) Initiate(ctx context.Context, phone string, amount int64, projectRef string) (*InitiationResult, error) {
	if err := i.Validate(phone, amount); err != nil {
		return nil, err
	}
	msisdn, err := NormalizePhone(phone)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidPhone, "Invalid phone number format", err)
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	token, err := i.tokens.Token(ctx)
	if err != nil {
		return nil, initiationError("Failed to obtain access token", err)
	}

	cfg := i.client.Config()
	if cfg.RegisterCallback {
		if err := i.client.RegisterURL(ctx, token); err != nil {
			var perr *ProviderError
			if !errors.As(err, &perr) {
				return nil, initiationError("Failed to register callback URL", err)
			}
			i.logger.Warn("callback url registration rejected",
				slog.Int("status", perr.StatusCode),
				slog.String("code", perr.Code),
				slog.String("description", perr.Description))
		}
	}

	ts := Timestamp(i.now())
	resp, err := i.client.STKPush(ctx, token, STKPushRequest{
		BusinessShortCode: cfg.ShortCode,
		Password:          Password(cfg.ShortCode, cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   cfg.TransactionType,
		Amount:            amount,
		PartyA:            msisdn,
		PartyB:            cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       cfg.CallbackURL,
		AccountReference:  projectRef,
		TransactionDesc:   transactionDesc,
	})
	if err != nil {
		i.dropRejectedToken(ctx, err)
		return nil, initiationError("Failed to initiate payment", err)
	}

	i.logger.Info("stk push accepted",
		slog.String("checkout_request_id", resp.CheckoutRequestID),
		slog.String("merchant_request_id", resp.MerchantRequestID),
		slog.String("project", projectRef))

	return &InitiationResult{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// dropRejectedToken forgets a cached token the provider refused so the next
// initiation fetches a fresh one.
func (i *Initiator) dropRejectedToken(ctx context.Context, err error) {
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusUnauthorized {
		return
	}
	if inv, ok := i.tokens.(TokenInvalidator); ok {
		inv.Invalidate(context.WithoutCancel(ctx))
		i.logger.Warn("access token rejected, cache dropped")
	}
}

func initiationError(fallback string, err error) error {
	var perr *ProviderError
	switch {
	case errors.As(err, &perr) && perr.Description != "":
		return apperr.Wrap(apperr.KindInitiation, perr.Description, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindInitiation, "Payment provider timed out", err)
	}
	return apperr.Wrap(apperr.KindInitiation, fallback, err)
}
