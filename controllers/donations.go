package controllers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"fundraiser/apperr"
	"fundraiser/middleware"
	"fundraiser/models"
	"fundraiser/mpesa"
	"fundraiser/payments"
	"fundraiser/store"
	"fundraiser/utils"
)

// PaymentInitiator starts a push payment for a donation.
type PaymentInitiator interface {
	Validate(phone string, amount int64) error
	Initiate(ctx context.Context, phone string, amount int64, projectRef string) (*mpesa.InitiationResult, error)
}

// CallbackReconciler applies provider callbacks.
type CallbackReconciler interface {
	Reconcile(ctx context.Context, payload []byte) (payments.Result, error)
}

const attachTimeout = 10 * time.Second

type DonationController struct {
	Store      store.DonationStore
	Initiator  PaymentInitiator
	Reconciler CallbackReconciler
	Logger     *slog.Logger
}

func NewDonationController(s store.DonationStore, initiator PaymentInitiator, reconciler CallbackReconciler, logger *slog.Logger) *DonationController {
	if logger == nil {
		logger = slog.Default()
	}
	return &DonationController{Store: s, Initiator: initiator, Reconciler: reconciler, Logger: logger}
}

type CreateDonationRequest struct {
	ProjectID   string  `json:"projectId" validate:"required,max=36"`
	Amount      int64   `json:"amount"`
	Phone       string  `json:"phone" validate:"required,max=32"`
	DonorName   *string `json:"donorName" validate:"max=191"`
	Email       *string `json:"email" validate:"email,max=191"`
	Message     *string `json:"message" validate:"max=1000"`
	IsAnonymous bool    `json:"isAnonymous"`
}

type CreateDonationResponse struct {
	DonationID        string `json:"donationId"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	CustomerMessage   string `json:"customerMessage"`
}

// CreateDonation handles POST /api/donations. The donation is stored pending
// before the provider is contacted and stays pending if initiation fails.
func (c *DonationController) CreateDonation(w http.ResponseWriter, r *http.Request) {
	var req CreateDonationRequest
	if err := middleware.ValidateJSON(w, r, &req); err != nil {
		return
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)

	if err := c.Initiator.Validate(req.Phone, req.Amount); err != nil {
		writeKindError(w, err, "Invalid donation")
		return
	}

	ctx := r.Context()
	project, err := c.Store.FindProject(ctx, req.ProjectID)
	if err != nil {
		if !store.IsNotFound(err) {
			c.Logger.Error("find project failed", slog.String("project_id", req.ProjectID), slog.Any("error", err))
		}
		writeKindError(w, err, "Project not found")
		return
	}

	donation := &models.Donation{
		ID:          utils.NewID(),
		ProjectID:   project.ID,
		Amount:      req.Amount,
		DonorName:   trimmed(req.DonorName),
		DonorPhone:  req.Phone,
		DonorEmail:  trimmed(req.Email),
		Message:     trimmed(req.Message),
		IsAnonymous: req.IsAnonymous,
		Status:      models.StatusPending,
	}
	if err := c.Store.CreateDonation(ctx, donation); err != nil {
		c.Logger.Error("create donation failed", slog.Any("error", err))
		writeKindError(w, err, "Failed to create donation")
		return
	}

	result, err := c.Initiator.Initiate(ctx, req.Phone, req.Amount, project.ID)
	if err != nil {
		c.Logger.Warn("payment initiation failed",
			slog.String("donation_id", donation.ID),
			slog.String("kind", string(apperr.KindOf(err))),
			slog.Any("error", err))
		writeKindError(w, err, "Failed to initiate payment")
		return
	}

	details := models.PaymentDetails{
		MerchantRequestID: result.MerchantRequestID,
		CheckoutRequestID: result.CheckoutRequestID,
		CustomerMessage:   result.CustomerMessage,
	}
	// The push is live once Initiate returns, so the correlation id is saved
	// even if the client has gone away or the request deadline passed.
	attachCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attachTimeout)
	defer cancel()
	if err := c.Store.AttachCheckout(attachCtx, donation.ID, result.CheckoutRequestID, details); err != nil {
		// The push already reached the donor; keep enough to reconcile by hand.
		c.Logger.Error("attach checkout failed",
			slog.String("donation_id", donation.ID),
			slog.String("checkout_request_id", result.CheckoutRequestID),
			slog.Any("error", err))
		writeKindError(w, err, "Failed to record payment request")
		return
	}

	c.Logger.Info("donation created",
		slog.String("donation_id", donation.ID),
		slog.String("project_id", project.ID),
		slog.String("checkout_request_id", result.CheckoutRequestID))

	utils.WriteJSON(w, http.StatusCreated, utils.APIResponse{
		Success: true,
		Message: "Donation created successfully",
		Data: CreateDonationResponse{
			DonationID:        donation.ID,
			CheckoutRequestID: result.CheckoutRequestID,
			CustomerMessage:   result.CustomerMessage,
		},
	})
}

// CallbackAck is the body the provider expects back.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// MpesaCallback handles POST /api/mpesa/callback. The provider always gets a
// 200 ack except when the store itself failed, so that it retries.
func (c *DonationController) MpesaCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteJSON(w, http.StatusOK, CallbackAck{ResultCode: 1, ResultDesc: "Invalid body"})
		return
	}

	res, err := c.Reconciler.Reconcile(r.Context(), body)
	switch kind := apperr.KindOf(err); {
	case err == nil:
		utils.WriteJSON(w, http.StatusOK, CallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
	case kind == apperr.KindMalformedCallback && res.Applied:
		utils.WriteJSON(w, http.StatusOK, CallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
	case kind == apperr.KindStore:
		utils.WriteJSON(w, http.StatusInternalServerError, CallbackAck{ResultCode: 1, ResultDesc: "Temporary failure"})
	case kind == apperr.KindUnknownCorrelation:
		utils.WriteJSON(w, http.StatusOK, CallbackAck{ResultCode: 1, ResultDesc: "Unknown CheckoutRequestID"})
	default:
		utils.WriteJSON(w, http.StatusOK, CallbackAck{ResultCode: 1, ResultDesc: "Rejected"})
	}
}

type PaymentStatusResponse struct {
	Status           string `json:"status"`
	PaymentReference string `json:"paymentReference,omitempty"`
}

// PaymentStatus handles GET /api/payments/{id}/status. id is a donation id;
// when no donation has it, it is treated as a project id and the latest
// donation of that project answers.
func (c *DonationController) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	d, err := c.Store.FindDonation(ctx, id)
	if store.IsNotFound(err) {
		d, err = c.Store.LatestByProject(ctx, id)
	}
	if err != nil {
		if !store.IsNotFound(err) {
			c.Logger.Error("payment status lookup failed", slog.String("id", id), slog.Any("error", err))
		}
		writeKindError(w, err, "Donation not found")
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Successfully",
		Data: PaymentStatusResponse{
			Status:           d.Status,
			PaymentReference: utils.GetStringValue(d.PaymentReference),
		},
	})
}

// DonationView is the public shape of a donation. Anonymous donors are not
// named and contact details never leave the server.
type DonationView struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"projectId"`
	Amount           int64   `json:"amount"`
	DonorName        *string `json:"donorName,omitempty"`
	Message          *string `json:"message,omitempty"`
	IsAnonymous      bool    `json:"isAnonymous"`
	Status           string  `json:"status"`
	PaymentReference *string `json:"paymentReference,omitempty"`
	CreatedAt        string  `json:"createdAt"`
}

func publicView(d *models.Donation) DonationView {
	v := DonationView{
		ID:               d.ID,
		ProjectID:        d.ProjectID,
		Amount:           d.Amount,
		Message:          d.Message,
		IsAnonymous:      d.IsAnonymous,
		Status:           d.Status,
		PaymentReference: d.PaymentReference,
		CreatedAt:        d.CreatedAt.UTC().Format(timeLayout),
	}
	if !d.IsAnonymous {
		v.DonorName = d.DonorName
	}
	return v
}

// GetDonation handles GET /api/donations/{id}.
func (c *DonationController) GetDonation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, err := c.Store.FindDonation(r.Context(), id)
	if err != nil {
		if !store.IsNotFound(err) {
			c.Logger.Error("find donation failed", slog.String("donation_id", id), slog.Any("error", err))
		}
		writeKindError(w, err, "Donation not found")
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Successfully",
		Data:    publicView(d),
	})
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	return utils.StringPtr(strings.TrimSpace(*s))
}
