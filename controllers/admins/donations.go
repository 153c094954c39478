package admins

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"fundraiser/models"
	"fundraiser/store"
	"fundraiser/utils"
)

// DonationReader is the read side of the donation store.
type DonationReader interface {
	FindDonation(ctx context.Context, id string) (*models.Donation, error)
	ListDonations(ctx context.Context, f store.DonationFilter) ([]models.Donation, int64, error)
}

type DonationController struct {
	Store  DonationReader
	Logger *slog.Logger
}

func NewDonationController(s DonationReader, logger *slog.Logger) *DonationController {
	if logger == nil {
		logger = slog.Default()
	}
	return &DonationController{Store: s, Logger: logger}
}

type DonationListResponse struct {
	Items []models.Donation `json:"items"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

// GetDonations handles GET /api/admin/donations?status=&projectId=&page=&limit=.
func (c *DonationController) GetDonations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	filter := store.DonationFilter{
		Status:    q.Get("status"),
		ProjectID: q.Get("projectId"),
		Page:      page,
		Limit:     limit,
	}.Normalize()

	switch filter.Status {
	case "", models.StatusPending, models.StatusCompleted, models.StatusFailed:
	default:
		utils.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "status must be pending, completed or failed")
		return
	}

	items, total, err := c.Store.ListDonations(r.Context(), filter)
	if err != nil {
		c.Logger.Error("list donations failed", slog.Any("error", err))
		utils.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Database error")
		return
	}
	if items == nil {
		items = []models.Donation{}
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Successfully",
		Data: DonationListResponse{
			Items: items,
			Total: total,
			Page:  filter.Page,
			Limit: filter.Limit,
		},
	})
}

// GetDonation handles GET /api/admin/donations/{id} with every stored field.
func (c *DonationController) GetDonation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, err := c.Store.FindDonation(r.Context(), id)
	if store.IsNotFound(err) {
		utils.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Donation not found")
		return
	}
	if err != nil {
		c.Logger.Error("find donation failed", slog.String("donation_id", id), slog.Any("error", err))
		utils.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Database error")
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Successfully",
		Data:    d,
	})
}
