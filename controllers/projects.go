package controllers

import (
	"log/slog"
	"net/http"

	"fundraiser/store"
	"fundraiser/utils"
)

type ProjectController struct {
	Store  store.DonationStore
	Logger *slog.Logger
}

func NewProjectController(s store.DonationStore, logger *slog.Logger) *ProjectController {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectController{Store: s, Logger: logger}
}

// ListProjects handles GET /api/projects, newest first.
func (c *ProjectController) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := c.Store.ListProjects(r.Context())
	if err != nil {
		c.Logger.Error("list projects failed", slog.Any("error", err))
		writeKindError(w, err, "Failed to fetch projects")
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Successfully",
		Data:    projects,
	})
}
