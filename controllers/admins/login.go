package admins

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fundraiser/middleware"
	"fundraiser/models"
	"fundraiser/store"
	"fundraiser/utils"
)

// AdminFinder resolves admins by email.
type AdminFinder interface {
	FindAdminByEmail(ctx context.Context, email string) (*models.Admin, error)
}

// TokenGenerator issues admin bearer tokens.
type TokenGenerator interface {
	GenerateAdminToken(id int64, email string) (string, time.Time, error)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=191"`
	Password string `json:"password" validate:"required,max=128"`
}

type AuthController struct {
	Admins  AdminFinder
	Tokens  TokenGenerator
	Lockout *middleware.LoginLockout
	Logger  *slog.Logger
}

func NewAuthController(admins AdminFinder, tokens TokenGenerator, lockout *middleware.LoginLockout, logger *slog.Logger) *AuthController {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthController{Admins: admins, Tokens: tokens, Lockout: lockout, Logger: logger}
}

// Login handles POST /api/admin/login.
func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := middleware.ValidateJSON(w, r, &req); err != nil {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	ctx := r.Context()

	if c.Lockout != nil {
		if locked, wait := c.Lockout.Locked(ctx, email); locked {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			utils.WriteError(w, http.StatusTooManyRequests, "LOCKED", "Too many failed attempts, try again later")
			return
		}
	}

	admin, err := c.Admins.FindAdminByEmail(ctx, email)
	if err != nil && !store.IsNotFound(err) {
		c.Logger.Error("admin lookup failed", slog.Any("error", err))
		utils.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Database error")
		return
	}
	if err != nil || !admin.ValidatePassword(req.Password) {
		if c.Lockout != nil {
			c.Lockout.Fail(ctx, email)
		}
		utils.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password")
		return
	}
	if !admin.IsActive {
		utils.WriteError(w, http.StatusForbidden, "FORBIDDEN", "Account disabled")
		return
	}
	if c.Lockout != nil {
		c.Lockout.Reset(ctx, email)
	}

	token, expires, err := c.Tokens.GenerateAdminToken(admin.ID, admin.Email)
	if err != nil {
		c.Logger.Error("token generation failed", slog.Any("error", err))
		utils.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create token")
		return
	}

	c.Logger.Info("admin login", slog.Int64("admin_id", admin.ID))
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Login successful",
		Data: map[string]interface{}{
			"token":      token,
			"expires_at": expires.UTC().Format(time.RFC3339),
			"admin":      admin,
		},
	})
}
