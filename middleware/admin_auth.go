package middleware

import (
	"context"
	"net/http"
	"strconv"

	"fundraiser/models"
	"fundraiser/utils"
)

// TokenValidator verifies admin bearer tokens.
type TokenValidator interface {
	ValidateAdminToken(token string) (*utils.AdminClaims, error)
}

// AdminLookup resolves an admin by email.
type AdminLookup interface {
	FindAdminByEmail(ctx context.Context, email string) (*models.Admin, error)
}

// AdminAuthMiddleware verifies that the request is from an authenticated,
// still active admin.
func AdminAuthMiddleware(tokens TokenValidator, admins AdminLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := utils.BearerToken(r)
			if !ok {
				utils.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized: No token provided")
				return
			}

			claims, err := tokens.ValidateAdminToken(tokenString)
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized: Invalid token")
				return
			}

			admin, err := admins.FindAdminByEmail(r.Context(), claims.Email)
			if err != nil || strconv.FormatInt(admin.ID, 10) != claims.Subject {
				utils.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized: Admin not found")
				return
			}
			if !admin.IsActive {
				utils.WriteError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden")
				return
			}

			next.ServeHTTP(w, r.WithContext(utils.WithAdmin(r.Context(), admin.ID, admin.Email)))
		})
	}
}
