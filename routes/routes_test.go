package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fundraiser/apperr"
	"fundraiser/config"
	"fundraiser/logging"
	"fundraiser/mpesa"
	"fundraiser/payments"
	"fundraiser/store"
	"fundraiser/utils"
)

type noInitiator struct{}

func (noInitiator) Validate(phone string, amount int64) error { return nil }

func (noInitiator) Initiate(ctx context.Context, phone string, amount int64, projectRef string) (*mpesa.InitiationResult, error) {
	return nil, apperr.New(apperr.KindInitiation, "disabled")
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "routes.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Config{
		Env: "development",
		HTTP: config.HTTPConfig{
			RateLimit:         100,
			RateWindow:        time.Minute,
			CallbackRateLimit: 100,
		},
		Mpesa: config.MpesaConfig{CallbackPath: "/api/mpesa/callback"},
	}
	log := logging.Discard()
	return InitRouter(ctx, Deps{
		Config:     cfg,
		Store:      s,
		Initiator:  noInitiator{},
		Reconciler: payments.NewReconciler(s, nil, nil, log),
		Tokens:     utils.NewTokenIssuer("secret", "fundraiser", "fundraiser-admin", time.Hour),
		Logger:     log,
	})
}

func TestRoutes(t *testing.T) {
	h := newRouter(t)

	cases := []struct {
		method, path, body string
		want               int
	}{
		{"GET", "/health", "", http.StatusOK},
		{"GET", "/api/projects", "", http.StatusOK},
		{"GET", "/api/payments/none/status", "", http.StatusNotFound},
		{"POST", "/api/mpesa/callback", `{}`, http.StatusOK},
		{"GET", "/api/admin/donations", "", http.StatusUnauthorized},
		{"GET", "/api/admin/donations/x", "", http.StatusUnauthorized},
		{"POST", "/api/admin/login", `{"email":"a@example.org","password":"x"}`, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d: %s", tc.method, tc.path, tc.want, rr.Code, rr.Body.String())
		}
	}
}

func TestCallbackRoute(t *testing.T) {
	cases := map[string]string{
		"":                     "/mpesa/callback",
		"/api/mpesa/callback":  "/mpesa/callback",
		"api/hooks/mpesa":      "/hooks/mpesa",
		"/hooks/mpesa":         "/hooks/mpesa",
		"/apis/mpesa/callback": "/apis/mpesa/callback",
	}
	for in, want := range cases {
		if got := callbackRoute(in); got != want {
			t.Fatalf("callbackRoute(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPreflight(t *testing.T) {
	h := newRouter(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/donations", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := preflight("http://localhost:3000")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("allowed origin: expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allowed origin: unexpected Access-Control-Allow-Origin %q", got)
	}

	rr = preflight("https://evil.example")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin: expected no Access-Control-Allow-Origin, got %q", got)
	}
}
