package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rmoncada/flashsale-backend/pkg/config"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
)

func signAdminToken(t *testing.T, secret, issuer, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":  issuer,
		"sub":  "ops-runbook",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestAdminAuth(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard})
	cfg := config.AdminAuthConfig{JWTSecret: "test-secret", Issuer: "flashsale"}

	var sawSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSubject = AdminSubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	makeRequest := func(cfg config.AdminAuthConfig, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/campaigns/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		AdminAuth(cfg, logg)(next).ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid token passes with subject", func(t *testing.T) {
		sawSubject = ""
		rec := makeRequest(cfg, signAdminToken(t, cfg.JWTSecret, cfg.Issuer, "admin"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if sawSubject != "ops-runbook" {
			t.Fatalf("expected subject in context, got %q", sawSubject)
		}
	})

	t.Run("missing token rejected", func(t *testing.T) {
		if rec := makeRequest(cfg, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 without token, got %d", rec.Code)
		}
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		if rec := makeRequest(cfg, signAdminToken(t, "other-secret", cfg.Issuer, "admin")); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
		}
	})

	t.Run("wrong issuer rejected", func(t *testing.T) {
		if rec := makeRequest(cfg, signAdminToken(t, cfg.JWTSecret, "someone-else", "admin")); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for bad issuer, got %d", rec.Code)
		}
	})

	t.Run("non-admin role rejected", func(t *testing.T) {
		if rec := makeRequest(cfg, signAdminToken(t, cfg.JWTSecret, cfg.Issuer, "viewer")); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for non-admin role, got %d", rec.Code)
		}
	})

	t.Run("unset secret rejects everything", func(t *testing.T) {
		empty := config.AdminAuthConfig{Issuer: "flashsale"}
		if rec := makeRequest(empty, signAdminToken(t, "test-secret", "flashsale", "admin")); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 when secret unset, got %d", rec.Code)
		}
	})
}
