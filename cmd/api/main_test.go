package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type stubRevoker struct {
	revoked []string
	err     error
}

func (s *stubRevoker) RevokeRefreshToken(_ context.Context, token string) error {
	if s.err != nil {
		return s.err
	}
	s.revoked = append(s.revoked, token)
	return nil
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	revoker := &stubRevoker{}
	r := gin.New()
	r.POST("/v1/operators/logout", logoutHandler(revoker))

	req := httptest.NewRequest(http.MethodPost, "/v1/operators/logout",
		strings.NewReader(`{"refreshToken":"rt-abc"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if len(revoker.revoked) != 1 || revoker.revoked[0] != "rt-abc" {
		t.Fatalf("revoked = %v, want [rt-abc]", revoker.revoked)
	}
}

func TestLogoutRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	revoker := &stubRevoker{}
	r := gin.New()
	r.POST("/v1/operators/logout", logoutHandler(revoker))

	req := httptest.NewRequest(http.MethodPost, "/v1/operators/logout", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(revoker.revoked) != 0 {
		t.Fatalf("revoked = %v, want none", revoker.revoked)
	}
}

func TestLogoutSurfacesStoreFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	revoker := &stubRevoker{err: errors.New("db down")}
	r := gin.New()
	r.POST("/v1/operators/logout", logoutHandler(revoker))

	req := httptest.NewRequest(http.MethodPost, "/v1/operators/logout",
		strings.NewReader(`{"refreshToken":"rt-abc"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
