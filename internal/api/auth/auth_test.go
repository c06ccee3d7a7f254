package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(nil, "test-secret", time.Hour, logger)
}

func TestIssueToken(t *testing.T) {
	h := newTestHandler(t)

	signed, err := h.issueToken(42, "admin")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	claims := &customClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(tk *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != "42" {
		t.Errorf("expected subject 42, got %s", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Errorf("expected role admin, got %s", claims.Role)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > time.Hour {
		t.Error("expiry should respect the configured ttl")
	}
}

func TestIssueToken_RejectedWithWrongSecret(t *testing.T) {
	h := newTestHandler(t)

	signed, err := h.issueToken(1, "user")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	_, err = jwt.ParseWithClaims(signed, &customClaims{}, func(tk *jwt.Token) (interface{}, error) {
		return []byte("other-secret"), nil
	})
	if err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestRegister_InvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(t)

	// 参数校验失败在进数据库之前就拦下
	cases := []string{
		`not json`,
		`{"username":"ab","password":"secret123"}`,
		`{"username":"alice","password":"short"}`,
		`{"password":"secret123"}`,
	}
	for _, body := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")

		h.Register(c)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestLogin_InvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(t)

	for _, body := range []string{`not json`, `{"username":"alice"}`, `{"password":"secret123"}`} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")

		h.Login(c)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}
