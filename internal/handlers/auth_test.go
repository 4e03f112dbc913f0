package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/replygate/replygate/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loginHandler(t *testing.T) *AuthHandler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	admin := config.AdminConfig{Username: "admin", PasswordHash: string(hash)}
	return NewAuthHandler(testLogger(), admin, "jwt-secret", time.Hour)
}

func postLogin(h *AuthHandler, body string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, h.Login(e.NewContext(req, rec))
}

func TestLoginIssuesToken(t *testing.T) {
	t.Parallel()

	h := loginHandler(t)
	rec, err := postLogin(h, `{"username": "admin", "password": "s3cret"}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	t.Parallel()

	h := loginHandler(t)
	_, err := postLogin(h, `{"username": "admin", "password": "guess"}`)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	t.Parallel()

	h := loginHandler(t)
	_, err := postLogin(h, `{"username": "root", "password": "s3cret"}`)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}
