package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func contextWithToken(t *testing.T, tokenStr, secret string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	assert.NoError(t, err)
	c.Set("user", token)
	return c
}

func TestGenerateToken_CarriesRole(t *testing.T) {
	secret := "test-secret"
	tokenStr, expiresAt, err := GenerateToken("alex", RoleAdmin, secret, time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, tokenStr)
	assert.True(t, expiresAt.After(time.Now()))

	c := contextWithToken(t, tokenStr, secret)

	username, err := UsernameFromContext(c)
	assert.NoError(t, err)
	assert.Equal(t, "alex", username)

	role, err := RoleFromContext(c)
	assert.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestGenerateToken_DefaultsToAgentRole(t *testing.T) {
	secret := "test-secret"
	tokenStr, _, err := GenerateToken("sam", "", secret, time.Hour)
	assert.NoError(t, err)

	c := contextWithToken(t, tokenStr, secret)
	role, err := RoleFromContext(c)
	assert.NoError(t, err)
	assert.Equal(t, RoleAgent, role)
}

func TestGenerateToken_Validation(t *testing.T) {
	_, _, err := GenerateToken("", RoleAgent, "secret", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken("alex", RoleAgent, "", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken("alex", RoleAgent, "secret", 0)
	assert.Error(t, err)
}

func TestRequireAdmin(t *testing.T) {
	secret := "test-secret"

	adminToken, _, err := GenerateToken("alex", RoleAdmin, secret, time.Hour)
	assert.NoError(t, err)
	assert.NoError(t, RequireAdmin(contextWithToken(t, adminToken, secret)))

	agentToken, _, err := GenerateToken("sam", RoleAgent, secret, time.Hour)
	assert.NoError(t, err)
	err = RequireAdmin(contextWithToken(t, agentToken, secret))
	assert.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}

func TestRequireAdmin_MissingToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequireAdmin(c)
	assert.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2!")
	assert.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter2!"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("not-a-hash", "hunter2!"))
}
