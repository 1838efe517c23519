package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvesentinel.io/sentinel/internal/auth"
)

type staticAdmins map[string]*auth.AdminRecord

func (s staticAdmins) AdminByUserID(_ context.Context, userID string) (*auth.AdminRecord, error) {
	if rec, ok := s[userID]; ok {
		return rec, nil
	}
	return nil, auth.ErrNoAdminRecord
}

func TestRequireAdmin(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	guard := auth.NewGuard(staticAdmins{
		"ops":     {UserID: "ops", Role: auth.RoleAdmin, IsActive: true, Permissions: []auth.Permission{auth.PermSystemAlerts}},
		"expired": {UserID: "expired", Role: auth.RoleAdmin, IsActive: true, Permissions: []auth.Permission{auth.PermSystemAlerts}, ExpiresAt: &past},
	}, func() time.Time { return now })

	router := gin.New()
	router.Use(ErrorHandler(), JWTAuth(testJWT))
	router.POST("/admin", RequireAdmin(guard, auth.PermSystemAlerts), func(c *gin.Context) {
		id, ok := AdminFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"admin": id.UserID})
	})

	call := func(userID string) *httptest.ResponseRecorder {
		token, _, err := GenerateToken(testJWT, userID, "")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, call("ops").Code)
	assert.Equal(t, http.StatusForbidden, call("expired").Code)
	assert.Equal(t, http.StatusForbidden, call("stranger").Code)
}
