package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWT = JWTConfig{
	SigningKey: []byte("test-signing-key-1234567890123456"),
	Issuer:     "cve-sentinel",
	ExpiresIn:  time.Hour,
}

func TestJWTConfigValidateToken_Success(t *testing.T) {
	token, _, err := GenerateToken(testJWT, "u-1", "dana@example.com")
	require.NoError(t, err)

	claims, err := testJWT.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "dana@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)
	require.NotNil(t, claims.NotBefore)
}

func TestJWTConfigValidateToken_RejectsInvalidIssuer(t *testing.T) {
	token, _, err := GenerateToken(testJWT, "u-1", "")
	require.NoError(t, err)

	other := testJWT
	other.Issuer = "other-issuer"
	_, err = other.ValidateToken(context.Background(), token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestJWTConfigValidateToken_SupportsVerificationKeyRotation(t *testing.T) {
	oldKey := []byte("old-key-123456789012345678901234567890")
	newKey := []byte("new-key-123456789012345678901234567890")

	token, _, err := GenerateToken(JWTConfig{SigningKey: oldKey, Issuer: "cve-sentinel", ExpiresIn: time.Hour}, "u-1", "")
	require.NoError(t, err)

	claims, err := JWTConfig{
		SigningKey:       newKey,
		VerificationKeys: [][]byte{oldKey},
		Issuer:           "cve-sentinel",
	}.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
}

func TestJWTConfigValidateToken_RejectsNoneSigningMethod(t *testing.T) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "cve-sentinel",
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = testJWT.ValidateToken(context.Background(), tokenString)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestJWTConfigValidateToken_RejectsExpired(t *testing.T) {
	expired := testJWT
	expired.ExpiresIn = -time.Minute
	token, _, err := GenerateToken(expired, "u-1", "")
	require.NoError(t, err)

	_, err = testJWT.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTConfigValidateToken_RequiresSigningKey(t *testing.T) {
	token, _, err := GenerateToken(testJWT, "u-1", "")
	require.NoError(t, err)

	_, err = JWTConfig{Issuer: "cve-sentinel"}.ValidateToken(context.Background(), token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenUnverifiable)
	assert.ErrorIs(t, err, ErrJWTSigningKeyMissing)
}

func TestJWTAuth_SetsCaller(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandler(), JWTAuth(testJWT))
	router.GET("/me", func(c *gin.Context) {
		caller := CallerFrom(c)
		c.JSON(http.StatusOK, gin.H{"user": caller.UserID, "email": caller.Email})
	})

	token, _, err := GenerateToken(testJWT, "u-1", "dana@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"u-1","email":"dana@example.com"}`, w.Body.String())
}

func TestJWTAuth_Rejects(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandler(), JWTAuth(testJWT))
	router.GET("/me", func(c *gin.Context) {
		t.Fatal("handler must not run")
	})

	for name, header := range map[string]string{
		"missing":   "",
		"malformed": "Token abc",
		"garbage":   "Bearer not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"UNAUTHORIZED"`)
		})
	}
}
