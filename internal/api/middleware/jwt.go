package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cvesentinel.io/sentinel/internal/auth"
	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
)

// ErrJWTSigningKeyMissing is returned when no verification key is configured.
var ErrJWTSigningKeyMissing = errors.New("jwt signing key missing")

// JWTClaims are the session claims issued by the auth provider.
// The subject is the user id.
type JWTClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT signing configuration.
type JWTConfig struct {
	SigningKey []byte
	// VerificationKeys are accepted in addition to SigningKey during rotation.
	VerificationKeys [][]byte
	Issuer           string
	ExpiresIn        time.Duration
}

// GenerateToken creates a signed session token for userID.
func GenerateToken(cfg JWTConfig, userID, email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(cfg.ExpiresIn)
	jti, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token id: %w", err)
	}

	claims := JWTClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    cfg.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateToken parses tokenString and checks signature, expiry and issuer.
func (cfg JWTConfig) ValidateToken(_ context.Context, tokenString string) (*JWTClaims, error) {
	keys := make([][]byte, 0, 1+len(cfg.VerificationKeys))
	if len(cfg.SigningKey) > 0 {
		keys = append(keys, cfg.SigningKey)
	}
	keys = append(keys, cfg.VerificationKeys...)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %w", jwt.ErrTokenUnverifiable, ErrJWTSigningKeyMissing)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var lastErr error
	for _, key := range keys {
		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}, opts...)
		if err == nil && token.Valid {
			if claims.Subject == "" {
				return nil, fmt.Errorf("%w: missing subject", jwt.ErrTokenInvalidClaims)
			}
			return claims, nil
		}
		lastErr = err
		// Only a signature mismatch is worth trying the next key.
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	return nil, lastErr
}

// JWTAuth validates Bearer tokens and stores the auth.Caller on the request
// context.
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, apperrors.Unauthorizedf("missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortWithError(c, apperrors.Unauthorizedf("invalid authorization header format"))
			return
		}

		claims, err := cfg.ValidateToken(c.Request.Context(), parts[1])
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			abortWithError(c, apperrors.Unauthorizedf("%s", msg))
			return
		}

		caller := auth.Caller{UserID: claims.Subject, Email: claims.Email}
		c.Request = c.Request.WithContext(auth.WithCaller(c.Request.Context(), caller))
		c.Next()
	}
}

// CallerFrom returns the authenticated caller of c, or the zero Caller.
func CallerFrom(c *gin.Context) auth.Caller {
	caller, _ := auth.CallerFrom(c.Request.Context())
	return caller
}
