package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/klarnow/tracker/common/errors"
	"github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/pkg/httputil"
)

// TokenClaims represents the JWT claims structure
type TokenClaims struct {
	jwt.RegisteredClaims
	UserID    uuid.UUID   `json:"uid"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	TokenType string      `json:"type"` // always "access"
}

// AuthConfig holds configuration for the auth middleware
type AuthConfig struct {
	JWTSecret   string
	SkipPaths   []string
	PublicPaths []string // Paths that allow optional auth
	// QueryTokenSuffixes lists path suffixes that may carry the token in
	// ?access_token= instead of the header (browser EventSource)
	QueryTokenSuffixes []string
}

// Auth creates a JWT authentication middleware
func Auth(config AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()

		// Check if path should be skipped
		for _, skipPath := range config.SkipPaths {
			if strings.HasPrefix(path, skipPath) {
				return c.Next()
			}
		}

		// Check if path allows optional auth
		isPublic := false
		for _, publicPath := range config.PublicPaths {
			if strings.HasPrefix(path, publicPath) {
				isPublic = true
				break
			}
		}

		// Get token from Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			for _, suffix := range config.QueryTokenSuffixes {
				if token := c.Query("access_token"); token != "" && strings.HasSuffix(path, suffix) {
					authHeader = "Bearer " + token
					break
				}
			}
		}
		if authHeader == "" {
			if isPublic {
				return c.Next()
			}
			return httputil.Unauthorized(c, "missing authorization header")
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return httputil.Unauthorized(c, "invalid authorization header format")
		}

		tokenString := parts[1]

		// Parse and validate token
		claims, err := validateToken(tokenString, config.JWTSecret)
		if err != nil {
			if isPublic {
				return c.Next()
			}
			return httputil.Error(c, err)
		}

		// Verify it's an access token
		if claims.TokenType != "access" {
			return httputil.Unauthorized(c, "invalid token type")
		}

		// Store user info in context
		c.Locals("userID", claims.UserID)
		c.Locals("email", claims.Email)
		c.Locals("role", claims.Role)
		c.Locals("claims", claims)

		return c.Next()
	}
}

// validateToken parses and validates a JWT token
func validateToken(tokenString, secret string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.ErrInvalidToken
		}
		return []byte(secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.ErrTokenExpired
		}
		return nil, errors.ErrInvalidToken
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, errors.ErrInvalidToken
	}

	return claims, nil
}

// GenerateAccessToken generates a new access token
func GenerateAccessToken(userID uuid.UUID, email string, role models.Role, secret string, expiry time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(expiry)

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "klarnow",
			Subject:   userID.String(),
		},
		UserID:    userID,
		Email:     email,
		Role:      role,
		TokenType: "access",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// GetUserID extracts the user ID from the Fiber context
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.ErrUnauthorized
	}
	return userID, nil
}

// GetEmail extracts the email from the Fiber context
func GetEmail(c *fiber.Ctx) string {
	email, _ := c.Locals("email").(string)
	return email
}

// GetRole extracts the caller's role from the Fiber context
func GetRole(c *fiber.Ctx) models.Role {
	role, _ := c.Locals("role").(models.Role)
	return role
}

// IsAdmin reports whether the caller holds the admin role
func IsAdmin(c *fiber.Ctx) bool {
	return GetRole(c) == models.RoleAdmin
}

// RequireAdmin rejects callers without the admin role. Mount it after Auth.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := GetUserID(c); err != nil {
			return httputil.Unauthorized(c, "")
		}
		if !IsAdmin(c) {
			return httputil.Error(c, errors.ErrAdminRequired)
		}
		return c.Next()
	}
}

// GetClaims extracts the full claims from the Fiber context
func GetClaims(c *fiber.Ctx) *TokenClaims {
	claims, _ := c.Locals("claims").(*TokenClaims)
	return claims
}

// RequireUser is a helper that returns 401 if user is not authenticated
func RequireUser(c *fiber.Ctx) (uuid.UUID, error) {
	userID, err := GetUserID(c)
	if err != nil {
		return uuid.Nil, err
	}
	if userID == uuid.Nil {
		return uuid.Nil, errors.ErrUnauthorized
	}
	return userID, nil
}
