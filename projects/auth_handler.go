package projects

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	commonModels "github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/pkg/config"
	"github.com/klarnow/tracker/pkg/httputil"
	"github.com/klarnow/tracker/pkg/middleware"
)

// AuthHandler issues development tokens
type AuthHandler struct {
	config *config.Config
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{config: cfg}
}

// DevLoginRequest represents a dev login request
type DevLoginRequest struct {
	Email string `json:"email"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	UserID      uuid.UUID         `json:"user_id"`
	Email       string            `json:"email"`
	Role        commonModels.Role `json:"role"`
	AccessToken string            `json:"access_token"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// DevUserID derives a stable user id from an e-mail address
func DevUserID(email string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("dev-user:"+email))
}

// DevLogin handles passwordless login (development only)
func (h *AuthHandler) DevLogin(c *fiber.Ctx) error {
	var req DevLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.BadRequest(c, "invalid request body")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return httputil.ValidationError(c, "validation failed", map[string]string{
			"email": "must be an e-mail address",
		})
	}

	role := commonModels.RoleClient
	if h.config.Auth.IsAdminEmail(email) {
		role = commonModels.RoleAdmin
	}

	userID := DevUserID(email)
	accessToken, expiresAt, err := middleware.GenerateAccessToken(
		userID, email, role, h.config.Auth.JWTSecret, h.config.Auth.JWTExpiry(),
	)
	if err != nil {
		return httputil.InternalError(c, "failed to generate access token")
	}

	log.Info().Str("user_id", userID.String()).Str("role", string(role)).Msg("dev login")
	return httputil.Success(c, AuthResponse{
		UserID:      userID,
		Email:       email,
		Role:        role,
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
	})
}
