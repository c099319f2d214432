package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const (
	corsMethods = "GET,POST,PUT,PATCH,OPTIONS"
	corsHeaders = "Origin,Content-Type,Accept,Authorization,X-Request-ID,Last-Event-ID"
	corsExpose  = "Content-Length,Content-Type,X-Request-ID"
)

// DevelopmentOrigins are the local front-end dev servers
const DevelopmentOrigins = "http://localhost:3000,http://localhost:5173,http://127.0.0.1:3000"

// CORS returns the CORS middleware for the environment. Development allows
// the local front-end dev servers and disables preflight caching.
func CORS(development bool, allowedOrigins string) fiber.Handler {
	cfg := cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     corsMethods,
		AllowHeaders:     corsHeaders,
		AllowCredentials: true,
		ExposeHeaders:    corsExpose,
		MaxAge:           86400, // 24 hours
	}
	if development {
		cfg.AllowOrigins = DevelopmentOrigins
		cfg.MaxAge = 0
	}
	// Credentials cannot be combined with a wildcard origin
	if cfg.AllowOrigins == "" || cfg.AllowOrigins == "*" {
		cfg.AllowOrigins = "*"
		cfg.AllowCredentials = false
	}
	return cors.New(cfg)
}
