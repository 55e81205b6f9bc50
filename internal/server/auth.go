package server

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Role defines the access level of a caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleReadOnly Role = "readonly"
)

var roleLevel = map[Role]int{
	RoleReadOnly: 1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// Auth modes.
const (
	AuthAPIKey = "api-key"
	AuthJWT    = "jwt"
	AuthNone   = "none"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // api-key | jwt | none
	APIKey    string
	JWTSecret string
	// JWTIssuer, when set, must match the token's iss claim.
	JWTIssuer string
}

// Claims are the JWT claims accepted by the API.
type Claims struct {
	Role Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header according to cfg.Mode.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	logger = logger.With().Str("component", "auth").Logger()
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.JWTIssuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(c *fiber.Ctx) error {
		if cfg.Mode == AuthNone {
			c.Locals("role", RoleAdmin)
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case AuthJWT:
			claims := &Claims{}
			_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil {
				logger.Warn().Err(err).Str("path", c.Path()).Msg("unauthorized request: invalid token")
				detail := "Invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					detail = "Token has expired"
				}
				return problemResponse(c, fiber.StatusUnauthorized, "invalid_token", "Unauthorized", detail)
			}
			role := claims.Role
			if _, ok := roleLevel[role]; !ok {
				role = RoleReadOnly
			}
			c.Locals("role", role)
			c.Locals("subject", claims.Subject)
			return c.Next()

		default:
			if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
				c.Locals("role", RoleAdmin)
				return c.Next()
			}
			logger.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized",
				"Invalid API key")
		}
	}
}

// requireRole returns a middleware that enforces a minimum role level.
func requireRole(minRole Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(Role)
		if roleLevel[role] < roleLevel[minRole] {
			return problemResponse(c, fiber.StatusForbidden,
				"insufficient_role", "Forbidden",
				"Insufficient permissions for this operation")
		}
		return c.Next()
	}
}
