package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	UserPhoneKey contextKey = "user_phone"
)

const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RolePatient = "patient"
	// RoleService marks calls made with the service role key or a
	// service_role JWT.
	RoleService = "service_role"
)

// Claims is the subset of a Supabase-style access token the portal reads.
type Claims struct {
	jwt.RegisteredClaims
	Role         string         `json:"role"`
	Phone        string         `json:"phone,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// RoleLookup resolves application roles (user_roles) for an identity.
type RoleLookup interface {
	RolesForUser(ctx context.Context, userID string) ([]string, error)
}

type JWTConfig struct {
	// SigningKey is the project JWT secret (HS256).
	SigningKey []byte
	Audience   string
	Roles      RoleLookup
	Logger     zerolog.Logger
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(tokenStr string, cfg JWTConfig) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, err
	}
	return claims, nil
}

// rolesFromClaims collects roles carried in the token itself.
func rolesFromClaims(claims *Claims) []string {
	var roles []string
	if claims.Role == RoleService {
		roles = append(roles, RoleService)
	}
	switch v := claims.AppMetadata["roles"].(type) {
	case []any:
		for _, r := range v {
			if s, ok := r.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
	}
	if s, ok := claims.AppMetadata["role"].(string); ok && s != "" {
		roles = append(roles, s)
	}
	return roles
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}

			claims, err := ParseToken(tokenStr, cfg)
			if err != nil || claims == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			roles := rolesFromClaims(claims)
			if cfg.Roles != nil && claims.Subject != "" {
				stored, err := cfg.Roles.RolesForUser(ctx, claims.Subject)
				if err != nil {
					cfg.Logger.Error().Err(err).Str("user_id", claims.Subject).Msg("failed to load user roles")
					return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user roles")
				}
				roles = mergeRoles(roles, stored)
			}

			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, claims.Subject, claims.Phone, roles)))
			return next(c)
		}
	}
}

// ServiceKeyOrJWT accepts either the service role key (as a bearer token or
// apikey header) or a valid user JWT.
func ServiceKeyOrJWT(serviceKey string, cfg JWTConfig) echo.MiddlewareFunc {
	jwtMW := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withJWT := jwtMW(next)
		return func(c echo.Context) error {
			if IsServiceKey(c, serviceKey) {
				ctx := WithIdentity(c.Request().Context(), RoleService, "", []string{RoleService})
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			}
			return withJWT(c)
		}
	}
}

// IsServiceKey reports whether the request presents the service role key.
func IsServiceKey(c echo.Context, serviceKey string) bool {
	if serviceKey == "" {
		return false
	}
	candidates := []string{c.Request().Header.Get("apikey")}
	if tok, err := bearerToken(c); err == nil {
		candidates = append(candidates, tok)
	}
	for _, cand := range candidates {
		if cand != "" && subtle.ConstantTimeCompare([]byte(cand), []byte(serviceKey)) == 1 {
			return true
		}
	}
	return false
}

// DevAuthMiddleware lets unauthenticated requests through as a staff admin
// in development. Requests that carry a token are still verified.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	jwtMW := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withJWT := jwtMW(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				return withJWT(c)
			}
			ctx := WithIdentity(c.Request().Context(), "dev-user", "", []string{RoleStaff, RoleAdmin})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func WithIdentity(ctx context.Context, userID, phone string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserPhoneKey, phone)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	return ctx
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func PhoneFromContext(ctx context.Context) string {
	phone, _ := ctx.Value(UserPhoneKey).(string)
	return phone
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func mergeRoles(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, r := range append(append([]string{}, a...), b...) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
