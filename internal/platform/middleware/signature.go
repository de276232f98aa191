package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/careline/portal/internal/platform/auth"
	"github.com/careline/portal/internal/platform/webhook"
)

const maxSignedBody = 1 << 20

// SignedWebhook authenticates callbacks from the SMS integration. A request
// carrying a valid HMAC over its timestamp header and body runs as the
// service role. Unsigned requests go through fallback. A bad signature, or a
// missing or stale timestamp, is rejected so captured requests cannot be
// replayed. An empty secret disables signature checks.
func SignedWebhook(secret string, fallback echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withFallback := fallback(next)
		return func(c echo.Context) error {
			sig := c.Request().Header.Get(webhook.SignatureHeader)
			if secret == "" || sig == "" {
				return withFallback(c)
			}

			body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSignedBody))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))

			ts := c.Request().Header.Get(webhook.TimestampHeader)
			switch err := webhook.VerifyTimestamped(ts, body, secret, sig, time.Now()); {
			case errors.Is(err, webhook.ErrMissingTimestamp), errors.Is(err, webhook.ErrStaleTimestamp):
				return echo.NewHTTPError(http.StatusUnauthorized, "stale or missing timestamp")
			case err != nil:
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
			}
			ctx := auth.WithIdentity(c.Request().Context(), auth.RoleService, "", []string{auth.RoleService})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
