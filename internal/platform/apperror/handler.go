package apperror

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// Resolve maps any error to a status code and a caller-safe message.
func Resolve(err error) (int, string) {
	if appErr, ok := As(err); ok {
		if appErr.Kind == KindPersistence || appErr.Kind == KindInternal {
			msg := appErr.Message
			if appErr.Kind == KindInternal {
				msg = "internal server error"
			}
			return http.StatusInternalServerError, msg
		}
		return appErr.Status(), appErr.Message
	}

	if he, ok := err.(*echo.HTTPError); ok {
		msg := http.StatusText(he.Code)
		if he.Code < http.StatusInternalServerError {
			if s, ok := he.Message.(string); ok {
				msg = s
			} else if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		return he.Code, msg
	}

	return http.StatusInternalServerError, "internal server error"
}

// HTTPErrorHandler renders errors as {"error": "..."} and logs server-side
// failures with their cause.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, msg := Resolve(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", status).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, ErrorBody{Error: msg})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}
