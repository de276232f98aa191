package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// FunctionCORSHeaders are the request headers browser clients send to the
// function-style endpoints.
var FunctionCORSHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

// FunctionCORS allows any origin on every response, including errors, and
// answers OPTIONS preflights with an empty 200.
func FunctionCORS() echo.MiddlewareFunc {
	allowHeaders := strings.Join(FunctionCORSHeaders, ", ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusOK)
			}
			return next(c)
		}
	}
}
