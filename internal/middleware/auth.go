package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"legalup_payments/internal/services"
)

// RequireIDToken verifies the Firebase ID token sent as a bearer token.
// With a nil verifier authentication is not configured and requests pass.
func RequireIDToken(verifier services.TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier == nil {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			idToken, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(idToken) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			decodedToken, err := verifier.VerifyIDToken(c.Request().Context(), strings.TrimSpace(idToken))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token").SetInternal(err)
			}

			c.Set("userUID", decodedToken.UID)
			if email, ok := decodedToken.Claims["email"].(string); ok {
				c.Set("userEmail", email)
			}

			return next(c)
		}
	}
}

// RequireSelf only lets an authenticated caller through when the path
// parameter names the caller. Requests without an authenticated uid pass.
func RequireSelf(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid, _ := c.Get("userUID").(string)
			if uid != "" && uid != c.Param(param) {
				return echo.NewHTTPError(http.StatusForbidden, "you can only access your own payments")
			}
			return next(c)
		}
	}
}
