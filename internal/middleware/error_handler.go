package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the JSON body of every error answer
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CustomErrorHandler renders errors that reach Echo as {error, details}
func CustomErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := ErrorResponse{Error: "Internal Server Error"}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		body.Error = http.StatusText(code)
		switch msg := he.Message.(type) {
		case string:
			body.Details = msg
		case error:
			body.Details = msg.Error()
		case nil:
		default:
			body.Details = fmt.Sprint(msg)
		}
		if he.Internal != nil {
			c.Logger().Error(he.Internal)
		}
	} else {
		body.Details = err.Error()
	}

	if code >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(code)
	} else {
		writeErr = c.JSON(code, body)
	}
	if writeErr != nil {
		c.Logger().Error(fmt.Errorf("failed to write error response: %w", writeErr))
	}
}
