package middleware

import (
	"github.com/jaevor/go-nanoid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestID tags every request with a short nanoid, reusing an incoming
// X-Request-Id when present
func RequestID() (echo.MiddlewareFunc, error) {
	idGenerator, err := nanoid.Standard(15)
	if err != nil {
		return nil, err
	}
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: idGenerator,
	}), nil
}
