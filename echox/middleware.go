// Package echox adapts the payment middleware to echo handler chains.
package echox

import (
	"net/http"

	"github.com/labstack/echo/v4"

	x402gate "github.com/altairlabs/x402gate"
)

// Middleware returns an echo middleware running the payment state machine.
// The wrapped handler runs only for verified requests.
func Middleware(m *x402gate.Middleware) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var nextErr error
			m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c.SetRequest(r)
				nextErr = next(c)
			})).ServeHTTP(c.Response(), c.Request())
			return nextErr
		}
	}
}
