// Package ginx adapts the payment middleware to gin handler chains.
package ginx

import (
	"net/http"

	"github.com/gin-gonic/gin"

	x402gate "github.com/altairlabs/x402gate"
)

// Middleware returns a gin middleware running the payment state machine. The
// rest of the chain runs only for verified requests; challenges and
// rejections abort it.
func Middleware(m *x402gate.Middleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		forwarded := false
		m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			forwarded = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)

		if !forwarded {
			c.Abort()
		}
	}
}
