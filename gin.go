package ddotel

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// OperationGin is the span name of requests traced by Middleware.Gin.
const OperationGin = "gin.request"

// Gin returns the middleware as a gin handler.
//
// gin matches routes before running middleware, so the route comes from
// c.FullPath(). The last error attached with c.Error marks the request as
// failed, as does a client that went away before the handler returned.
// Errors and panics are left for later handlers to deal with.
//
//	router := gin.New()
//	router.Use(ddotel.NewMiddleware(ddotel.WithOperationName(ddotel.OperationGin)).Gin())
func (m *Middleware) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, span := m.start(c.Request, c.FullPath())
		c.Request = req

		defer func() {
			p := recover()

			var outcome error
			switch {
			case p != nil:
				outcome = &PanicError{Value: p}
			case len(c.Errors) > 0:
				outcome = c.Errors.Last().Err
			case c.Request.Context().Err() != nil:
				outcome = fmt.Errorf("request aborted: %w", c.Request.Context().Err())
			}

			span.Finish(c.Writer.Status(), outcome)

			if p != nil {
				panic(p)
			}
		}()

		c.Next()
	}
}
