package gateway

import "github.com/gin-gonic/gin"

// Context keys set on the gin context for the request logger.
const (
	ContextRouteKey   = "gateway.route"
	ContextStageKey   = "gateway.stage"
	ContextSubjectKey = "gateway.subject"
)

// Handle adapts the dispatcher to gin. It is installed as the NoRoute
// handler so every path outside the gateway's own endpoints is proxied.
func (d *Dispatcher) Handle(c *gin.Context) {
	out := d.Dispatch(c.Writer, c.Request, c.ClientIP())
	// Commit the status even for an empty body. Otherwise gin's NoRoute
	// path appends its own 404 page to a relayed empty 404.
	c.Writer.WriteHeaderNow()

	c.Set(ContextRouteKey, out.RouteName())
	c.Set(ContextStageKey, out.Stage.String())
	if out.Identity != nil {
		c.Set(ContextSubjectKey, out.Identity.Subject)
	}
	if out.Err != nil {
		_ = c.Error(out.Err)
	}
	c.Abort()
}
