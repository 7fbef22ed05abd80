package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/suPer8Hu/testerhub/internal/common"
)

// Recovery turns panics into the standard error envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				jww.ERROR.Printf("[http] panic request_id=%s path=%s err=%v\n%s",
					c.GetString(RequestIDKey), c.Request.URL.Path, r, debug.Stack())
				if c.Writer.Written() {
					c.Abort()
					return
				}
				common.AbortFail(c, http.StatusInternalServerError, 50000, "internal error")
			}
		}()
		c.Next()
	}
}
