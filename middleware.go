package relay

import (
	"runtime/debug"
	"syscall"

	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

// Recovery 引擎内置，handler panic 时返回 ErrServer；
// 客户端已断开时只记一条 warn，不再写响应
func Recovery(log logger.Logger) HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			r := c.Request()
			if clientGone(rec) {
				log.WarnContext(c.RequestContext(), "client disconnected mid-response",
					zap.Any("error", rec), zap.String("path", r.URL.Path))
				c.Abort()
				return
			}
			log.ErrorContext(c.RequestContext(), "panic recovered",
				zap.Any("error", rec),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.ByteString("stack", debug.Stack()),
			)
			c.RespondError(errors.ErrServer)
			c.Abort()
		}()
		c.Next()
	}
}

func clientGone(rec any) bool {
	err, ok := rec.(error)
	return ok && (errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET))
}
