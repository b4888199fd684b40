package relay

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/relay/pkg/logger"
)

// gin.Context 中使用的键
const (
	traceIDKey = "relay.trace_id"
	userIDKey  = "relay.user_id"
	claimsKey  = "relay.claims"
)

// HandlerFunc 路由处理函数，中间件调用 c.Next() 继续链路
type HandlerFunc func(*Context)

// Context 只暴露网关 HTTP 接口用得到的 gin 能力
type Context struct {
	ctx *gin.Context
}

func (c *Context) Request() *http.Request { return c.ctx.Request }
func (c *Context) Writer() gin.ResponseWriter { return c.ctx.Writer }
func (c *Context) Param(key string) string { return c.ctx.Param(key) }
func (c *Context) GetHeader(key string) string { return c.ctx.GetHeader(key) }
func (c *Context) Header(key, value string) { c.ctx.Header(key, value) }
func (c *Context) ClientIP() string { return c.ctx.ClientIP() }
func (c *Context) Set(key string, value any) { c.ctx.Set(key, value) }
func (c *Context) Get(key string) (any, bool) { return c.ctx.Get(key) }
func (c *Context) GetString(key string) string { return c.ctx.GetString(key) }
func (c *Context) JSON(status int, body any) { c.ctx.JSON(status, body) }
func (c *Context) Next() { c.ctx.Next() }
func (c *Context) Abort() { c.ctx.Abort() }
func (c *Context) AbortWithStatus(status int) { c.ctx.AbortWithStatus(status) }

// FullPath 路由模板，如 /api/v1/rooms/:id；未匹配路由时为空
func (c *Context) FullPath() string { return c.ctx.FullPath() }

// SetContextTraceID 由追踪中间件写入，响应体与日志都会带上
func SetContextTraceID(c *Context, traceID string) { c.Set(traceIDKey, traceID) }

// ContextTraceID 未启用追踪时为空
func ContextTraceID(c *Context) string { return c.GetString(traceIDKey) }

// SetContextUserID 令牌校验通过后写入
func SetContextUserID(c *Context, userID string) { c.Set(userIDKey, userID) }

func ContextUserID(c *Context) string { return c.GetString(userIDKey) }

// RequestContext 请求的 context.Context，附带 trace_id 与 user_id 供 logger 的 *Context 方法提取
func (c *Context) RequestContext() context.Context {
	ctx := c.ctx.Request.Context()
	if id := ContextTraceID(c); id != "" {
		ctx = logger.WithTraceID(ctx, id)
	}
	if id := ContextUserID(c); id != "" {
		ctx = logger.WithUserID(ctx, id)
	}
	return ctx
}

// SetRequestContext 替换请求的 context，追踪中间件用它挂上 span
func (c *Context) SetRequestContext(ctx context.Context) {
	c.ctx.Request = c.ctx.Request.WithContext(ctx)
}

// Success 200，data 原样放入响应体
func (c *Context) Success(data any) {
	c.write(http.StatusOK, &Response{Code: http.StatusOK, Data: data, Message: "success"})
}

// Fail HTTP 状态与业务码相同
func (c *Context) Fail(status int, message string) {
	c.write(status, &Response{Code: status, Message: message})
}

// RespondError 按错误码映射状态，未编码的错误统一为 ErrServer 且不回显原始信息
func (c *Context) RespondError(err error) {
	status, resp := errorResponse(err)
	c.write(status, resp)
}

func (c *Context) write(status int, resp *Response) {
	resp.TraceID = ContextTraceID(c)
	c.JSON(status, resp)
}
