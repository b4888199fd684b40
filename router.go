package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/relay/pkg/errors"
)

// RouterGroup 挂载网关接口的路由组
type RouterGroup struct {
	group *gin.RouterGroup
}

func toGin(fn HandlerFunc) gin.HandlerFunc {
	if fn == nil {
		panic("relay: nil handler")
	}
	return func(c *gin.Context) { fn(&Context{ctx: c}) }
}

func toGinChain(handlers ...HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, toGin(h))
	}
	return out
}

// endpoint 路由级中间件先于 handler 执行
func endpoint(handler HandlerFunc, middlewares []HandlerFunc) []gin.HandlerFunc {
	return append(toGinChain(middlewares...), toGin(handler))
}

func (rg *RouterGroup) Group(path string, middlewares ...HandlerFunc) *RouterGroup {
	return &RouterGroup{group: rg.group.Group(path, toGinChain(middlewares...)...)}
}

func (rg *RouterGroup) Use(middlewares ...HandlerFunc) {
	rg.group.Use(toGinChain(middlewares...)...)
}

func (rg *RouterGroup) GET(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.GET(path, endpoint(handler, middlewares)...)
}

func (rg *RouterGroup) POST(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.POST(path, endpoint(handler, middlewares)...)
}

func (rg *RouterGroup) DELETE(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.DELETE(path, endpoint(handler, middlewares)...)
}

// Mount 挂载标准库 handler，WebSocket 升级与 /metrics 走这里，绕过统一响应体
func (rg *RouterGroup) Mount(method, path string, h http.Handler) {
	rg.group.Handle(method, path, gin.WrapH(h))
}

// RouteRegister 即 GET、POST 等方法值
type RouteRegister func(path string, handler HandlerFunc, middlewares ...HandlerFunc)

// Handle 绑定 Req，调用 handler，并把结果或错误写成统一响应体
func Handle[Req any, Resp any](register RouteRegister, path string, handler func(*Context, *Req) (*Resp, error), middlewares ...HandlerFunc) {
	register(path, func(c *Context) {
		var req Req
		if err := bind(c, &req); err != nil {
			c.RespondError(err)
			return
		}
		respond(c, func() (*Resp, error) { return handler(c, &req) })
	}, middlewares...)
}

// HandleOnly 用于没有请求体的接口
func HandleOnly[Resp any](register RouteRegister, path string, handler func(*Context) (*Resp, error), middlewares ...HandlerFunc) {
	register(path, func(c *Context) {
		respond(c, func() (*Resp, error) { return handler(c) })
	}, middlewares...)
}

func respond[Resp any](c *Context, call func() (*Resp, error)) {
	resp, err := call()
	if err != nil {
		c.RespondError(err)
		return
	}
	c.Success(resp)
}

// bind GET/DELETE 取查询参数，其余方法取请求体，空请求体跳过；
// 最后补充路径参数，路由没有路径参数时忽略其错误
func bind(c *Context, obj any) error {
	g := c.ctx
	var err error
	switch g.Request.Method {
	case http.MethodGet, http.MethodDelete:
		err = g.ShouldBindQuery(obj)
	default:
		if g.Request.ContentLength != 0 {
			err = g.ShouldBind(obj)
		}
	}
	if err != nil {
		return errors.ErrBadRequest.WithError(err)
	}
	_ = g.ShouldBindUri(obj)
	return nil
}
