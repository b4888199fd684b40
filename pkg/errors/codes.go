package errors

/*
	内置错误码
	1xxx 通用错误，2xxx 网关错误
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, "服务器异常", 500)
	// ErrBadRequest 客户端请求错误
	ErrBadRequest = New(1001, "请求异常", 400)
	// ErrUnauthorized 未授权
	ErrUnauthorized = New(1002, "授权异常", 401)
	// ErrForbidden 禁止访问
	ErrForbidden = New(1003, "禁止访问", 403)
	// ErrNotFound 资源不存在
	ErrNotFound = New(1004, "资源不存在", 404)
)

var (
	// ErrAuthentication 缺失、非法或过期的令牌
	ErrAuthentication = New(2001, "Authentication required", 401)
	// ErrValidation 负载校验失败
	ErrValidation = New(2002, "Invalid payload", 400)
	// ErrRateLimited 超出限流
	ErrRateLimited = New(2003, "Rate limit exceeded", 429)
	// ErrAccessDenied 房间访问被拒绝
	ErrAccessDenied = New(2004, "Access denied", 403)
	// ErrRoomFull 房间已满
	ErrRoomFull = New(2005, "Room is full", 409)
	// ErrStoreUnavailable 共享存储不可用
	ErrStoreUnavailable = New(2006, "Store unavailable", 503)
	// ErrHandler 业务处理器异常
	ErrHandler = New(2007, "Internal error", 500)
	// ErrNoSuchEvent 未注册的事件
	ErrNoSuchEvent = New(2008, "Unknown event", 404)
	// ErrOriginDenied Origin 不在白名单
	ErrOriginDenied = New(2009, "Invalid origin", 403)
	// ErrOverloaded 连接数已满
	ErrOverloaded = New(2010, "Server at capacity", 503)
)
