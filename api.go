package relay

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/auth"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/store"
	"github.com/tokmz/relay/pkg/validator"
	"github.com/tokmz/relay/pkg/ws"
)

// API 网关的 HTTP 接口
type API struct {
	Gateway   *ws.Gateway
	Store     store.Store
	Tokens    *auth.Manager
	Metrics   http.Handler         // 为空时不暴露 /metrics
	Validator *validator.Validator // 为空时使用默认规则
	Logger    logger.Logger
}

// TokenResp 签发的令牌
type TokenResp struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // 秒
}

// RefreshReq 刷新令牌请求
type RefreshReq struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token" binding:"required"`
}

// RevokeResp 吊销结果
type RevokeResp struct {
	Revoked bool `json:"revoked"`
}

// RoomResp 房间概况
type RoomResp struct {
	RoomID       string `json:"room_id"`
	Size         int64  `json:"size"`
	LocalMembers int    `json:"local_members"`
}

// Register 注册路由：/ws、/healthz、/metrics 以及 /api/v1
func (a *API) Register(rg *RouterGroup) {
	if a.Validator == nil {
		a.Validator = validator.New(validator.DefaultRules())
	}
	if a.Logger == nil {
		a.Logger = logger.Nop()
	}

	rg.Mount(http.MethodGet, "/ws", a.Gateway)
	rg.GET("/healthz", a.health)
	if a.Metrics != nil {
		rg.Mount(http.MethodGet, "/metrics", a.Metrics)
	}

	v1 := rg.Group("/api/v1")
	tokens := v1.Group("/tokens")
	HandleOnly[TokenResp](tokens.POST, "/websocket", a.websocketToken, a.Bearer(auth.KindAccess))
	Handle[RefreshReq, TokenResp](tokens.POST, "/refresh", a.refresh)
	HandleOnly[RevokeResp](tokens.POST, "/revoke", a.revoke, a.Bearer(auth.KindAccess))

	HandleOnly[RoomResp](v1.GET, "/rooms/:id", a.room, a.Bearer(auth.KindAccess))
}

// Bearer 校验 Authorization 头中的令牌，通过后写入用户与声明
func (a *API) Bearer(kind auth.Kind) HandlerFunc {
	return func(c *Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.RespondError(auth.ErrMissingToken)
			c.Abort()
			return
		}
		claims, err := a.Tokens.Verify(c.RequestContext(), token, kind)
		if err != nil {
			c.RespondError(err)
			c.Abort()
			return
		}
		SetContextUserID(c, claims.UserID)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerToken(h string) string {
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func claimsOf(c *Context) *auth.Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.Claims)
	return claims
}

// health 存储可用时返回 200
func (a *API) health(c *Context) {
	if err := a.Store.Ping(c.RequestContext()); err != nil {
		a.Logger.WarnContext(c.RequestContext(), "health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// websocketToken 用访问令牌换取短期 WebSocket 令牌
func (a *API) websocketToken(c *Context) (*TokenResp, error) {
	claims := claimsOf(c)
	token, err := a.Tokens.Issue(auth.Claims{UserID: claims.UserID, Roles: claims.Roles}, auth.KindWebsocket, 0)
	if err != nil {
		return nil, err
	}
	return &TokenResp{Token: token, ExpiresIn: int64(a.Tokens.DefaultTTL(auth.KindWebsocket).Seconds())}, nil
}

func (a *API) refresh(c *Context, req *RefreshReq) (*TokenResp, error) {
	token, err := a.Tokens.Refresh(c.RequestContext(), req.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &TokenResp{Token: token, ExpiresIn: int64(a.Tokens.DefaultTTL(auth.KindAccess).Seconds())}, nil
}

// revoke 吊销当前请求携带的令牌
func (a *API) revoke(c *Context) (*RevokeResp, error) {
	if err := a.Tokens.Revoke(c.RequestContext(), bearerToken(c.GetHeader("Authorization"))); err != nil {
		return nil, err
	}
	return &RevokeResp{Revoked: true}, nil
}

// room 跨实例人数取自共享存储，本地成员数取自本实例
func (a *API) room(c *Context) (*RoomResp, error) {
	roomID := c.Param("id")
	if err := a.Validator.ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	size, err := a.Gateway.Rooms().Size(c.RequestContext(), roomID)
	if err != nil {
		return nil, err
	}
	return &RoomResp{RoomID: roomID, Size: size, LocalMembers: a.Gateway.Rooms().LocalSize(roomID)}, nil
}
