package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tokmz/relay"
)

// CORSConfig 管理接口的跨域设置。/ws 的 Origin 校验在网关握手时完成，
// 这里只影响浏览器对 /api/v1 的预检与响应头
type CORSConfig struct {
	// AllowOrigins 精确值或单个通配符，如 "https://*.example.com"；["*"] 放行所有
	AllowOrigins []string
	// AllowOriginFunc 非空时取代 AllowOrigins，relayd 传入 Gateway.AllowsOrigin 以跟随热更新
	AllowOriginFunc  func(origin string) bool
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool // 不能与 ["*"] 同时使用
	MaxAge           time.Duration
}

func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Client-ID"},
		MaxAge:       12 * time.Hour,
	}
}

// CORS 不被允许的 Origin 不报错，只是不写 CORS 头，由浏览器拦截
func CORS(cfgs ...*CORSConfig) relay.HandlerFunc {
	cfg := DefaultCORSConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}

	anyOrigin := cfg.AllowOriginFunc == nil && len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*"
	if anyOrigin && cfg.AllowCredentials {
		panic(`relay/middleware: CORS AllowCredentials cannot be combined with AllowOrigins ["*"]`)
	}
	allowed := cfg.AllowOriginFunc
	if allowed == nil {
		allowed = newOriginSet(cfg.AllowOrigins).match
	}

	preflight := map[string]string{
		"Access-Control-Allow-Methods": strings.Join(cfg.AllowMethods, ", "),
		"Access-Control-Allow-Headers": strings.Join(cfg.AllowHeaders, ", "),
		"Access-Control-Max-Age":       strconv.Itoa(int(cfg.MaxAge / time.Second)),
	}
	expose := strings.Join(cfg.ExposeHeaders, ", ")

	return func(c *relay.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || !(anyOrigin || allowed(origin)) {
			c.Next()
			return
		}

		if anyOrigin {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
		}
		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if expose != "" {
			c.Header("Access-Control-Expose-Headers", expose)
		}

		if c.Request().Method != http.MethodOptions {
			c.Next()
			return
		}
		for k, v := range preflight {
			c.Header(k, v)
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}

// originSet 精确值走 map，带 * 的按前后缀匹配
type originSet struct {
	exact    map[string]struct{}
	patterns [][2]string
}

func newOriginSet(origins []string) *originSet {
	s := &originSet{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if prefix, suffix, ok := strings.Cut(o, "*"); ok {
			s.patterns = append(s.patterns, [2]string{prefix, suffix})
			continue
		}
		s.exact[o] = struct{}{}
	}
	return s
}

func (s *originSet) match(origin string) bool {
	if _, ok := s.exact[origin]; ok {
		return true
	}
	for _, p := range s.patterns {
		// 通配部分至少一个字符
		if len(origin) > len(p[0])+len(p[1]) && strings.HasPrefix(origin, p[0]) && strings.HasSuffix(origin, p[1]) {
			return true
		}
	}
	return false
}
