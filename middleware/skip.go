// Package middleware 管理接口与 /ws 握手共用的 HTTP 中间件
package middleware

import "github.com/tokmz/relay"

// skipper 按精确路径或自定义函数跳过中间件
type skipper struct {
	paths map[string]struct{}
	fn    func(*relay.Context) bool
}

func newSkipper(paths []string, fn func(*relay.Context) bool) skipper {
	s := skipper{paths: make(map[string]struct{}, len(paths)), fn: fn}
	for _, p := range paths {
		s.paths[p] = struct{}{}
	}
	return s
}

func (s skipper) skip(c *relay.Context) bool {
	if _, ok := s.paths[c.Request().URL.Path]; ok {
		return true
	}
	return s.fn != nil && s.fn(c)
}
