package relay

import "github.com/tokmz/relay/pkg/errors"

// Response HTTP 接口的统一响应体
type Response struct {
	Code    int    `json:"code"`
	Data    any    `json:"data"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// errorResponse 错误到 HTTP 状态与响应体的映射
func errorResponse(err error) (int, *Response) {
	coded := errors.ErrServer
	var e *errors.Error
	if errors.As(err, &e) {
		coded = e
	}
	return coded.HttpCode, &Response{Code: coded.Code, Message: coded.Message}
}
