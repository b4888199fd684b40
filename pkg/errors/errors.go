// Package errors 网关的编码错误，HTTP 响应与 WebSocket error 帧共用同一套错误码
package errors

import (
	"errors"
	"fmt"
)

// Error 预定义错误是共享哨兵，With* 方法总是返回副本
type Error struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	HttpCode int    `json:"-"`
	Err      error  `json:"-"`
}

// New httpCode 省略时为 500
func New(code int, message string, httpCode ...int) *Error {
	e := &Error{Code: code, Message: message, HttpCode: 500}
	if len(httpCode) > 0 {
		e.HttpCode = httpCode[0]
	}
	return e
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 同码即同一错误，否则继续比较原因链
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Err, target)
}

func (e *Error) copyWith(fn func(*Error)) *Error {
	c := *e
	fn(&c)
	return &c
}

// WithError 记录原因，Message 不变，原因不会出现在响应体中
func (e *Error) WithError(cause error) *Error {
	return e.copyWith(func(c *Error) { c.Err = cause })
}

// WithMessage 替换对客户端可见的信息
func (e *Error) WithMessage(message string) *Error {
	return e.copyWith(func(c *Error) { c.Message = message })
}

func (e *Error) WithMessagef(format string, args ...any) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// FromError 错误链上第一个 *Error，没有则返回 nil
func FromError(err error) *Error {
	var e *Error
	if err != nil && errors.As(err, &e) {
		return e
	}
	return nil
}

// Is 与 As 转发标准库，调用方只需导入本包
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
