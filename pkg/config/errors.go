package config

import "github.com/tokmz/relay/pkg/errors"

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(1101, "配置文件未找到")
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(1102, "配置读取失败")
	// ErrConfigInvalid 配置内容非法
	ErrConfigInvalid = errors.New(1103, "配置内容非法")
)
