package store

import "github.com/tokmz/relay/pkg/errors"

// 预定义错误
var (
	ErrNotFound      = errors.New(3001, "store key not found", 404)
	ErrNotInteger    = errors.New(3002, "store value is not an integer")
	ErrUnavailable   = errors.ErrStoreUnavailable
	ErrSerialization = errors.New(3004, "store serialization failed")
	ErrInvalidConfig = errors.New(3005, "store invalid config")
)

// IsNotFound 键不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
