package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GetJSON 读取并反序列化 JSON 值
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var result T
	data, err := s.Get(ctx, key)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return result, nil
}

// SetJSON 序列化为 JSON 后写入
func SetJSON[T any](ctx context.Context, s Store, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return s.Set(ctx, key, data, ttl)
}
