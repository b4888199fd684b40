package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/config"
	relayerrors "github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/store"
)

// Kind 令牌类型
type Kind string

const (
	KindAccess    Kind = "access"
	KindRefresh   Kind = "refresh"
	KindWebsocket Kind = "websocket"
)

// 预定义错误
var (
	ErrMissingToken  = relayerrors.ErrAuthentication
	ErrInvalidToken  = relayerrors.ErrAuthentication.WithMessage("Invalid authentication")
	ErrInvalidConfig = relayerrors.New(2101, "auth invalid config")
)

// Claims 令牌载荷
type Claims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
	Kind   Kind     `json:"type"`
	jwt.RegisteredClaims
}

// Verifier 令牌校验
type Verifier interface {
	Verify(ctx context.Context, token string, kind Kind) (*Claims, error)
}

// Config 令牌配置
type Config struct {
	Secret       string
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	WebsocketTTL time.Duration
	Store        store.Store // 吊销列表，为 nil 时不支持吊销
	Logger       logger.Logger
}

// Option 配置选项
type Option func(*Config)

// WithIssuer 设置签发者
func WithIssuer(iss string) Option {
	return func(c *Config) { c.Issuer = iss }
}

// WithTTL 设置某类令牌的默认有效期
func WithTTL(kind Kind, ttl time.Duration) Option {
	return func(c *Config) {
		switch kind {
		case KindAccess:
			c.AccessTTL = ttl
		case KindRefresh:
			c.RefreshTTL = ttl
		case KindWebsocket:
			c.WebsocketTTL = ttl
		}
	}
}

// WithStore 设置吊销列表存储
func WithStore(s store.Store) Option {
	return func(c *Config) { c.Store = s }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithSettings 从配置文件的 auth 段加载
func WithSettings(s config.AuthSettings) Option {
	return func(c *Config) {
		if s.Issuer != "" {
			c.Issuer = s.Issuer
		}
		if s.AccessTTL > 0 {
			c.AccessTTL = s.AccessTTL
		}
		if s.RefreshTTL > 0 {
			c.RefreshTTL = s.RefreshTTL
		}
		if s.WebsocketTTL > 0 {
			c.WebsocketTTL = s.WebsocketTTL
		}
	}
}

// Manager 基于 HS256 的令牌签发与校验，吊销记录保存在共享存储中
type Manager struct {
	config *Config
	secret []byte
	logger logger.Logger
	now    func() time.Time
}

// New 创建令牌管理器
func New(secret string, opts ...Option) (*Manager, error) {
	cfg := &Config{
		Secret:       secret,
		Issuer:       "relay",
		AccessTTL:    time.Hour,
		RefreshTTL:   7 * 24 * time.Hour,
		WebsocketTTL: 5 * time.Minute,
		Logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("%w: secret must be at least 16 bytes", ErrInvalidConfig)
	}
	return &Manager{
		config: cfg,
		secret: []byte(cfg.Secret),
		logger: cfg.Logger.With(zap.String("component", "auth")),
		now:    time.Now,
	}, nil
}

// RevokedKey 吊销记录键
func RevokedKey(jti string) string {
	return "jwt:revoked:" + jti
}

// DefaultTTL 某类令牌的默认有效期
func (m *Manager) DefaultTTL(kind Kind) time.Duration {
	switch kind {
	case KindRefresh:
		return m.config.RefreshTTL
	case KindWebsocket:
		return m.config.WebsocketTTL
	default:
		return m.config.AccessTTL
	}
}

// Issue 签发令牌，ttl <= 0 时使用该类型的默认有效期
func (m *Manager) Issue(claims Claims, kind Kind, ttl time.Duration) (string, error) {
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidConfig)
	}
	if ttl <= 0 {
		ttl = m.DefaultTTL(kind)
	}

	now := m.now()
	c := Claims{
		UserID: claims.UserID,
		Roles:  claims.Roles,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &c).SignedString(m.secret)
}

// parse 校验签名、签发者和有效期
func (m *Manager) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, ErrInvalidToken.WithError(err)
	}
	return &claims, nil
}

// Verify 校验令牌及其类型，并检查吊销列表
// 吊销列表不可用时放行并记录日志
func (m *Manager) Verify(ctx context.Context, token string, kind Kind) (*Claims, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrInvalidToken.WithError(fmt.Errorf("token type %q, want %q", claims.Kind, kind))
	}

	if m.config.Store != nil && claims.ID != "" {
		revoked, err := m.config.Store.Exists(ctx, RevokedKey(claims.ID))
		if err != nil {
			m.logger.WarnContext(ctx, "revocation check failed, accepting token",
				zap.String("jti", claims.ID), zap.Error(err))
		} else if revoked {
			return nil, ErrInvalidToken.WithError(errors.New("token revoked"))
		}
	}
	return claims, nil
}

// Revoke 吊销令牌，记录保留到令牌过期
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if m.config.Store == nil {
		return fmt.Errorf("%w: revocation store not configured", ErrInvalidConfig)
	}
	claims, err := m.parse(token)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	if err := m.config.Store.Set(ctx, RevokedKey(claims.ID), []byte("1"), ttl); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "token revoked",
		zap.String("jti", claims.ID), zap.String("user_id", claims.UserID))
	return nil
}

// Refresh 用刷新令牌换取新的访问令牌
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := m.Verify(ctx, refreshToken, KindRefresh)
	if err != nil {
		return "", err
	}
	return m.Issue(Claims{UserID: claims.UserID, Roles: claims.Roles}, KindAccess, 0)
}
