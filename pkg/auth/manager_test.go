package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newManager(t *testing.T, opts ...Option) (*Manager, store.Store) {
	t.Helper()
	s, err := store.New(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m, err := New(testSecret, append([]Option{WithStore(s)}, opts...)...)
	require.NoError(t, err)
	return m, s
}

func TestIssueVerify(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	token, err := m.Issue(Claims{UserID: "u1", Roles: []string{"admin"}}, KindWebsocket, 0)
	require.NoError(t, err)

	claims, err := m.Verify(ctx, token, KindWebsocket)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, []string{"admin"}, claims.Roles)
	assert.Equal(t, KindWebsocket, claims.Kind)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, 2*time.Second)
}

func TestVerifyRejects(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	access, err := m.Issue(Claims{UserID: "u1"}, KindAccess, 0)
	require.NoError(t, err)

	other, err := New("another-secret-of-enough-length")
	require.NoError(t, err)
	forged, err := other.Issue(Claims{UserID: "u1"}, KindWebsocket, 0)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1", Kind: KindWebsocket})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong kind", access},
		{"wrong secret", forged},
		{"alg none", unsigned},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(ctx, tt.token, KindWebsocket)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrAuthentication))
			assert.Equal(t, "Invalid authentication", errors.FromError(err).Message)
		})
	}

	_, err = m.Verify(ctx, "", KindWebsocket)
	assert.Equal(t, "Authentication required", errors.FromError(err).Message)
}

func TestExpired(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	base := time.Now()
	m.now = func() time.Time { return base }

	token, err := m.Issue(Claims{UserID: "u1"}, KindAccess, time.Minute)
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = m.Verify(ctx, token, KindAccess)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	m, s := newManager(t)

	token, err := m.Issue(Claims{UserID: "u1"}, KindAccess, time.Minute)
	require.NoError(t, err)
	claims, err := m.Verify(ctx, token, KindAccess)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, token))
	_, err = m.Verify(ctx, token, KindAccess)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	ttl, err := s.TTL(ctx, RevokedKey(claims.ID))
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
	assert.LessOrEqual(t, ttl, time.Minute)
}

type flakyStore struct {
	store.Store
}

func (flakyStore) Exists(context.Context, string) (bool, error) {
	return false, fmt.Errorf("%w: timeout", store.ErrUnavailable)
}

func TestRevocationCheckFailsOpen(t *testing.T) {
	m, err := New(testSecret, WithStore(flakyStore{}))
	require.NoError(t, err)

	token, err := m.Issue(Claims{UserID: "u1"}, KindWebsocket, 0)
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), token, KindWebsocket)
	assert.NoError(t, err)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, WithTTL(KindAccess, 10*time.Minute))

	refresh, err := m.Issue(Claims{UserID: "u1", Roles: []string{"player"}}, KindRefresh, 0)
	require.NoError(t, err)

	access, err := m.Refresh(ctx, refresh)
	require.NoError(t, err)
	claims, err := m.Verify(ctx, access, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, []string{"player"}, claims.Roles)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), claims.ExpiresAt.Time, 2*time.Second)

	_, err = m.Refresh(ctx, access)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("short")
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	m, err := New(testSecret)
	require.NoError(t, err)
	_, err = m.Issue(Claims{}, KindAccess, 0)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	token, err := m.Issue(Claims{UserID: "u1"}, KindAccess, 0)
	require.NoError(t, err)
	assert.True(t, errors.Is(m.Revoke(context.Background(), token), ErrInvalidConfig))
}
