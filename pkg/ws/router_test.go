package ws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrozenChainSharedAcrossRoutes(t *testing.T) {
	var limited []string
	stage := func(ctx context.Context, c *Context, next NextFunc) Outcome {
		if c.route.RateClass != "" {
			limited = append(limited, c.Event)
		}
		return next()
	}
	r := newRouter(func(ctx context.Context, c *Context) Outcome {
		out, _ := c.route.handler(ctx, c)
		return out
	}, stage)

	echo := func(_ context.Context, c *Context) (Outcome, error) {
		return Outcome{"event": c.Event}, nil
	}
	require.NoError(t, r.Register("a", echo, RateLimited("messages")))
	require.NoError(t, r.Register("b", echo))
	require.NoError(t, r.Register("c", echo, Public()))

	r.Freeze()
	require.NotNil(t, r.compiled)
	r.Freeze()

	for _, event := range []string{"a", "b", "c"} {
		route, run, ok := r.route(event)
		require.True(t, ok)
		out := run(context.Background(), &Context{Event: event, route: route})
		assert.Equal(t, event, out["event"])
	}
	assert.Equal(t, []string{"a"}, limited)

	_, _, ok := r.route("missing")
	assert.False(t, ok)
}
