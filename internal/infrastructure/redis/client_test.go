package redis

import (
	"context"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientSuccess(t *testing.T) {
	s := miniredis.RunT(t)

	ctx := context.Background()
	client, err := NewClient(ctx, fmt.Sprintf("redis://%s", s.Addr()), zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, Check(client)(ctx))
}

func TestNewClientInvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "://bad-url", zerolog.Nop())
	assert.ErrorContains(t, err, "parse redis URL")
}

func TestNewClientPingFailure(t *testing.T) {
	s := miniredis.RunT(t)
	url := fmt.Sprintf("redis://%s", s.Addr())
	s.Close()

	_, err := NewClient(context.Background(), url, zerolog.Nop())
	assert.ErrorContains(t, err, "ping redis")
}

func TestCheckFailsWhenServerStops(t *testing.T) {
	s := miniredis.RunT(t)
	client, err := NewClient(context.Background(), fmt.Sprintf("redis://%s", s.Addr()), zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	s.Close()
	assert.Error(t, Check(client)(context.Background()))
}
