package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotdesk/internal/platform/config"
)

func TestNew_NoURLMeansNoMirror(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestOptions(t *testing.T) {
	t.Run("limits overlay the URL", func(t *testing.T) {
		opts, err := Options(config.RedisConfig{
			URL:          "redis://mirror.local:6380/2",
			PoolSize:     4,
			MinIdleConns: 1,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "mirror.local:6380", opts.Addr)
		assert.Equal(t, 2, opts.DB)
		assert.Equal(t, 4, opts.PoolSize)
		assert.Equal(t, 1, opts.MinIdleConns)
		assert.Equal(t, 2*time.Second, opts.DialTimeout)
		assert.Equal(t, time.Second, opts.ReadTimeout)
	})

	t.Run("malformed URL", func(t *testing.T) {
		_, err := Options(config.RedisConfig{URL: "mirror.local"})
		require.ErrorContains(t, err, "REDIS_URL")
	})
}
