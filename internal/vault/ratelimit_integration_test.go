//go:build integration

package vault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "phivault/pkg/domain-errors"
	"phivault/pkg/testutil/containers"
)

type RedisLimiterSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisLimiterSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLimiterSuite))
}

func (s *RedisLimiterSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisLimiterSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLimiterSuite) TestAllowWithinLimit() {
	ctx := context.Background()
	limiter := NewRedisLimiter(s.redis.Client, 3, time.Minute)

	for i := 0; i < 3; i++ {
		s.Require().NoError(limiter.Allow(ctx, "officer-1"))
	}
}

func (s *RedisLimiterSuite) TestBlocksOverLimit() {
	ctx := context.Background()
	limiter := NewRedisLimiter(s.redis.Client, 2, time.Minute)

	s.Require().NoError(limiter.Allow(ctx, "officer-1"))
	s.Require().NoError(limiter.Allow(ctx, "officer-1"))

	err := limiter.Allow(ctx, "officer-1")
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnavailable, dErrors.CodeOf(err))
}

func (s *RedisLimiterSuite) TestWindowsArePerActor() {
	ctx := context.Background()
	limiter := NewRedisLimiter(s.redis.Client, 1, time.Minute)

	s.Require().NoError(limiter.Allow(ctx, "officer-1"))
	s.Require().NoError(limiter.Allow(ctx, "officer-2"))
	s.Require().Error(limiter.Allow(ctx, "officer-1"))
}

func (s *RedisLimiterSuite) TestDisabledLimit() {
	ctx := context.Background()
	limiter := NewRedisLimiter(s.redis.Client, 0, time.Minute)

	for i := 0; i < 10; i++ {
		s.Require().NoError(limiter.Allow(ctx, "officer-1"))
	}
}
