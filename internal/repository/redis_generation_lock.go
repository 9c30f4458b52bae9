package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const generationLockKeyPrefix = "generation_lock"

// defaultGenerationLockTTL bounds how long a dispatch may hold the
// lease before it expires on its own. The authoritative one-job-per-
// story gate is the task status table; the lease only closes the
// window between concurrent dispatch requests.
const defaultGenerationLockTTL = 30 * time.Second

// Compile-time check
var _ GenerationLocker = (*redisGenerationLock)(nil)

type redisGenerationLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisGenerationLock builds a Redis-backed GenerationLocker.
func NewRedisGenerationLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) GenerationLocker {
	if ttl <= 0 {
		ttl = defaultGenerationLockTTL
	}
	return &redisGenerationLock{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisGenerationLock"),
	}
}

func (l *redisGenerationLock) Acquire(ctx context.Context, storyID uuid.UUID, taskID uuid.UUID) (bool, error) {
	key := lockKey(storyID)
	log := l.logger.With(zap.String("storyID", storyID.String()), zap.String("taskID", taskID.String()))

	acquired, err := l.client.SetNX(ctx, key, taskID.String(), l.ttl).Result()
	if err != nil {
		log.Error("Failed to acquire generation lock", zap.Error(err))
		return false, fmt.Errorf("failed to acquire generation lock for story %s: %w", storyID, err)
	}
	if !acquired {
		log.Debug("Generation lock held by another dispatch")
	}
	return acquired, nil
}

func (l *redisGenerationLock) Release(ctx context.Context, storyID uuid.UUID) error {
	key := lockKey(storyID)
	log := l.logger.With(zap.String("storyID", storyID.String()))

	if err := l.client.Del(ctx, key).Err(); err != nil {
		log.Error("Failed to release generation lock", zap.Error(err))
		return fmt.Errorf("failed to release generation lock for story %s: %w", storyID, err)
	}
	return nil
}

func lockKey(storyID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", generationLockKeyPrefix, storyID)
}
