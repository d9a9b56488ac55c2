package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tutorhive/lesson-publisher/internal/types"
)

// Cache key patterns
const (
	LessonKey        = "lesson:%s"         // lesson:lessonID
	CourseLessonsKey = "course:lessons:%s" // course:lessons:courseID
)

// Cache durations
const (
	LessonCacheDuration        = 10 * time.Minute
	CourseLessonsCacheDuration = 1 * time.Minute
)

// CachedRepository wraps a LessonRepository with Redis caching. Merging a
// lesson refreshes its cache entry and invalidates the course list so stale
// lists are never served after a publish.
type CachedRepository struct {
	inner LessonRepository
	redis *redis.Client
}

// NewCachedRepository creates a cache decorator over inner.
func NewCachedRepository(inner LessonRepository, redisClient *redis.Client) *CachedRepository {
	return &CachedRepository{inner: inner, redis: redisClient}
}

// Merge writes through to the inner repository, caches the lesson and
// invalidates the course list cache.
func (c *CachedRepository) Merge(ctx context.Context, lesson *types.Lesson) error {
	prev, _ := c.inner.Get(ctx, lesson.ID)

	if err := c.inner.Merge(ctx, lesson); err != nil {
		return err
	}

	data, _ := json.Marshal(lesson)
	c.redis.Set(ctx, fmt.Sprintf(LessonKey, lesson.ID), data, LessonCacheDuration)
	if lesson.CourseID != "" {
		c.redis.Del(ctx, fmt.Sprintf(CourseLessonsKey, lesson.CourseID))
	}
	// A lesson moving between courses leaves both lists stale.
	if prev != nil && prev.CourseID != "" && prev.CourseID != lesson.CourseID {
		c.redis.Del(ctx, fmt.Sprintf(CourseLessonsKey, prev.CourseID))
	}
	return nil
}

// Get returns the cached lesson or falls back to the inner repository.
func (c *CachedRepository) Get(ctx context.Context, lessonID string) (*types.Lesson, error) {
	key := fmt.Sprintf(LessonKey, lessonID)

	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var lesson types.Lesson
		if err := json.Unmarshal([]byte(cached), &lesson); err == nil {
			return &lesson, nil
		}
	}

	lesson, err := c.inner.Get(ctx, lessonID)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(lesson)
	c.redis.Set(ctx, key, data, LessonCacheDuration)
	return lesson, nil
}

// ListByCourse returns the cached course list or falls back to the inner
// repository.
func (c *CachedRepository) ListByCourse(ctx context.Context, courseID string) ([]types.Lesson, error) {
	key := fmt.Sprintf(CourseLessonsKey, courseID)

	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var lessons []types.Lesson
		if err := json.Unmarshal([]byte(cached), &lessons); err == nil {
			return lessons, nil
		}
	}

	lessons, err := c.inner.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(lessons)
	c.redis.Set(ctx, key, data, CourseLessonsCacheDuration)
	return lessons, nil
}
