package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rebrick/rebrick/internal/model"
)

const (
	classificationKeyPrefix = "classify:"

	// DefaultClassificationTTL is used when the caller passes a zero TTL.
	DefaultClassificationTTL = 24 * time.Hour
)

// GetClassification returns the cached classification for a content
// fingerprint. Returns ErrCacheMiss if not found.
func (c *Cache) GetClassification(ctx context.Context, fingerprint string) (model.PageType, error) {
	key := classificationKeyPrefix + fingerprint

	result, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return model.PageType{}, fmt.Errorf("redis hgetall failed: %w", err)
	}

	if len(result) == 0 {
		return model.PageType{}, ErrCacheMiss
	}

	confidence, err := strconv.ParseFloat(result["confidence"], 64)
	if err != nil {
		// Corrupt entry: drop it and let the caller recompute.
		c.client.Del(ctx, key)
		return model.PageType{}, ErrCacheMiss
	}

	pt, err := model.NewPageType(model.PageTypeName(result["type"]), confidence)
	if err != nil {
		c.client.Del(ctx, key)
		return model.PageType{}, ErrCacheMiss
	}

	return pt, nil
}

// SetClassification stores a classification under a content fingerprint.
func (c *Cache) SetClassification(ctx context.Context, fingerprint string, pt model.PageType, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultClassificationTTL
	}
	key := classificationKeyPrefix + fingerprint

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"type":       string(pt.Type),
		"confidence": strconv.FormatFloat(pt.Confidence, 'f', -1, 64),
	})
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache classification: %w", err)
	}

	return nil
}
