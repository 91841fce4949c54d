// Package cache stores bishop validity summaries in Redis so every API
// instance shares them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lineage/api/internal/validity"
)

const summaryPrefix = "bishop-summary:"

// SummaryCache implements validity.Cache.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ validity.Cache = (*SummaryCache)(nil)

// NewSummaryCache keeps entries for ttl; zero keeps them until cleared.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl < 0 {
		ttl = 0
	}
	return &SummaryCache{client: client, ttl: ttl}
}

func (c *SummaryCache) Get(ctx context.Context, bishopID string) (validity.Summary, bool, error) {
	raw, err := c.client.Get(ctx, summaryPrefix+bishopID).Bytes()
	if errors.Is(err, redis.Nil) {
		return validity.Summary{}, false, nil
	}
	if err != nil {
		return validity.Summary{}, false, fmt.Errorf("get summary %s: %w", bishopID, err)
	}
	var summary validity.Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return validity.Summary{}, false, fmt.Errorf("decode summary %s: %w", bishopID, err)
	}
	return summary, true, nil
}

func (c *SummaryCache) Set(ctx context.Context, bishopID string, summary validity.Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary %s: %w", bishopID, err)
	}
	if err := c.client.Set(ctx, summaryPrefix+bishopID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set summary %s: %w", bishopID, err)
	}
	return nil
}

// Clear drops the named summaries, or every summary when none are named.
func (c *SummaryCache) Clear(ctx context.Context, bishopIDs ...string) error {
	if len(bishopIDs) > 0 {
		keys := make([]string, 0, len(bishopIDs))
		for _, id := range bishopIDs {
			keys = append(keys, summaryPrefix+id)
		}
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("clear summaries: %w", err)
		}
		return nil
	}

	iter := c.client.Scan(ctx, 0, summaryPrefix+"*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("clear summaries: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan summaries: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("clear summaries: %w", err)
		}
	}
	return nil
}
