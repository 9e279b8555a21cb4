package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kkkkikiki/couponhub/internal/model"
)

const keyPrefix = "campaign:"

// CampaignCache stores campaign snapshots in Redis.
type CampaignCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCampaignCache creates a Redis-backed campaign cache.
func NewCampaignCache(client *redis.Client, ttl time.Duration) *CampaignCache {
	return &CampaignCache{
		client: client,
		ttl:    ttl,
	}
}

// Get returns the cached campaign, or nil on a miss.
func (c *CampaignCache) Get(ctx context.Context, campaignID string) (*model.Campaign, error) {
	data, err := c.client.Get(ctx, keyPrefix+campaignID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get campaign: %w", err)
	}

	var campaign model.Campaign
	if err := json.Unmarshal(data, &campaign); err != nil {
		return nil, fmt.Errorf("unmarshal campaign: %w", err)
	}

	return &campaign, nil
}

// Set caches the campaign with the configured TTL.
func (c *CampaignCache) Set(ctx context.Context, campaign *model.Campaign) error {
	data, err := json.Marshal(campaign)
	if err != nil {
		return fmt.Errorf("marshal campaign: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+campaign.CampaignID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set campaign: %w", err)
	}

	return nil
}

// Delete evicts the campaign.
func (c *CampaignCache) Delete(ctx context.Context, campaignID string) error {
	if err := c.client.Del(ctx, keyPrefix+campaignID).Err(); err != nil {
		return fmt.Errorf("redis del campaign: %w", err)
	}

	return nil
}
