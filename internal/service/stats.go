package service

import (
	"context"
	"log/slog"

	"github.com/kkkkikiki/couponhub/internal/metrics"
)

// CampaignStats summarizes coupon usage of one campaign.
type CampaignStats struct {
	CampaignID     string `json:"campaignId"`
	TotalGenerated int    `json:"totalGenerated"`
	TotalUsed      int    `json:"totalUsed"`
	TotalAvailable int    `json:"totalAvailable"`
}

// StatsAggregator computes best-effort campaign stats.
type StatsAggregator struct {
	store  CouponStore
	logger *slog.Logger
}

// NewStatsAggregator creates a stats aggregator.
func NewStatsAggregator(store CouponStore, logger *slog.Logger) *StatsAggregator {
	return &StatsAggregator{
		store:  store,
		logger: logger,
	}
}

// GetStats never fails. When the store cannot be read the counts are zero,
// the failure is logged and the fallback counter is incremented.
func (s *StatsAggregator) GetStats(ctx context.Context, campaignID string) *CampaignStats {
	stats := &CampaignStats{CampaignID: campaignID}

	total, err := s.store.CountCoupons(ctx, campaignID)
	if err != nil {
		s.fallback(ctx, campaignID, err)
		return stats
	}
	used, err := s.store.CountRedeemed(ctx, campaignID)
	if err != nil {
		s.fallback(ctx, campaignID, err)
		return stats
	}

	stats.TotalGenerated = total
	stats.TotalUsed = used
	stats.TotalAvailable = total - used
	return stats
}

func (s *StatsAggregator) fallback(ctx context.Context, campaignID string, err error) {
	metrics.StatsFallbackTotal.Inc()
	s.logger.ErrorContext(ctx, "campaign stats unavailable, returning zero values",
		slog.String("campaign_id", campaignID),
		slog.String("error", err.Error()),
	)
}
