package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kkkkikiki/couponhub/internal/model"
)

// RedemptionRepository handles per-user counters and redemption history
type RedemptionRepository struct{}

// NewRedemptionRepository creates a new redemption repository
func NewRedemptionRepository() *RedemptionRepository {
	return &RedemptionRepository{}
}

// GetUserRedemptionCount returns how often userID redeemed within the campaign
func (r *RedemptionRepository) GetUserRedemptionCount(ctx context.Context, db DBExecutor, userID, campaignID string) (int, error) {
	query := `
		SELECT redemption_count
		FROM user_redemptions
		WHERE user_id = $1 AND campaign_id = $2
	`

	var count int
	if err := db.GetContext(ctx, &count, query, userID, campaignID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, classify(err, "failed to get user redemption count")
	}

	return count, nil
}

// IncrementUserRedemption upserts the per-user counter while it stays below
// limit. It reports false when the counter is already at the limit.
func (r *RedemptionRepository) IncrementUserRedemption(ctx context.Context, db DBExecutor, userID, campaignID string, limit int, at time.Time) (bool, error) {
	query := `
		INSERT INTO user_redemptions (user_id, campaign_id, redemption_count, last_redeemed_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id, campaign_id) DO UPDATE
		SET redemption_count = user_redemptions.redemption_count + 1,
		    last_redeemed_at = EXCLUDED.last_redeemed_at
		WHERE user_redemptions.redemption_count < $4
		RETURNING redemption_count
	`

	var count int
	if err := db.GetContext(ctx, &count, query, userID, campaignID, at, limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, classify(err, "failed to increment user redemptions")
	}

	return true, nil
}

// InsertHistory appends one redemption attempt
func (r *RedemptionRepository) InsertHistory(ctx context.Context, db DBExecutor, h *model.RedemptionHistory) error {
	query := `
		INSERT INTO redemption_history (coupon_code, user_id, campaign_id, attempted_at,
			success, failure_reason, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING redemption_id
	`

	if err := db.GetContext(ctx, &h.RedemptionID, query,
		h.CouponCode, h.UserID, h.CampaignID, h.AttemptedAt,
		h.Success, h.FailureReason, h.IPAddress, h.UserAgent); err != nil {
		return classify(err, "failed to insert redemption history")
	}

	return nil
}
