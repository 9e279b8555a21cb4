package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/model"
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

const campaignColumns = `campaign_id, name, description, start_date, end_date,
		discount_percentage, discount_amount, max_redemptions_per_user,
		max_total_redemptions, current_redemptions, is_active,
		created_at, updated_at, created_by`

// CampaignRepository handles campaign data operations
type CampaignRepository struct{}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository() *CampaignRepository {
	return &CampaignRepository{}
}

// CreateCampaign creates a new campaign
func (r *CampaignRepository) CreateCampaign(ctx context.Context, db DBExecutor, campaign *model.Campaign) error {
	query := `
		INSERT INTO campaigns (campaign_id, name, description, start_date, end_date,
			discount_percentage, discount_amount, max_redemptions_per_user,
			max_total_redemptions, current_redemptions, is_active, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	now := time.Now().UTC()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now

	_, err := db.ExecContext(ctx, query,
		campaign.CampaignID, campaign.Name, campaign.Description, campaign.StartDate, campaign.EndDate,
		campaign.DiscountPercentage, campaign.DiscountAmount, campaign.MaxRedemptionsPerUser,
		campaign.MaxTotalRedemptions, campaign.CurrentRedemptions, campaign.IsActive,
		campaign.CreatedAt, campaign.UpdatedAt, campaign.CreatedBy)
	if err != nil {
		err = classify(err, "failed to create campaign")
		if apperrors.Is(err, apperrors.KindConflict) {
			return apperrors.Conflict("CAMPAIGN_EXISTS", fmt.Sprintf("campaign %q already exists", campaign.CampaignID))
		}
		return err
	}

	return nil
}

// GetCampaign retrieves a campaign by ID
func (r *CampaignRepository) GetCampaign(ctx context.Context, db DBExecutor, campaignID string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE campaign_id = $1`

	var campaign model.Campaign
	if err := db.GetContext(ctx, &campaign, query, campaignID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("campaign", campaignID)
		}
		return nil, classify(err, "failed to get campaign")
	}

	return &campaign, nil
}

// DeactivateCampaign clears the active flag and returns the updated row
func (r *CampaignRepository) DeactivateCampaign(ctx context.Context, db DBExecutor, campaignID string) (*model.Campaign, error) {
	query := `
		UPDATE campaigns
		SET is_active = FALSE, updated_at = $1
		WHERE campaign_id = $2
		RETURNING ` + campaignColumns

	var campaign model.Campaign
	if err := db.GetContext(ctx, &campaign, query, time.Now().UTC(), campaignID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("campaign", campaignID)
		}
		return nil, classify(err, "failed to deactivate campaign")
	}

	return &campaign, nil
}

// IncrementRedemptions bumps the campaign counter unless the total cap is
// reached. It reports whether a row was updated.
func (r *CampaignRepository) IncrementRedemptions(ctx context.Context, db DBExecutor, campaignID string, at time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET current_redemptions = current_redemptions + 1, updated_at = $1
		WHERE campaign_id = $2
		  AND (max_total_redemptions IS NULL OR current_redemptions < max_total_redemptions)
	`

	result, err := db.ExecContext(ctx, query, at, campaignID)
	if err != nil {
		return false, classify(err, "failed to increment campaign redemptions")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, classify(err, "failed to get rows affected")
	}

	return rowsAffected == 1, nil
}
