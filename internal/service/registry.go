package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/model"
	"github.com/kkkkikiki/couponhub/internal/validator"
)

// CampaignRegistry is the read accessor for campaigns. Reads go through the
// cache when one is configured.
type CampaignRegistry struct {
	store  CampaignStore
	cache  CampaignCache
	logger *slog.Logger
}

// NewCampaignRegistry creates a registry. cache may be nil.
func NewCampaignRegistry(store CampaignStore, cache CampaignCache, logger *slog.Logger) *CampaignRegistry {
	return &CampaignRegistry{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// CreateCampaignInput holds the parameters for creating a campaign.
type CreateCampaignInput struct {
	CampaignID            string           `validate:"required,max=64"`
	Name                  string           `validate:"required,max=255"`
	Description           *string          `validate:"omitempty,max=1000"`
	StartDate             time.Time        `validate:"required"`
	EndDate               time.Time        `validate:"required,gtfield=StartDate"`
	DiscountPercentage    *decimal.Decimal
	DiscountAmount        *decimal.Decimal
	MaxRedemptionsPerUser int  `validate:"gte=0"`
	MaxTotalRedemptions   *int `validate:"omitempty,gte=1"`
	CreatedBy             *string
}

// CreateCampaign validates and stores a new active campaign.
func (r *CampaignRegistry) CreateCampaign(ctx context.Context, input *CreateCampaignInput) (*model.Campaign, error) {
	if err := validator.Validate(input); err != nil {
		return nil, err
	}
	if p := input.DiscountPercentage; p != nil && (!p.IsPositive() || p.GreaterThan(decimal.NewFromInt(100))) {
		return nil, apperrors.Validation("discountPercentage must be in (0, 100]",
			map[string]string{"discountPercentage": "must be greater than 0 and at most 100"})
	}
	if a := input.DiscountAmount; a != nil && !a.IsPositive() {
		return nil, apperrors.Validation("discountAmount must be positive",
			map[string]string{"discountAmount": "must be greater than 0"})
	}

	perUser := input.MaxRedemptionsPerUser
	if perUser == 0 {
		perUser = 1
	}

	campaign := &model.Campaign{
		CampaignID:            input.CampaignID,
		Name:                  input.Name,
		Description:           input.Description,
		StartDate:             input.StartDate,
		EndDate:               input.EndDate,
		DiscountPercentage:    input.DiscountPercentage,
		DiscountAmount:        input.DiscountAmount,
		MaxRedemptionsPerUser: perUser,
		MaxTotalRedemptions:   input.MaxTotalRedemptions,
		IsActive:              true,
		CreatedBy:             input.CreatedBy,
	}

	if err := r.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "campaign created",
		slog.String("campaign_id", campaign.CampaignID),
		slog.Int("max_redemptions_per_user", campaign.MaxRedemptionsPerUser),
	)

	return campaign, nil
}

// GetCampaign returns the campaign or a not found error.
func (r *CampaignRegistry) GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	if r.cache != nil {
		campaign, err := r.cache.Get(ctx, campaignID)
		if err != nil {
			r.logger.WarnContext(ctx, "campaign cache read failed",
				slog.String("campaign_id", campaignID),
				slog.String("error", err.Error()),
			)
		} else if campaign != nil {
			return campaign, nil
		}
	}

	campaign, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, campaign); err != nil {
			r.logger.WarnContext(ctx, "campaign cache write failed",
				slog.String("campaign_id", campaignID),
				slog.String("error", err.Error()),
			)
		}
	}

	return campaign, nil
}

// GetDiscount returns the campaign discount, or nil when the campaign is
// missing, has no discount, or cannot be read. It never fails.
func (r *CampaignRegistry) GetDiscount(ctx context.Context, campaignID string) *model.Discount {
	campaign, err := r.GetCampaign(ctx, campaignID)
	if err != nil {
		if !apperrors.Is(err, apperrors.KindNotFound) {
			r.logger.ErrorContext(ctx, "failed to read campaign discount",
				slog.String("campaign_id", campaignID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	return campaign.Discount()
}

// DeactivateCampaign marks the campaign inactive. Its coupons stop being
// redeemable immediately.
func (r *CampaignRegistry) DeactivateCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	campaign, err := r.store.DeactivateCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	r.Invalidate(ctx, campaignID)

	r.logger.InfoContext(ctx, "campaign deactivated", slog.String("campaign_id", campaignID))
	return campaign, nil
}

// Invalidate evicts the cached campaign so the next read sees the stored
// flags and counters.
func (r *CampaignRegistry) Invalidate(ctx context.Context, campaignID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, campaignID); err != nil {
		r.logger.WarnContext(ctx, "campaign cache eviction failed",
			slog.String("campaign_id", campaignID),
			slog.String("error", err.Error()),
		)
	}
}
