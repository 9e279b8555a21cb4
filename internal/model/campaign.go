package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Campaign represents a coupon campaign in the database
type Campaign struct {
	CampaignID            string           `db:"campaign_id" json:"campaignId"`
	Name                  string           `db:"name" json:"name"`
	Description           *string          `db:"description" json:"description,omitempty"`
	StartDate             time.Time        `db:"start_date" json:"startDate"`
	EndDate               time.Time        `db:"end_date" json:"endDate"`
	DiscountPercentage    *decimal.Decimal `db:"discount_percentage" json:"discountPercentage,omitempty"`
	DiscountAmount        *decimal.Decimal `db:"discount_amount" json:"discountAmount,omitempty"`
	MaxRedemptionsPerUser int              `db:"max_redemptions_per_user" json:"maxRedemptionsPerUser"`
	MaxTotalRedemptions   *int             `db:"max_total_redemptions" json:"maxTotalRedemptions,omitempty"`
	CurrentRedemptions    int              `db:"current_redemptions" json:"currentRedemptions"`
	IsActive              bool             `db:"is_active" json:"isActive"`
	CreatedAt             time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updatedAt"`
	CreatedBy             *string          `db:"created_by" json:"createdBy,omitempty"`
}

// InWindow reports whether t falls inside the campaign validity window.
func (c *Campaign) InWindow(t time.Time) bool {
	return !t.Before(c.StartDate) && t.Before(c.EndDate)
}

// Exhausted reports whether the total redemption cap has been reached.
func (c *Campaign) Exhausted() bool {
	return c.MaxTotalRedemptions != nil && c.CurrentRedemptions >= *c.MaxTotalRedemptions
}

// DiscountType tells which campaign field drives pricing.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeAmount     DiscountType = "amount"
)

// Discount is the pricing effect of redeeming a coupon.
type Discount struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Discount returns the campaign discount. A percentage takes precedence over
// a fixed amount when both are set. It returns nil when neither is set.
func (c *Campaign) Discount() *Discount {
	if c.DiscountPercentage != nil {
		return &Discount{Type: DiscountTypePercentage, Value: *c.DiscountPercentage}
	}
	if c.DiscountAmount != nil {
		return &Discount{Type: DiscountTypeAmount, Value: *c.DiscountAmount}
	}
	return nil
}
