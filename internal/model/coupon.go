package model

import (
	"time"
)

// Coupon represents an issued coupon in the database
type Coupon struct {
	CouponCode        string     `db:"coupon_code" json:"couponCode"`
	CampaignID        string     `db:"campaign_id" json:"campaignId"`
	IsRedeemed        bool       `db:"is_redeemed" json:"isRedeemed"`
	RedeemedAt        *time.Time `db:"redeemed_at" json:"redeemedAt,omitempty"`
	RedeemedBy        *string    `db:"redeemed_by" json:"redeemedBy,omitempty"`
	ExpiresAt         time.Time  `db:"expires_at" json:"expiresAt"`
	AssignedTo        *string    `db:"assigned_to" json:"assignedTo,omitempty"`
	GenerationBatchID string     `db:"generation_batch_id" json:"generationBatchId"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
}

// Expired reports whether the coupon can no longer be redeemed at t.
func (c *Coupon) Expired(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// CouponDetails is a coupon joined with the state of its owning campaign.
type CouponDetails struct {
	Coupon
	CampaignActive bool `db:"campaign_active"`
}

// Valid reports whether the coupon could be redeemed at t.
func (d *CouponDetails) Valid(t time.Time) bool {
	return !d.IsRedeemed && !d.Expired(t) && d.CampaignActive
}
