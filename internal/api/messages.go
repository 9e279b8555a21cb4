// Package api defines the coupon RPC surface shared by the server, the REST
// handlers and the load test client.
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/couponhub/internal/model"
)

// CreateCampaignRequest creates a campaign.
type CreateCampaignRequest struct {
	CampaignID            string           `json:"campaignId"`
	Name                  string           `json:"name"`
	Description           *string          `json:"description,omitempty"`
	StartDate             time.Time        `json:"startDate"`
	EndDate               time.Time        `json:"endDate"`
	DiscountPercentage    *decimal.Decimal `json:"discountPercentage,omitempty"`
	DiscountAmount        *decimal.Decimal `json:"discountAmount,omitempty"`
	MaxRedemptionsPerUser int              `json:"maxRedemptionsPerUser,omitempty"`
	MaxTotalRedemptions   *int             `json:"maxTotalRedemptions,omitempty"`
	CreatedBy             *string          `json:"createdBy,omitempty"`
}

type CreateCampaignResponse struct {
	Campaign *model.Campaign `json:"campaign"`
}

type RequestGenerationRequest struct {
	CampaignID     string     `json:"campaignId"`
	Prefix         string     `json:"prefix"`
	Amount         int        `json:"amount"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	RequestedBy    string     `json:"requestedBy,omitempty"`
}

// RequestGenerationResponse acknowledges a queued generation request.
type RequestGenerationResponse struct {
	RequestID               string                 `json:"requestId"`
	CampaignID              string                 `json:"campaignId"`
	Status                  model.GenerationStatus `json:"status"`
	EstimatedCompletionTime time.Time              `json:"estimatedCompletionTime"`
}

type GetGenerationRequestRequest struct {
	RequestID string `json:"requestId"`
}

type GetGenerationRequestResponse struct {
	Request *model.GenerationRequest `json:"request"`
}

type ListBatchCodesRequest struct {
	RequestID string `json:"requestId"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

type ListBatchCodesResponse struct {
	RequestID string   `json:"requestId"`
	BatchID   string   `json:"batchId"`
	Codes     []string `json:"codes"`
	Limit     int      `json:"limit"`
	Offset    int      `json:"offset"`
}

type RedeemCouponRequest struct {
	CouponCode string `json:"couponCode"`
	UserID     string `json:"userId"`
}

// RedeemCouponResponse carries either a successful redemption or the reason
// it was rejected in Error.
type RedeemCouponResponse struct {
	Success      bool             `json:"success"`
	CouponCode   string           `json:"couponCode,omitempty"`
	CampaignID   string           `json:"campaignId,omitempty"`
	RedeemedAt   *time.Time       `json:"redeemedAt,omitempty"`
	Discount     *decimal.Decimal `json:"discount,omitempty"`
	DiscountType string           `json:"discountType,omitempty"`
	Error        string           `json:"error,omitempty"`
	Message      string           `json:"message,omitempty"`
}

type GetCouponStatusRequest struct {
	CouponCode string `json:"couponCode"`
}

type CouponStatusResponse struct {
	CouponCode string     `json:"couponCode"`
	Valid      bool       `json:"valid"`
	Redeemed   bool       `json:"redeemed"`
	RedeemedAt *time.Time `json:"redeemedAt,omitempty"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	CampaignID string     `json:"campaignId"`
	AssignedTo *string    `json:"assignedTo,omitempty"`
}

type GetCampaignStatsRequest struct {
	CampaignID string `json:"campaignId"`
}

type CampaignStatsResponse struct {
	CampaignID     string `json:"campaignId"`
	TotalGenerated int    `json:"totalGenerated"`
	TotalUsed      int    `json:"totalUsed"`
	TotalAvailable int    `json:"totalAvailable"`
}
