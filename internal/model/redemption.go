package model

import (
	"time"
)

// RejectReason is the stable reason code returned for a failed redemption.
type RejectReason string

const (
	ReasonNone              RejectReason = ""
	ReasonNotFound          RejectReason = "NOT_FOUND"
	ReasonAlreadyRedeemed   RejectReason = "ALREADY_REDEEMED"
	ReasonExpired           RejectReason = "EXPIRED"
	ReasonCampaignInactive  RejectReason = "CAMPAIGN_INACTIVE"
	ReasonNotAssignedToUser RejectReason = "NOT_ASSIGNED_TO_USER"
	ReasonCampaignExhausted RejectReason = "CAMPAIGN_EXHAUSTED"
	ReasonUserLimitReached  RejectReason = "USER_LIMIT_REACHED"

	// ReasonStoreError marks history rows of attempts the store could not
	// complete. It is never returned to callers.
	ReasonStoreError RejectReason = "STORE_ERROR"
)

var reasonMessages = map[RejectReason]string{
	ReasonNotFound:          "coupon does not exist",
	ReasonAlreadyRedeemed:   "coupon has already been redeemed",
	ReasonExpired:           "coupon has expired",
	ReasonCampaignInactive:  "campaign is not active",
	ReasonNotAssignedToUser: "coupon is assigned to another user",
	ReasonCampaignExhausted: "campaign has reached its redemption limit",
	ReasonUserLimitReached:  "user has reached the redemption limit for this campaign",
	ReasonStoreError:        "redemption could not be completed",
}

// Message returns a human readable description of the reason.
func (r RejectReason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return "coupon redeemed successfully"
}

// RedemptionHistory is one append-only record per redemption attempt.
type RedemptionHistory struct {
	RedemptionID  int64     `db:"redemption_id" json:"redemptionId"`
	CouponCode    string    `db:"coupon_code" json:"couponCode"`
	UserID        string    `db:"user_id" json:"userId"`
	CampaignID    *string   `db:"campaign_id" json:"campaignId,omitempty"`
	AttemptedAt   time.Time `db:"attempted_at" json:"attemptedAt"`
	Success       bool      `db:"success" json:"success"`
	FailureReason *string   `db:"failure_reason" json:"failureReason,omitempty"`
	IPAddress     *string   `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent     *string   `db:"user_agent" json:"userAgent,omitempty"`
}

// UserRedemption counts the redemptions of one user within one campaign.
type UserRedemption struct {
	UserID          string     `db:"user_id" json:"userId"`
	CampaignID      string     `db:"campaign_id" json:"campaignId"`
	RedemptionCount int        `db:"redemption_count" json:"redemptionCount"`
	LastRedeemedAt  *time.Time `db:"last_redeemed_at" json:"lastRedeemedAt,omitempty"`
}

// RedemptionAttempt is the input of an atomic redemption.
type RedemptionAttempt struct {
	CouponCode string
	UserID     string
	IPAddress  string
	UserAgent  string
	At         time.Time
}

// History builds the history record for the attempt.
func (a RedemptionAttempt) History(campaignID string, reason RejectReason) *RedemptionHistory {
	h := &RedemptionHistory{
		CouponCode:  a.CouponCode,
		UserID:      a.UserID,
		AttemptedAt: a.At,
		Success:     reason == ReasonNone,
		IPAddress:   optional(a.IPAddress),
		UserAgent:   optional(a.UserAgent),
		CampaignID:  optional(campaignID),
	}
	if reason != ReasonNone {
		r := string(reason)
		h.FailureReason = &r
	}
	return h
}

// RedemptionOutcome is the result of an atomic redemption.
type RedemptionOutcome struct {
	Success    bool
	Reason     RejectReason
	CampaignID string
	RedeemedAt *time.Time
}

// Rejected builds a failed outcome.
func Rejected(reason RejectReason, campaignID string) *RedemptionOutcome {
	return &RedemptionOutcome{Reason: reason, CampaignID: campaignID}
}

// CheckRedemption applies the validation order to a locked coupon. campaign
// may be nil when the coupon row is missing its owner. It returns ReasonNone
// when the redemption may proceed.
func CheckRedemption(coupon *Coupon, campaign *Campaign, userCount int, userID string, now time.Time) RejectReason {
	switch {
	case coupon == nil:
		return ReasonNotFound
	case coupon.IsRedeemed:
		return ReasonAlreadyRedeemed
	case coupon.Expired(now):
		return ReasonExpired
	case campaign == nil || !campaign.IsActive || !campaign.InWindow(now):
		return ReasonCampaignInactive
	case coupon.AssignedTo != nil && *coupon.AssignedTo != userID:
		return ReasonNotAssignedToUser
	case campaign.Exhausted():
		return ReasonCampaignExhausted
	case userCount >= campaign.MaxRedemptionsPerUser:
		return ReasonUserLimitReached
	}
	return ReasonNone
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
