package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/codegen"
	"github.com/kkkkikiki/couponhub/internal/event"
	"github.com/kkkkikiki/couponhub/internal/metrics"
	"github.com/kkkkikiki/couponhub/internal/model"
	"github.com/kkkkikiki/couponhub/internal/validator"
)

const historyTimeout = 5 * time.Second

// RedeemInput identifies who redeems which code and from where.
type RedeemInput struct {
	CouponCode string `validate:"required,max=64"`
	UserID     string `validate:"required,max=128"`
	IPAddress  string `validate:"omitempty,max=45"`
	UserAgent  string `validate:"omitempty,max=500"`
}

// RedeemResult is the outcome of a redemption. A rejected redemption is a
// result with Success false and a Reason, not an error.
type RedeemResult struct {
	Success    bool
	Reason     model.RejectReason
	Message    string
	CouponCode string
	CampaignID string
	RedeemedAt *time.Time
	Discount   *model.Discount
}

// CouponStatus is the read-only view of a coupon.
type CouponStatus struct {
	CouponCode string     `json:"couponCode"`
	Valid      bool       `json:"valid"`
	Redeemed   bool       `json:"redeemed"`
	RedeemedAt *time.Time `json:"redeemedAt,omitempty"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	CampaignID string     `json:"campaignId"`
	AssignedTo *string    `json:"assignedTo,omitempty"`
}

// RedemptionCoordinator redeems coupons through one atomic store operation.
type RedemptionCoordinator struct {
	redemptions RedemptionStore
	coupons     CouponStore
	registry    *CampaignRegistry
	publisher   Publisher
	topic       string
	logger      *slog.Logger
	now         func() time.Time
}

// NewRedemptionCoordinator creates a coordinator. Redeemed events go to topic.
func NewRedemptionCoordinator(
	redemptions RedemptionStore,
	coupons CouponStore,
	registry *CampaignRegistry,
	publisher Publisher,
	topic string,
	logger *slog.Logger,
) *RedemptionCoordinator {
	return &RedemptionCoordinator{
		redemptions: redemptions,
		coupons:     coupons,
		registry:    registry,
		publisher:   publisher,
		topic:       topic,
		logger:      logger,
		now:         time.Now,
	}
}

// Redeem validates and redeems a coupon for a user. Every attempt is written
// to redemption history.
func (c *RedemptionCoordinator) Redeem(ctx context.Context, in *RedeemInput) (*RedeemResult, error) {
	start := time.Now()
	result := "error"
	defer func() {
		metrics.RecordRedeemCouponDuration(result, time.Since(start).Seconds())
	}()

	in.CouponCode = strings.TrimSpace(in.CouponCode)
	in.UserID = strings.TrimSpace(in.UserID)
	if err := validator.Validate(in); err != nil {
		return nil, err
	}

	attempt := model.RedemptionAttempt{
		CouponCode: in.CouponCode,
		UserID:     in.UserID,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		At:         c.now(),
	}

	var outcome *model.RedemptionOutcome
	if !codegen.Verify(in.CouponCode) {
		// Malformed or tampered codes cannot exist in the store.
		if err := c.redemptions.RecordAttempt(ctx, attempt.History("", model.ReasonNotFound)); err != nil {
			return nil, c.storeFailure(ctx, "failed to record redemption attempt", in, err)
		}
		outcome = model.Rejected(model.ReasonNotFound, "")
	} else {
		var err error
		outcome, err = c.redemptions.RedeemCouponAtomic(ctx, attempt)
		if err != nil {
			c.recordFailedAttempt(ctx, attempt)
			return nil, c.storeFailure(ctx, "coupon redemption failed", in, err)
		}
	}

	metrics.RecordRedemption(string(outcome.Reason))

	if !outcome.Success {
		result = "rejected"
		c.logger.InfoContext(ctx, "coupon redemption rejected",
			slog.String("coupon_code", in.CouponCode),
			slog.String("user_id", in.UserID),
			slog.String("reason", string(outcome.Reason)),
		)
		return &RedeemResult{
			Reason:     outcome.Reason,
			Message:    outcome.Reason.Message(),
			CouponCode: in.CouponCode,
			CampaignID: outcome.CampaignID,
		}, nil
	}
	result = "success"

	c.logger.InfoContext(ctx, "coupon redeemed",
		slog.String("coupon_code", in.CouponCode),
		slog.String("user_id", in.UserID),
		slog.String("campaign_id", outcome.CampaignID),
	)

	c.publishRedeemed(ctx, in, outcome)

	discount := c.registry.GetDiscount(ctx, outcome.CampaignID)
	// The cached campaign carries the redemption counter.
	c.registry.Invalidate(ctx, outcome.CampaignID)

	return &RedeemResult{
		Success:    true,
		Message:    model.ReasonNone.Message(),
		CouponCode: in.CouponCode,
		CampaignID: outcome.CampaignID,
		RedeemedAt: outcome.RedeemedAt,
		Discount:   discount,
	}, nil
}

// GetStatus returns the current state of a coupon.
func (c *RedemptionCoordinator) GetStatus(ctx context.Context, code string) (*CouponStatus, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.Validation("couponCode is required", map[string]string{"couponCode": "is required"})
	}

	details, err := c.coupons.FindCouponDetails(ctx, code)
	if err != nil {
		return nil, err
	}

	return &CouponStatus{
		CouponCode: details.CouponCode,
		Valid:      details.Valid(c.now()),
		Redeemed:   details.IsRedeemed,
		RedeemedAt: details.RedeemedAt,
		ExpiresAt:  details.ExpiresAt,
		CampaignID: details.CampaignID,
		AssignedTo: details.AssignedTo,
	}, nil
}

func (c *RedemptionCoordinator) publishRedeemed(ctx context.Context, in *RedeemInput, outcome *model.RedemptionOutcome) {
	data := event.CouponRedeemedData{
		CouponCode: in.CouponCode,
		CampaignID: outcome.CampaignID,
		UserID:     in.UserID,
	}
	if outcome.RedeemedAt != nil {
		data.RedeemedAt = *outcome.RedeemedAt
	}

	if err := c.publisher.Publish(context.WithoutCancel(ctx), c.topic, in.CouponCode, event.TypeCouponRedeemed, data); err != nil {
		c.logger.WarnContext(ctx, "failed to publish redemption event",
			slog.String("coupon_code", in.CouponCode),
			slog.String("error", err.Error()),
		)
	}
}

// recordFailedAttempt writes the history row of an attempt the store could
// not complete. The redemption transaction rolled back, so this is the only
// trace of the attempt.
func (c *RedemptionCoordinator) recordFailedAttempt(ctx context.Context, attempt model.RedemptionAttempt) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	if err := c.redemptions.RecordAttempt(rctx, attempt.History("", model.ReasonStoreError)); err != nil {
		c.logger.ErrorContext(ctx, "failed to record redemption attempt",
			slog.String("coupon_code", attempt.CouponCode),
			slog.String("user_id", attempt.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *RedemptionCoordinator) storeFailure(ctx context.Context, msg string, in *RedeemInput, err error) error {
	c.logger.ErrorContext(ctx, msg,
		slog.String("coupon_code", in.CouponCode),
		slog.String("user_id", in.UserID),
		slog.String("error", err.Error()),
	)
	return asAppError(err)
}

// asAppError leaves classified errors alone and hides everything else
// behind an internal error.
func asAppError(err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Internal(err)
}
