package service

import (
	"context"
	"time"

	"github.com/kkkkikiki/couponhub/internal/model"
)

// CampaignStore persists campaigns.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, campaign *model.Campaign) error
	GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error)
	DeactivateCampaign(ctx context.Context, campaignID string) (*model.Campaign, error)
}

// CouponStore persists generated coupons.
type CouponStore interface {
	// InsertCouponsBatch stores one chunk. It returns how many coupons of the
	// chunk are now stored under the batch and the codes that collided with
	// coupons from other batches.
	InsertCouponsBatch(ctx context.Context, coupons []*model.Coupon) (stored int, conflicts []string, err error)
	FindCouponDetails(ctx context.Context, code string) (*model.CouponDetails, error)
	CountCoupons(ctx context.Context, campaignID string) (int, error)
	CountRedeemed(ctx context.Context, campaignID string) (int, error)
	ListCodesByBatch(ctx context.Context, batchID string, limit, offset int) ([]string, error)
}

// RedemptionStore performs the atomic check-and-transition of a coupon.
type RedemptionStore interface {
	// RedeemCouponAtomic validates and redeems in one transaction and records
	// the attempt in history whatever the outcome. Rejections are reported in
	// the outcome, not as errors.
	RedeemCouponAtomic(ctx context.Context, attempt model.RedemptionAttempt) (*model.RedemptionOutcome, error)
	// RecordAttempt appends a history row for an attempt rejected before it
	// reached the store.
	RecordAttempt(ctx context.Context, history *model.RedemptionHistory) error
}

// GenerationStore persists generation requests.
type GenerationStore interface {
	CreateGenerationRequest(ctx context.Context, req *model.GenerationRequest) error
	GetGenerationRequest(ctx context.Context, requestID string) (*model.GenerationRequest, error)
	MarkGenerationRunning(ctx context.Context, requestID string, startedAt time.Time) error
	UpdateGenerationProgress(ctx context.Context, requestID string, generated int) error
	MarkGenerationCompleted(ctx context.Context, requestID string, generated int, completedAt time.Time) error
	MarkGenerationFailed(ctx context.Context, requestID string, generated int, reason string, completedAt time.Time) error
}

// Store is the full persistence contract.
type Store interface {
	CampaignStore
	CouponStore
	RedemptionStore
	GenerationStore
	Ping(ctx context.Context) error
}

// CampaignCache is an optional read-through cache for campaigns.
type CampaignCache interface {
	Get(ctx context.Context, campaignID string) (*model.Campaign, error)
	Set(ctx context.Context, campaign *model.Campaign) error
	Delete(ctx context.Context, campaignID string) error
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, eventType string, payload any) error
}
