package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/model"
)

// Store binds the repositories to a PostgreSQL connection pool.
type Store struct {
	db          *sqlx.DB
	campaigns   *CampaignRepository
	coupons     *CouponRepository
	redemptions *RedemptionRepository
	generations *GenerationRepository
}

// NewStore creates a store backed by db
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:          db,
		campaigns:   NewCampaignRepository(),
		coupons:     NewCouponRepository(),
		redemptions: NewRedemptionRepository(),
		generations: NewGenerationRepository(),
	}
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err, "failed to ping database")
	}
	return nil
}

func (s *Store) CreateCampaign(ctx context.Context, campaign *model.Campaign) error {
	return s.campaigns.CreateCampaign(ctx, s.db, campaign)
}

func (s *Store) GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	return s.campaigns.GetCampaign(ctx, s.db, campaignID)
}

func (s *Store) DeactivateCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	return s.campaigns.DeactivateCampaign(ctx, s.db, campaignID)
}

func (s *Store) InsertCouponsBatch(ctx context.Context, coupons []*model.Coupon) (int, []string, error) {
	return s.coupons.InsertCouponBatch(ctx, s.db, coupons)
}

func (s *Store) FindCouponDetails(ctx context.Context, code string) (*model.CouponDetails, error) {
	return s.coupons.FindCouponDetails(ctx, s.db, code)
}

func (s *Store) CountCoupons(ctx context.Context, campaignID string) (int, error) {
	return s.coupons.CountCoupons(ctx, s.db, campaignID)
}

func (s *Store) CountRedeemed(ctx context.Context, campaignID string) (int, error) {
	return s.coupons.CountRedeemed(ctx, s.db, campaignID)
}

func (s *Store) ListCodesByBatch(ctx context.Context, batchID string, limit, offset int) ([]string, error) {
	return s.coupons.ListCodesByBatch(ctx, s.db, batchID, limit, offset)
}

// RedeemCouponAtomic validates and redeems the coupon in one transaction. A
// rejection rolls the transaction back and its history row is written
// afterwards, so every attempt leaves exactly one history row.
func (s *Store) RedeemCouponAtomic(ctx context.Context, attempt model.RedemptionAttempt) (*model.RedemptionOutcome, error) {
	outcome, err := s.redeem(ctx, attempt)
	if err != nil {
		return nil, err
	}

	if !outcome.Success {
		if err := s.redemptions.InsertHistory(ctx, s.db, attempt.History(outcome.CampaignID, outcome.Reason)); err != nil {
			return nil, err
		}
	}

	return outcome, nil
}

func (s *Store) redeem(ctx context.Context, attempt model.RedemptionAttempt) (*model.RedemptionOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	// Lock the coupon row; concurrent attempts on the same code queue here.
	coupon, err := s.coupons.GetCouponForUpdate(ctx, tx, attempt.CouponCode)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return model.Rejected(model.ReasonNotFound, ""), nil
		}
		return nil, err
	}

	campaign, err := s.campaigns.GetCampaign(ctx, tx, coupon.CampaignID)
	if err != nil && !apperrors.Is(err, apperrors.KindNotFound) {
		return nil, err
	}

	userCount, err := s.redemptions.GetUserRedemptionCount(ctx, tx, attempt.UserID, coupon.CampaignID)
	if err != nil {
		return nil, err
	}

	if reason := model.CheckRedemption(coupon, campaign, userCount, attempt.UserID, attempt.At); reason != model.ReasonNone {
		return model.Rejected(reason, coupon.CampaignID), nil
	}

	// The counters are re-checked by conditional writes because other coupons
	// of the same campaign may be redeemed concurrently.
	ok, err := s.campaigns.IncrementRedemptions(ctx, tx, coupon.CampaignID, attempt.At)
	if err != nil {
		return nil, err
	}
	if !ok {
		return model.Rejected(model.ReasonCampaignExhausted, coupon.CampaignID), nil
	}

	ok, err = s.redemptions.IncrementUserRedemption(ctx, tx, attempt.UserID, coupon.CampaignID, campaign.MaxRedemptionsPerUser, attempt.At)
	if err != nil {
		return nil, err
	}
	if !ok {
		return model.Rejected(model.ReasonUserLimitReached, coupon.CampaignID), nil
	}

	if err := s.coupons.MarkCouponAsRedeemed(ctx, tx, attempt.CouponCode, attempt.UserID, attempt.At); err != nil {
		if errors.Is(err, errCouponAlreadyRedeemed) {
			return model.Rejected(model.ReasonAlreadyRedeemed, coupon.CampaignID), nil
		}
		return nil, err
	}

	if err := s.redemptions.InsertHistory(ctx, tx, attempt.History(coupon.CampaignID, model.ReasonNone)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err, "failed to commit transaction")
	}

	redeemedAt := attempt.At
	return &model.RedemptionOutcome{
		Success:    true,
		CampaignID: coupon.CampaignID,
		RedeemedAt: &redeemedAt,
	}, nil
}

// RecordAttempt appends a history row outside any redemption transaction
func (s *Store) RecordAttempt(ctx context.Context, history *model.RedemptionHistory) error {
	return s.redemptions.InsertHistory(ctx, s.db, history)
}

func (s *Store) CreateGenerationRequest(ctx context.Context, req *model.GenerationRequest) error {
	return s.generations.CreateGenerationRequest(ctx, s.db, req)
}

func (s *Store) GetGenerationRequest(ctx context.Context, requestID string) (*model.GenerationRequest, error) {
	return s.generations.GetGenerationRequest(ctx, s.db, requestID)
}

func (s *Store) MarkGenerationRunning(ctx context.Context, requestID string, startedAt time.Time) error {
	return s.generations.MarkGenerationRunning(ctx, s.db, requestID, startedAt)
}

func (s *Store) UpdateGenerationProgress(ctx context.Context, requestID string, generated int) error {
	return s.generations.UpdateGenerationProgress(ctx, s.db, requestID, generated)
}

func (s *Store) MarkGenerationCompleted(ctx context.Context, requestID string, generated int, completedAt time.Time) error {
	return s.generations.MarkGenerationCompleted(ctx, s.db, requestID, generated, completedAt)
}

func (s *Store) MarkGenerationFailed(ctx context.Context, requestID string, generated int, reason string, completedAt time.Time) error {
	return s.generations.MarkGenerationFailed(ctx, s.db, requestID, generated, reason, completedAt)
}
