// Package memory is an in-process store used by the memory driver and tests.
// All operations serialize on one mutex, which also makes redemption atomic.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/model"
)

type userKey struct {
	userID     string
	campaignID string
}

// Store keeps every entity in maps guarded by a single mutex.
type Store struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	coupons   map[string]*model.Coupon
	batches   map[string][]string
	users     map[userKey]*model.UserRedemption
	requests  map[string]*model.GenerationRequest
	history   []*model.RedemptionHistory
	now       func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		campaigns: make(map[string]*model.Campaign),
		coupons:   make(map[string]*model.Coupon),
		batches:   make(map[string][]string),
		users:     make(map[userKey]*model.UserRedemption),
		requests:  make(map[string]*model.GenerationRequest),
		now:       time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CreateCampaign stores a new campaign.
func (s *Store) CreateCampaign(ctx context.Context, campaign *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.campaigns[campaign.CampaignID]; exists {
		return apperrors.Conflict("CAMPAIGN_EXISTS", fmt.Sprintf("campaign %q already exists", campaign.CampaignID))
	}

	now := s.now()
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = now
	}
	campaign.UpdatedAt = now

	c := *campaign
	s.campaigns[c.CampaignID] = &c
	return nil
}

// GetCampaign returns a copy of the campaign.
func (s *Store) GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, apperrors.NotFound("campaign", campaignID)
	}
	cp := *c
	return &cp, nil
}

// DeactivateCampaign clears the active flag.
func (s *Store) DeactivateCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, apperrors.NotFound("campaign", campaignID)
	}
	c.IsActive = false
	c.UpdatedAt = s.now()

	cp := *c
	return &cp, nil
}

// InsertCouponsBatch stores coupons that do not exist yet. A code already
// stored under the same batch counts as stored.
func (s *Store) InsertCouponsBatch(ctx context.Context, coupons []*model.Coupon) (int, []string, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := 0
	var conflicts []string
	for _, c := range coupons {
		if _, ok := s.campaigns[c.CampaignID]; !ok {
			return stored, conflicts, apperrors.NotFound("campaign", c.CampaignID)
		}
		if existing, ok := s.coupons[c.CouponCode]; ok {
			if existing.GenerationBatchID == c.GenerationBatchID {
				stored++
			} else {
				conflicts = append(conflicts, c.CouponCode)
			}
			continue
		}

		cp := *c
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = s.now()
		}
		s.coupons[cp.CouponCode] = &cp
		s.batches[cp.GenerationBatchID] = append(s.batches[cp.GenerationBatchID], cp.CouponCode)
		stored++
	}

	return stored, conflicts, nil
}

// FindCouponDetails returns the coupon with its campaign state.
func (s *Store) FindCouponDetails(ctx context.Context, code string) (*model.CouponDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[code]
	if !ok {
		return nil, apperrors.NotFound("coupon", code)
	}

	details := &model.CouponDetails{Coupon: *c}
	if campaign, ok := s.campaigns[c.CampaignID]; ok {
		details.CampaignActive = campaign.IsActive
	}
	return details, nil
}

// CountCoupons counts all coupons of a campaign.
func (s *Store) CountCoupons(ctx context.Context, campaignID string) (int, error) {
	return s.count(campaignID, func(*model.Coupon) bool { return true }), nil
}

// CountRedeemed counts redeemed coupons of a campaign.
func (s *Store) CountRedeemed(ctx context.Context, campaignID string) (int, error) {
	return s.count(campaignID, func(c *model.Coupon) bool { return c.IsRedeemed }), nil
}

func (s *Store) count(campaignID string, match func(*model.Coupon) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.coupons {
		if c.CampaignID == campaignID && match(c) {
			n++
		}
	}
	return n
}

// ListCodesByBatch pages through the codes of one batch in insertion order.
func (s *Store) ListCodesByBatch(ctx context.Context, batchID string, limit, offset int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := s.batches[batchID]
	if offset >= len(codes) {
		return []string{}, nil
	}
	end := offset + limit
	if end > len(codes) {
		end = len(codes)
	}

	out := make([]string, end-offset)
	copy(out, codes[offset:end])
	return out, nil
}

// RedeemCouponAtomic checks and redeems the coupon under the store lock.
func (s *Store) RedeemCouponAtomic(ctx context.Context, attempt model.RedemptionAttempt) (*model.RedemptionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coupon := s.coupons[attempt.CouponCode]
	var campaign *model.Campaign
	campaignID := ""
	if coupon != nil {
		campaignID = coupon.CampaignID
		campaign = s.campaigns[campaignID]
	}

	key := userKey{userID: attempt.UserID, campaignID: campaignID}
	userCount := 0
	if ur, ok := s.users[key]; ok {
		userCount = ur.RedemptionCount
	}

	if reason := model.CheckRedemption(coupon, campaign, userCount, attempt.UserID, attempt.At); reason != model.ReasonNone {
		s.appendHistory(attempt.History(campaignID, reason))
		return model.Rejected(reason, campaignID), nil
	}

	at := attempt.At
	userID := attempt.UserID
	coupon.IsRedeemed = true
	coupon.RedeemedAt = &at
	coupon.RedeemedBy = &userID

	campaign.CurrentRedemptions++
	campaign.UpdatedAt = at

	ur, ok := s.users[key]
	if !ok {
		ur = &model.UserRedemption{UserID: userID, CampaignID: campaignID}
		s.users[key] = ur
	}
	ur.RedemptionCount++
	ur.LastRedeemedAt = &at

	s.appendHistory(attempt.History(campaignID, model.ReasonNone))

	return &model.RedemptionOutcome{
		Success:    true,
		CampaignID: campaignID,
		RedeemedAt: &at,
	}, nil
}

// RecordAttempt appends one history row.
func (s *Store) RecordAttempt(ctx context.Context, history *model.RedemptionHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := *history
	s.appendHistory(&h)
	return nil
}

func (s *Store) appendHistory(h *model.RedemptionHistory) {
	h.RedemptionID = int64(len(s.history) + 1)
	s.history = append(s.history, h)
}

// History returns a snapshot of the redemption history.
func (s *Store) History() []model.RedemptionHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.RedemptionHistory, len(s.history))
	for i, h := range s.history {
		out[i] = *h
	}
	return out
}

// UserRedemptionCount returns how many coupons the user redeemed in the campaign.
func (s *Store) UserRedemptionCount(userID, campaignID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ur, ok := s.users[userKey{userID: userID, campaignID: campaignID}]; ok {
		return ur.RedemptionCount
	}
	return 0
}

// CreateGenerationRequest stores a new request.
func (s *Store) CreateGenerationRequest(ctx context.Context, req *model.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.RequestID]; exists {
		return apperrors.Conflict("REQUEST_EXISTS", fmt.Sprintf("generation request %q already exists", req.RequestID))
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}

	r := *req
	s.requests[r.RequestID] = &r
	return nil
}

// GetGenerationRequest returns a copy of the request.
func (s *Store) GetGenerationRequest(ctx context.Context, requestID string) (*model.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[requestID]
	if !ok {
		return nil, apperrors.NotFound("generation request", requestID)
	}
	cp := *r
	return &cp, nil
}

// MarkGenerationRunning moves a request to running.
func (s *Store) MarkGenerationRunning(ctx context.Context, requestID string, startedAt time.Time) error {
	return s.updateRequest(requestID, func(r *model.GenerationRequest) {
		r.Status = model.GenerationRunning
		r.StartedAt = &startedAt
	})
}

// UpdateGenerationProgress records the persisted count.
func (s *Store) UpdateGenerationProgress(ctx context.Context, requestID string, generated int) error {
	return s.updateRequest(requestID, func(r *model.GenerationRequest) {
		r.GeneratedAmount = generated
	})
}

// MarkGenerationCompleted finishes a request successfully.
func (s *Store) MarkGenerationCompleted(ctx context.Context, requestID string, generated int, completedAt time.Time) error {
	return s.updateRequest(requestID, func(r *model.GenerationRequest) {
		r.Status = model.GenerationCompleted
		r.GeneratedAmount = generated
		r.CompletedAt = &completedAt
	})
}

// MarkGenerationFailed finishes a request with a failure reason.
func (s *Store) MarkGenerationFailed(ctx context.Context, requestID string, generated int, reason string, completedAt time.Time) error {
	return s.updateRequest(requestID, func(r *model.GenerationRequest) {
		r.Status = model.GenerationFailed
		r.GeneratedAmount = generated
		r.FailureReason = &reason
		r.CompletedAt = &completedAt
	})
}

func (s *Store) updateRequest(requestID string, fn func(*model.GenerationRequest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[requestID]
	if !ok {
		return apperrors.NotFound("generation request", requestID)
	}
	fn(r)
	return nil
}
