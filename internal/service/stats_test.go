package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponhub/internal/codegen"
	"github.com/kkkkikiki/couponhub/internal/logger"
	"github.com/kkkkikiki/couponhub/internal/metrics"
	"github.com/kkkkikiki/couponhub/internal/model"
)

type mockCouponStore struct {
	mock.Mock
}

func (m *mockCouponStore) InsertCouponsBatch(ctx context.Context, coupons []*model.Coupon) (int, []string, error) {
	args := m.Called(ctx, coupons)
	return args.Int(0), nil, args.Error(2)
}

func (m *mockCouponStore) FindCouponDetails(ctx context.Context, code string) (*model.CouponDetails, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CouponDetails), args.Error(1)
}

func (m *mockCouponStore) CountCoupons(ctx context.Context, campaignID string) (int, error) {
	args := m.Called(ctx, campaignID)
	return args.Int(0), args.Error(1)
}

func (m *mockCouponStore) CountRedeemed(ctx context.Context, campaignID string) (int, error) {
	args := m.Called(ctx, campaignID)
	return args.Int(0), args.Error(1)
}

func (m *mockCouponStore) ListCodesByBatch(ctx context.Context, batchID string, limit, offset int) ([]string, error) {
	args := m.Called(ctx, batchID, limit, offset)
	return args.Get(0).([]string), args.Error(1)
}

func TestGetStats_Counts(t *testing.T) {
	store := new(mockCouponStore)
	store.On("CountCoupons", mock.Anything, "c1").Return(10, nil)
	store.On("CountRedeemed", mock.Anything, "c1").Return(3, nil)

	stats := NewStatsAggregator(store, logger.Discard()).GetStats(context.Background(), "c1")
	assert.Equal(t, &CampaignStats{CampaignID: "c1", TotalGenerated: 10, TotalUsed: 3, TotalAvailable: 7}, stats)
	store.AssertExpectations(t)
}

func TestGetStats_FallbackIsLogged(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*mockCouponStore)
	}{
		{
			name: "count coupons fails",
			setup: func(m *mockCouponStore) {
				m.On("CountCoupons", mock.Anything, "c1").Return(0, errors.New("db down"))
			},
		},
		{
			name: "count redeemed fails",
			setup: func(m *mockCouponStore) {
				m.On("CountCoupons", mock.Anything, "c1").Return(4, nil)
				m.On("CountRedeemed", mock.Anything, "c1").Return(0, errors.New("db down"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockCouponStore)
			tt.setup(store)
			logs := &syncBuffer{}
			agg := NewStatsAggregator(store, logger.NewWithWriter("svc", "info", logs))
			before := testutil.ToFloat64(metrics.StatsFallbackTotal)

			stats := agg.GetStats(context.Background(), "c1")
			assert.Equal(t, &CampaignStats{CampaignID: "c1"}, stats)
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.StatsFallbackTotal))

			lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
			require.Len(t, lines, 1)
			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
			assert.Equal(t, "ERROR", entry["level"])
			assert.Equal(t, "c1", entry["campaign_id"])
			assert.Equal(t, "db down", entry["error"])
		})
	}
}

// Generate 5 PROMO coupons for c1, redeem one with u1, then u2 retries it.
func TestStats_GenerateRedeemScenario(t *testing.T) {
	env := newTestEnv(t)
	env.campaign(t, "c1")
	issuer, _ := newTestIssuer(t, env, env.store, codegen.New(), 1000)

	accepted, err := issuer.RequestGeneration(context.Background(), &GenerationInput{CampaignID: "c1", Prefix: "PROMO", Amount: 5})
	require.NoError(t, err)
	req := waitForStatus(t, env, accepted.Request.RequestID)
	require.Equal(t, model.GenerationCompleted, req.Status)

	stats := env.stats.GetStats(context.Background(), "c1")
	assert.Equal(t, 5, stats.TotalGenerated)
	assert.Equal(t, 0, stats.TotalUsed)
	assert.Equal(t, 5, stats.TotalAvailable)

	page, err := issuer.ListBatchCodes(context.Background(), req.RequestID, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Codes, 5)
	code := page.Codes[0]
	assert.True(t, strings.HasPrefix(code, "PROMO-"))

	assert.True(t, redeem(t, env, code, "u1").Success)

	stats = env.stats.GetStats(context.Background(), "c1")
	assert.Equal(t, 1, stats.TotalUsed)
	assert.Equal(t, 4, stats.TotalAvailable)

	res := redeem(t, env, code, "u2")
	assert.False(t, res.Success)
	assert.Equal(t, model.ReasonAlreadyRedeemed, res.Reason)
}
