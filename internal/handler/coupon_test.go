package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponhub/internal/api"
	"github.com/kkkkikiki/couponhub/internal/codegen"
	"github.com/kkkkikiki/couponhub/internal/event"
	"github.com/kkkkikiki/couponhub/internal/logger"
	"github.com/kkkkikiki/couponhub/internal/model"
	"github.com/kkkkikiki/couponhub/internal/repository/memory"
	"github.com/kkkkikiki/couponhub/internal/service"
	"github.com/kkkkikiki/couponhub/internal/worker"
)

// ============================================================================
// Helpers
// ============================================================================

type testServer struct {
	router http.Handler
	store  *memory.Store
}

func setupRouter(t *testing.T, db Pinger) *testServer {
	t.Helper()
	log := logger.Discard()
	store := memory.New()
	if db == nil {
		db = store
	}

	pool := worker.NewPool(2, 8, log)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	registry := service.NewCampaignRegistry(store, nil, log)
	issuer := service.NewBatchIssuer(registry, store, store, pool, codegen.New(), event.NopPublisher{}, service.IssuerConfig{
		ChunkSize:     100,
		DefaultExpiry: 24 * time.Hour,
		EstimatedRate: 1000,
		MaxRetries:    3,
		Topic:         "coupon.generation",
	}, log)
	coordinator := service.NewRedemptionCoordinator(store, store, registry, event.NopPublisher{}, "coupon.redemptions", log)
	stats := service.NewStatsAggregator(store, log)

	rpcPath, rpcHandler := api.NewCouponServiceHandler(service.NewCouponServer(registry, issuer, coordinator, stats, log))
	router := NewRouter(
		NewCouponHandler(registry, issuer, coordinator, stats, log),
		NewHealthHandler("coupon-service", db, log),
		rpcPath, rpcHandler, log,
	)

	return &testServer{router: router, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createCampaign(t *testing.T, id string, amount *decimal.Decimal) {
	t.Helper()
	now := time.Now()
	rec := s.do(t, http.MethodPost, "/campaigns", api.CreateCampaignRequest{
		CampaignID:     id,
		Name:           "Summer sale",
		StartDate:      now.Add(-time.Hour),
		EndDate:        now.Add(time.Hour),
		DiscountAmount: amount,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) seedCoupon(t *testing.T, campaignID string) string {
	t.Helper()
	code, err := codegen.New().Generate("SEED")
	require.NoError(t, err)
	_, _, err = s.store.InsertCouponsBatch(context.Background(), []*model.Coupon{{
		CouponCode:        code,
		CampaignID:        campaignID,
		ExpiresAt:         time.Now().Add(time.Hour),
		GenerationBatchID: "seed",
	}})
	require.NoError(t, err)
	return code
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

// ============================================================================
// Campaigns, generation and redemption
// ============================================================================

func TestCouponHandler_EndToEnd(t *testing.T) {
	s := setupRouter(t, nil)
	amount := decimal.RequireFromString("5.00")
	s.createCampaign(t, "c1", &amount)

	rec := s.do(t, http.MethodPost, "/campaigns", api.CreateCampaignRequest{
		CampaignID: "c1", Name: "dup", StartDate: time.Now(), EndDate: time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CAMPAIGN_EXISTS", decode[errorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/campaigns/c1/generate", map[string]any{"prefix": "PROMO", "amount": 5})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	accepted := decode[api.RequestGenerationResponse](t, rec)
	assert.Equal(t, "c1", accepted.CampaignID)
	assert.Equal(t, model.GenerationPending, accepted.Status)
	assert.False(t, accepted.EstimatedCompletionTime.IsZero())

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generation-requests/"+accepted.RequestID, nil))
		var req model.GenerationRequest
		return json.Unmarshal(rec.Body.Bytes(), &req) == nil && req.Status == model.GenerationCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = s.do(t, http.MethodGet, "/generation-requests/"+accepted.RequestID+"/codes?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[api.ListBatchCodesResponse](t, rec)
	require.Len(t, page.Codes, 2)
	code := page.Codes[0]

	rec = s.do(t, http.MethodPost, "/redeem", api.RedeemCouponRequest{CouponCode: code, UserID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	redeemed := decode[api.RedeemCouponResponse](t, rec)
	assert.True(t, redeemed.Success)
	assert.Equal(t, "c1", redeemed.CampaignID)
	assert.Equal(t, "amount", redeemed.DiscountType)
	require.NotNil(t, redeemed.Discount)
	assert.True(t, redeemed.Discount.Equal(amount))
	assert.NotNil(t, redeemed.RedeemedAt)

	rec = s.do(t, http.MethodPost, "/redeem", api.RedeemCouponRequest{CouponCode: code, UserID: "u2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rejected := decode[errorResponse](t, rec)
	assert.Equal(t, "ALREADY_REDEEMED", rejected.Error)
	assert.NotEmpty(t, rejected.Message)

	rec = s.do(t, http.MethodGet, "/coupon/"+code, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[api.CouponStatusResponse](t, rec)
	assert.True(t, status.Redeemed)
	assert.False(t, status.Valid)

	rec = s.do(t, http.MethodGet, "/campaigns/c1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, api.CampaignStatsResponse{CampaignID: "c1", TotalGenerated: 5, TotalUsed: 1, TotalAvailable: 4},
		decode[api.CampaignStatsResponse](t, rec))

	rec = s.do(t, http.MethodPost, "/generation-requests/"+accepted.RequestID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "GENERATION_FINISHED", decode[errorResponse](t, rec).Error)
}

func TestCouponHandler_Discount(t *testing.T) {
	s := setupRouter(t, nil)
	amount := decimal.NewFromInt(10)
	s.createCampaign(t, "fixed", &amount)
	s.createCampaign(t, "plain", nil)

	rec := s.do(t, http.MethodGet, "/campaigns/fixed/discount", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"campaignId":"fixed","discount":{"type":"amount","value":"10"}}`, rec.Body.String())

	for _, id := range []string{"plain", "missing"} {
		rec = s.do(t, http.MethodGet, "/campaigns/"+id+"/discount", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"campaignId":"`+id+`","discount":null}`, rec.Body.String())
	}
}

func TestCouponHandler_DeactivatedCampaignRejectsRedemption(t *testing.T) {
	s := setupRouter(t, nil)
	s.createCampaign(t, "c1", nil)
	code := s.seedCoupon(t, "c1")

	rec := s.do(t, http.MethodPost, "/campaigns/c1/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.Campaign](t, rec).IsActive)

	rec = s.do(t, http.MethodGet, "/coupon/"+code, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[api.CouponStatusResponse](t, rec).Valid)

	rec = s.do(t, http.MethodPost, "/redeem", api.RedeemCouponRequest{CouponCode: code, UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CAMPAIGN_INACTIVE", decode[errorResponse](t, rec).Error)
}

func TestCouponHandler_BadRequests(t *testing.T) {
	s := setupRouter(t, nil)
	s.createCampaign(t, "c1", nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"malformed redeem body", http.MethodPost, "/redeem", "{not json", http.StatusBadRequest, "INVALID_INPUT"},
		{"missing user", http.MethodPost, "/redeem", map[string]string{"couponCode": "PROMO-X"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown coupon", http.MethodPost, "/redeem", map[string]string{"couponCode": "PROMO-X", "userId": "u1"}, http.StatusBadRequest, "NOT_FOUND"},
		{"unknown campaign", http.MethodGet, "/campaigns/missing", nil, http.StatusNotFound, "NOT_FOUND"},
		{"generate for unknown campaign", http.MethodPost, "/campaigns/missing/generate", map[string]any{"prefix": "PROMO", "amount": 1}, http.StatusNotFound, "NOT_FOUND"},
		{"generate zero amount", http.MethodPost, "/campaigns/c1/generate", map[string]any{"prefix": "PROMO", "amount": 0}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"generate bad prefix", http.MethodPost, "/campaigns/c1/generate", map[string]any{"prefix": "PRO-MO", "amount": 1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown generation request", http.MethodGet, "/generation-requests/gen-req-x", nil, http.StatusNotFound, "NOT_FOUND"},
		{"non numeric limit", http.MethodGet, "/generation-requests/gen-req-x/codes?limit=abc", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown coupon status", http.MethodGet, "/coupon/PROMO-X", nil, http.StatusNotFound, "NOT_FOUND"},
		{"end before start", http.MethodPost, "/campaigns", map[string]any{
			"campaignId": "c2", "name": "x",
			"startDate": "2026-05-02T00:00:00Z", "endDate": "2026-05-01T00:00:00Z",
		}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestCouponHandler_RedeemRecordsClientAddress(t *testing.T) {
	s := setupRouter(t, nil)
	s.createCampaign(t, "c1", nil)
	code := s.seedCoupon(t, "c1")

	raw, err := json.Marshal(api.RedeemCouponRequest{CouponCode: code, UserID: "u1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/redeem", bytes.NewReader(raw))
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("User-Agent", "checkout/1.0")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	history := s.store.History()
	require.Len(t, history, 1)
	require.NotNil(t, history[0].IPAddress)
	assert.Equal(t, "203.0.113.7", *history[0].IPAddress)
	require.NotNil(t, history[0].UserAgent)
	assert.Equal(t, "checkout/1.0", *history[0].UserAgent)
}

// ============================================================================
// RPC, health and middleware
// ============================================================================

func TestRouter_MountsRPC(t *testing.T) {
	s := setupRouter(t, nil)
	s.createCampaign(t, "c1", nil)
	s.seedCoupon(t, "c1")

	rec := s.do(t, http.MethodPost, api.GetCampaignStatsProcedure, map[string]string{"campaignId": "c1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, api.CampaignStatsResponse{CampaignID: "c1", TotalGenerated: 1, TotalAvailable: 1},
		decode[api.CampaignStatsResponse](t, rec))
}

func TestHealthHandler(t *testing.T) {
	s := setupRouter(t, nil)

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "coupon-service", body["service"])

	rec = s.do(t, http.MethodGet, "/health/db", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := setupRouter(t, failingPinger{})
	rec = down.do(t, http.MethodGet, "/health/db", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[map[string]string](t, rec)["status"])
}

func TestRouter_ExposesMetrics(t *testing.T) {
	s := setupRouter(t, nil)
	s.do(t, http.MethodGet, "/health", nil)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "coupon_http_request_duration_seconds"))
}

func TestRecovery(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Recovery(logger.Discard()))
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode[errorResponse](t, rec).Error)
}
