package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponhub/internal/codegen"
	"github.com/kkkkikiki/couponhub/internal/logger"
	"github.com/kkkkikiki/couponhub/internal/model"
	"github.com/kkkkikiki/couponhub/internal/repository/memory"
	"github.com/kkkkikiki/couponhub/internal/worker"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type publishedEvent struct {
	topic     string
	key       string
	eventType string
	data      any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, key: key, eventType: eventType, data: data})
	return nil
}

func (p *recordingPublisher) snapshot() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

type testEnv struct {
	store       *memory.Store
	registry    *CampaignRegistry
	coordinator *RedemptionCoordinator
	stats       *StatsAggregator
	publisher   *recordingPublisher
	logs        *syncBuffer
	now         time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logs := &syncBuffer{}
	log := logger.NewWithWriter("coupon-service-test", "debug", logs)
	store := memory.New()
	pub := &recordingPublisher{}
	registry := NewCampaignRegistry(store, nil, log)

	env := &testEnv{
		store:       store,
		registry:    registry,
		coordinator: NewRedemptionCoordinator(store, store, registry, pub, "coupon.redemptions", log),
		stats:       NewStatsAggregator(store, log),
		publisher:   pub,
		logs:        logs,
		now:         time.Now(),
	}
	env.coordinator.now = func() time.Time { return env.now }
	return env
}

type campaignOpt func(*model.Campaign)

func (e *testEnv) campaign(t *testing.T, id string, opts ...campaignOpt) *model.Campaign {
	t.Helper()
	c := &model.Campaign{
		CampaignID:            id,
		Name:                  id,
		StartDate:             e.now.Add(-24 * time.Hour),
		EndDate:               e.now.Add(24 * time.Hour),
		MaxRedemptionsPerUser: 1,
		IsActive:              true,
	}
	for _, opt := range opts {
		opt(c)
	}
	require.NoError(t, e.store.CreateCampaign(context.Background(), c))
	return c
}

// coupon stores a valid coupon for the campaign and returns its code.
func (e *testEnv) coupon(t *testing.T, campaignID string, mutate ...func(*model.Coupon)) string {
	t.Helper()
	code, err := codegen.New().Generate("PROMO")
	require.NoError(t, err)

	c := &model.Coupon{
		CouponCode:        code,
		CampaignID:        campaignID,
		ExpiresAt:         e.now.Add(time.Hour),
		GenerationBatchID: "seed",
	}
	for _, m := range mutate {
		m(c)
	}
	stored, conflicts, err := e.store.InsertCouponsBatch(context.Background(), []*model.Coupon{c})
	require.NoError(t, err)
	require.Equal(t, 1, stored)
	require.Empty(t, conflicts)
	return code
}

func newTestIssuer(t *testing.T, env *testEnv, coupons CouponStore, gen CodeGenerator, chunk int) (*BatchIssuer, *worker.Pool) {
	t.Helper()
	log := logger.NewWithWriter("coupon-service-test", "debug", env.logs)
	pool := worker.NewPool(2, 8, log)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	issuer := NewBatchIssuer(env.registry, coupons, env.store, pool, gen, env.publisher, IssuerConfig{
		ChunkSize:     chunk,
		DefaultExpiry: 365 * 24 * time.Hour,
		EstimatedRate: 1000,
		MaxRetries:    3,
		Topic:         "coupon.generation",
	}, log)
	issuer.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return issuer, pool
}

// waitForStatus blocks until the request reaches a terminal state.
func waitForStatus(t *testing.T, env *testEnv, requestID string) *model.GenerationRequest {
	t.Helper()
	var req *model.GenerationRequest
	require.Eventually(t, func() bool {
		r, err := env.store.GetGenerationRequest(context.Background(), requestID)
		if err != nil {
			return false
		}
		req = r
		return r.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return req
}
