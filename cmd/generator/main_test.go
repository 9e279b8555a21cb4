package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/codegen"
	"github.com/kkkkikiki/couponhub/internal/event"
	"github.com/kkkkikiki/couponhub/internal/logger"
	"github.com/kkkkikiki/couponhub/internal/repository/memory"
	"github.com/kkkkikiki/couponhub/internal/service"
	"github.com/kkkkikiki/couponhub/internal/worker"
)

func newIssuer(t *testing.T) (*service.CampaignRegistry, *service.BatchIssuer) {
	t.Helper()

	log := logger.NewWithWriter("generator-test", "error", io.Discard)
	store := memory.New()
	pool := worker.NewPool(1, 4, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	registry := service.NewCampaignRegistry(store, nil, log)
	issuer := service.NewBatchIssuer(registry, store, store, pool, codegen.New(), event.NopPublisher{}, service.IssuerConfig{
		ChunkSize:     4,
		DefaultExpiry: 24 * time.Hour,
		MaxRetries:    1,
	}, log)
	return registry, issuer
}

func TestGenerate_PrintsSample(t *testing.T) {
	registry, issuer := newIssuer(t)
	var out bytes.Buffer

	job := Job{CampaignID: "SAMPLE", Prefix: "PROMO", Amount: 10, Sample: 3, Poll: 5 * time.Millisecond}
	err := generate(context.Background(), job, registry, issuer, &out, logger.NewWithWriter("t", "error", io.Discard))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "generated 10 codes for campaign SAMPLE")
	for _, code := range lines[1:] {
		assert.True(t, strings.HasPrefix(code, "PROMO"), code)
	}

	campaign, err := registry.GetCampaign(context.Background(), "SAMPLE")
	require.NoError(t, err)
	assert.True(t, campaign.IsActive)
}

func TestGenerate_ReusesExistingCampaign(t *testing.T) {
	registry, issuer := newIssuer(t)
	ctx := context.Background()

	now := time.Now()
	_, err := registry.CreateCampaign(ctx, &service.CreateCampaignInput{
		CampaignID: "EXISTING",
		Name:       "Existing campaign",
		StartDate:  now.Add(-time.Hour),
		EndDate:    now.Add(time.Hour),
	})
	require.NoError(t, err)

	var out bytes.Buffer
	job := Job{CampaignID: "EXISTING", Prefix: "X", Amount: 2, Sample: 0, Poll: 5 * time.Millisecond}
	require.NoError(t, generate(ctx, job, registry, issuer, &out, logger.NewWithWriter("t", "error", io.Discard)))

	assert.Equal(t, "generated 2 codes for campaign EXISTING", strings.TrimSpace(out.String()))
	campaign, err := registry.GetCampaign(ctx, "EXISTING")
	require.NoError(t, err)
	assert.Equal(t, "Existing campaign", campaign.Name)
}

func TestGenerate_InvalidJob(t *testing.T) {
	registry, issuer := newIssuer(t)

	job := Job{CampaignID: "SAMPLE", Prefix: "not-alnum!", Amount: 5, Poll: 5 * time.Millisecond}
	err := generate(context.Background(), job, registry, issuer, io.Discard, logger.NewWithWriter("t", "error", io.Discard))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}
