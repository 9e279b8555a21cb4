// Command generator issues one batch of coupon codes outside the HTTP service
// and prints a sample of the result. With DB_DRIVER=memory it runs
// self-contained, which is handy for eyeballing code formats.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/codegen"
	"github.com/kkkkikiki/couponhub/internal/config"
	"github.com/kkkkikiki/couponhub/internal/database"
	"github.com/kkkkikiki/couponhub/internal/event"
	"github.com/kkkkikiki/couponhub/internal/logger"
	"github.com/kkkkikiki/couponhub/internal/model"
	"github.com/kkkkikiki/couponhub/internal/repository"
	"github.com/kkkkikiki/couponhub/internal/repository/memory"
	"github.com/kkkkikiki/couponhub/internal/service"
	"github.com/kkkkikiki/couponhub/internal/worker"
)

// Job describes the batch to issue.
type Job struct {
	CampaignID string        `env:"CAMPAIGN_ID,default=SAMPLE-CAMPAIGN"`
	Prefix     string        `env:"PREFIX,default=PROMO"`
	Amount     int           `env:"AMOUNT,default=1000"`
	Sample     int           `env:"SAMPLE,default=10"`
	Poll       time.Duration `env:"POLL_INTERVAL,default=200ms"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coupon generator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var job Job
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &job,
		Lookuper: envconfig.PrefixLookuper("GENERATOR_", envconfig.OsLookuper()),
	}); err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	log := logger.New(cfg.App.ServiceName+"-generator", cfg.App.EffectiveLogLevel())

	var store service.Store = memory.New()
	if cfg.Database.Driver != "memory" {
		db, err := database.NewDB(ctx, &cfg.Database, log)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("error closing database connections", slog.String("error", err.Error()))
			}
		}()
		store = repository.NewStore(db.Postgres)
	} else {
		log.Info("no database configured; generating into memory")
	}

	pool := worker.NewPool(1, 1, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			log.Error("worker pool did not drain", slog.String("error", err.Error()))
		}
	}()

	registry := service.NewCampaignRegistry(store, nil, log)
	issuer := service.NewBatchIssuer(registry, store, store, pool, codegen.New(), event.NopPublisher{}, service.IssuerConfig{
		ChunkSize:     cfg.Generation.ChunkSize,
		DefaultExpiry: cfg.Generation.DefaultExpiry,
		MaxRetries:    cfg.Generation.MaxRetries,
	}, log)

	return generate(ctx, job, registry, issuer, os.Stdout, log)
}

// generate ensures the campaign exists, issues the batch, waits for it to
// finish and writes a sample of the codes to out.
func generate(ctx context.Context, job Job, registry *service.CampaignRegistry, issuer *service.BatchIssuer, out io.Writer, log *slog.Logger) error {
	if err := ensureCampaign(ctx, registry, job.CampaignID); err != nil {
		return err
	}

	accepted, err := issuer.RequestGeneration(ctx, &service.GenerationInput{
		CampaignID:  job.CampaignID,
		Prefix:      job.Prefix,
		Amount:      job.Amount,
		RequestedBy: "generator",
	})
	if err != nil {
		return fmt.Errorf("request generation: %w", err)
	}
	requestID := accepted.Request.RequestID

	started := time.Now()
	req, err := waitTerminal(ctx, issuer, requestID, job.Poll)
	if err != nil {
		return err
	}
	if req.Status == model.GenerationFailed {
		reason := ""
		if req.FailureReason != nil {
			reason = *req.FailureReason
		}
		return fmt.Errorf("generation %s failed after %d codes: %s", requestID, req.GeneratedAmount, reason)
	}

	log.Info("generation finished",
		slog.String("request_id", requestID),
		slog.Int("generated", req.GeneratedAmount),
		slog.Duration("elapsed", time.Since(started)),
	)

	fmt.Fprintf(out, "generated %d codes for campaign %s (batch %s)\n", req.GeneratedAmount, job.CampaignID, req.BatchID)
	if job.Sample <= 0 {
		return nil
	}
	page, err := issuer.ListBatchCodes(ctx, requestID, min(job.Sample, req.GeneratedAmount), 0)
	if err != nil {
		return fmt.Errorf("list codes: %w", err)
	}
	for _, code := range page.Codes {
		fmt.Fprintln(out, code)
	}
	return nil
}

func ensureCampaign(ctx context.Context, registry *service.CampaignRegistry, campaignID string) error {
	_, err := registry.GetCampaign(ctx, campaignID)
	if err == nil {
		return nil
	}
	if !apperrors.Is(err, apperrors.KindNotFound) {
		return fmt.Errorf("look up campaign: %w", err)
	}

	now := time.Now()
	_, err = registry.CreateCampaign(ctx, &service.CreateCampaignInput{
		CampaignID: campaignID,
		Name:       campaignID,
		StartDate:  now,
		EndDate:    now.AddDate(1, 0, 0),
	})
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func waitTerminal(ctx context.Context, issuer *service.BatchIssuer, requestID string, every time.Duration) (*model.GenerationRequest, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		req, err := issuer.GetGenerationRequest(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("get generation request: %w", err)
		}
		if req.Status.Terminal() {
			return req, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
