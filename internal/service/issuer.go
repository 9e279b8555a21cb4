package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/event"
	"github.com/kkkkikiki/couponhub/internal/metrics"
	"github.com/kkkkikiki/couponhub/internal/model"
	"github.com/kkkkikiki/couponhub/internal/validator"
	"github.com/kkkkikiki/couponhub/internal/worker"
)

const (
	// MaxGenerationAmount caps a single generation request.
	MaxGenerationAmount = 1_000_000

	defaultCodesPageSize = 100
	maxCodesPageSize     = 1000

	// maxBarrenChunks is how many consecutive chunks may store nothing
	// before the code space is considered exhausted.
	maxBarrenChunks = 3

	finishTimeout = 10 * time.Second
)

var errCodeSpaceExhausted = errors.New("code space exhausted: could not generate enough unique codes")

// CodeGenerator produces candidate coupon codes.
type CodeGenerator interface {
	Generate(prefix string) (string, error)
}

// IssuerConfig tunes batch generation.
type IssuerConfig struct {
	ChunkSize     int
	DefaultExpiry time.Duration
	EstimatedRate int
	MaxRetries    uint64
	Topic         string
}

// GenerationInput describes a batch to generate.
type GenerationInput struct {
	CampaignID     string `validate:"required,max=64"`
	Prefix         string `validate:"required,alphanum,max=20"`
	Amount         int    `validate:"gte=1,lte=1000000"`
	ExpirationDate *time.Time
	RequestedBy    string `validate:"omitempty,max=128"`
}

// GenerationAccepted is returned as soon as a request is queued.
type GenerationAccepted struct {
	Request                 *model.GenerationRequest
	EstimatedCompletionTime time.Time
}

// BatchCodes is one page of codes generated by a request.
type BatchCodes struct {
	RequestID string   `json:"requestId"`
	BatchID   string   `json:"batchId"`
	Codes     []string `json:"codes"`
	Limit     int      `json:"limit"`
	Offset    int      `json:"offset"`
}

// BatchIssuer runs generation requests on the worker pool and tracks them
// in the generation store.
type BatchIssuer struct {
	registry   *CampaignRegistry
	coupons    CouponStore
	requests   GenerationStore
	pool       *worker.Pool
	generator  CodeGenerator
	publisher  Publisher
	cfg        IssuerConfig
	logger     *slog.Logger
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// NewBatchIssuer creates a batch issuer.
func NewBatchIssuer(
	registry *CampaignRegistry,
	coupons CouponStore,
	requests GenerationStore,
	pool *worker.Pool,
	generator CodeGenerator,
	publisher Publisher,
	cfg IssuerConfig,
	logger *slog.Logger,
) *BatchIssuer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.EstimatedRate <= 0 {
		cfg.EstimatedRate = 50000
	}

	return &BatchIssuer{
		registry:  registry,
		coupons:   coupons,
		requests:  requests,
		pool:      pool,
		generator: generator,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newBackOff: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 100 * time.Millisecond
			eb.MaxInterval = 5 * time.Second
			eb.MaxElapsedTime = time.Minute
			return eb
		},
	}
}

// RequestGeneration validates the input, records a pending request and
// queues the work. It returns before any code is generated.
func (b *BatchIssuer) RequestGeneration(ctx context.Context, in *GenerationInput) (*GenerationAccepted, error) {
	in.CampaignID = strings.TrimSpace(in.CampaignID)
	in.Prefix = strings.TrimSpace(in.Prefix)
	if err := validator.Validate(in); err != nil {
		return nil, err
	}

	now := b.now()
	expiration := now.Add(b.cfg.DefaultExpiry)
	if in.ExpirationDate != nil {
		if !in.ExpirationDate.After(now) {
			return nil, apperrors.Validation("expirationDate must be in the future",
				map[string]string{"expirationDate": "must be in the future"})
		}
		expiration = *in.ExpirationDate
	}

	if _, err := b.registry.GetCampaign(ctx, in.CampaignID); err != nil {
		return nil, err
	}

	req := &model.GenerationRequest{
		RequestID:       "gen-req-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		CampaignID:      in.CampaignID,
		RequestedAmount: in.Amount,
		Prefix:          in.Prefix,
		ExpirationDate:  expiration,
		BatchID:         uuid.NewString(),
		Status:          model.GenerationPending,
		RequestedBy:     in.RequestedBy,
		CreatedAt:       now,
	}
	if err := b.requests.CreateGenerationRequest(ctx, req); err != nil {
		return nil, err
	}

	task := *req
	if _, err := b.pool.Submit(req.RequestID, func(ctx context.Context) error {
		return b.run(ctx, &task)
	}); err != nil {
		b.logger.ErrorContext(ctx, "failed to queue generation request",
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()),
		)
		reason := "not queued: " + err.Error()
		if markErr := b.requests.MarkGenerationFailed(ctx, req.RequestID, 0, reason, b.now()); markErr != nil {
			b.logger.ErrorContext(ctx, "failed to mark generation request failed",
				slog.String("request_id", req.RequestID),
				slog.String("error", markErr.Error()),
			)
		}
		return nil, apperrors.Transient(err)
	}

	b.logger.InfoContext(ctx, "generation request queued",
		slog.String("request_id", req.RequestID),
		slog.String("campaign_id", req.CampaignID),
		slog.Int("amount", req.RequestedAmount),
	)

	return &GenerationAccepted{
		Request:                 req,
		EstimatedCompletionTime: now.Add(b.estimate(in.Amount)),
	}, nil
}

// GetGenerationRequest returns the durable state of a request.
func (b *BatchIssuer) GetGenerationRequest(ctx context.Context, requestID string) (*model.GenerationRequest, error) {
	return b.requests.GetGenerationRequest(ctx, requestID)
}

// CancelGeneration cancels a request that is queued or running on this
// instance. The task records the failed status when it stops.
func (b *BatchIssuer) CancelGeneration(ctx context.Context, requestID string) (*model.GenerationRequest, error) {
	req, err := b.requests.GetGenerationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, apperrors.Conflict("GENERATION_FINISHED",
			fmt.Sprintf("generation request %q is already %s", requestID, req.Status))
	}
	if !b.pool.Cancel(requestID) {
		return nil, apperrors.Conflict("GENERATION_NOT_RUNNING",
			fmt.Sprintf("generation request %q is not running on this instance", requestID))
	}

	b.logger.InfoContext(ctx, "generation cancel requested", slog.String("request_id", requestID))
	return req, nil
}

// ListBatchCodes pages through the codes generated by a request.
func (b *BatchIssuer) ListBatchCodes(ctx context.Context, requestID string, limit, offset int) (*BatchCodes, error) {
	if limit == 0 {
		limit = defaultCodesPageSize
	}
	if limit < 0 || limit > maxCodesPageSize || offset < 0 {
		return nil, apperrors.Validation("invalid page",
			map[string]string{"limit": fmt.Sprintf("must be between 1 and %d", maxCodesPageSize), "offset": "must not be negative"})
	}

	req, err := b.requests.GetGenerationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	codes, err := b.coupons.ListCodesByBatch(ctx, req.BatchID, limit, offset)
	if err != nil {
		return nil, err
	}

	return &BatchCodes{
		RequestID: requestID,
		BatchID:   req.BatchID,
		Codes:     codes,
		Limit:     limit,
		Offset:    offset,
	}, nil
}

func (b *BatchIssuer) estimate(amount int) time.Duration {
	d := time.Duration(float64(amount) / float64(b.cfg.EstimatedRate) * float64(time.Second))
	if d < time.Second {
		return time.Second
	}
	return d
}

// run generates the batch and always records a terminal status, including
// when generation panics.
func (b *BatchIssuer) run(ctx context.Context, req *model.GenerationRequest) (err error) {
	started := time.Now()
	persisted := 0
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation panicked: %v", r)
		}
		b.finish(ctx, req, persisted, err, started)
	}()

	return b.generate(ctx, req, &persisted)
}

// generate stores codes until the requested amount is reached. persisted
// tracks the stored count as chunks land.
func (b *BatchIssuer) generate(ctx context.Context, req *model.GenerationRequest, persisted *int) error {
	if err := b.requests.MarkGenerationRunning(ctx, req.RequestID, b.now()); err != nil {
		return fmt.Errorf("mark generation running: %w", err)
	}

	seen := make(map[string]struct{}, req.RequestedAmount)
	barren := 0

	for *persisted < req.RequestedAmount {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := min(b.cfg.ChunkSize, req.RequestedAmount-*persisted)
		chunk, err := b.nextChunk(req, n, seen)
		if err != nil {
			return err
		}

		stored, conflicts, err := b.insertChunk(ctx, req, chunk)
		if err != nil {
			return err
		}
		*persisted += stored
		metrics.CouponsGeneratedTotal.Add(float64(stored))

		if len(conflicts) > 0 {
			metrics.DuplicatesAvoidedTotal.Add(float64(len(conflicts)))
			b.logger.DebugContext(ctx, "regenerating codes that already exist",
				slog.String("request_id", req.RequestID),
				slog.Int("conflicts", len(conflicts)),
			)
		}

		if stored == 0 {
			barren++
			if barren >= maxBarrenChunks {
				return errCodeSpaceExhausted
			}
		} else {
			barren = 0
		}

		if err := b.requests.UpdateGenerationProgress(ctx, req.RequestID, *persisted); err != nil {
			b.logger.WarnContext(ctx, "failed to record generation progress",
				slog.String("request_id", req.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// nextChunk draws n codes not seen before in this request.
func (b *BatchIssuer) nextChunk(req *model.GenerationRequest, n int, seen map[string]struct{}) ([]*model.Coupon, error) {
	chunk := make([]*model.Coupon, 0, n)
	duplicates := 0
	createdAt := b.now()

	for len(chunk) < n {
		code, err := b.generator.Generate(req.Prefix)
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		if _, ok := seen[code]; ok {
			duplicates++
			metrics.DuplicatesAvoidedTotal.Inc()
			if duplicates > 10*n+100 {
				return nil, errCodeSpaceExhausted
			}
			continue
		}
		seen[code] = struct{}{}

		chunk = append(chunk, &model.Coupon{
			CouponCode:        code,
			CampaignID:        req.CampaignID,
			ExpiresAt:         req.ExpirationDate,
			GenerationBatchID: req.BatchID,
			CreatedAt:         createdAt,
		})
	}

	return chunk, nil
}

// insertChunk stores a chunk, retrying transient failures with backoff.
func (b *BatchIssuer) insertChunk(ctx context.Context, req *model.GenerationRequest, chunk []*model.Coupon) (int, []string, error) {
	var (
		stored    int
		conflicts []string
	)

	op := func() error {
		var err error
		stored, conflicts, err = b.coupons.InsertCouponsBatch(ctx, chunk)
		if err != nil && !apperrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		b.logger.WarnContext(ctx, "coupon chunk insert failed, retrying",
			slog.String("request_id", req.RequestID),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b.newBackOff(), b.cfg.MaxRetries), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return 0, nil, fmt.Errorf("insert coupon chunk: %w", err)
	}

	return stored, conflicts, nil
}

// finish records the terminal status. It runs even when ctx is canceled.
func (b *BatchIssuer) finish(ctx context.Context, req *model.GenerationRequest, generated int, genErr error, started time.Time) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	completedAt := b.now()
	status := model.GenerationCompleted
	reason := ""

	var err error
	if genErr != nil {
		status = model.GenerationFailed
		reason = failureReason(genErr)
		err = b.requests.MarkGenerationFailed(fctx, req.RequestID, generated, reason, completedAt)
	} else {
		err = b.requests.MarkGenerationCompleted(fctx, req.RequestID, generated, completedAt)
	}
	if err != nil {
		b.logger.ErrorContext(fctx, "failed to record generation status",
			slog.String("request_id", req.RequestID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}

	metrics.RecordGenerationFinished(string(status), time.Since(started).Seconds())

	attrs := []any{
		slog.String("request_id", req.RequestID),
		slog.String("campaign_id", req.CampaignID),
		slog.Int("requested", req.RequestedAmount),
		slog.Int("generated", generated),
		slog.Duration("elapsed", time.Since(started)),
	}
	eventType := event.TypeGenerationCompleted
	if genErr != nil {
		eventType = event.TypeGenerationFailed
		b.logger.ErrorContext(fctx, "generation request failed", append(attrs, slog.String("reason", reason))...)
	} else {
		b.logger.InfoContext(fctx, "generation request completed", attrs...)
	}

	data := event.GenerationFinishedData{
		RequestID:       req.RequestID,
		CampaignID:      req.CampaignID,
		BatchID:         req.BatchID,
		RequestedAmount: req.RequestedAmount,
		GeneratedAmount: generated,
		Status:          string(status),
		FailureReason:   reason,
	}
	if err := b.publisher.Publish(fctx, b.cfg.Topic, req.RequestID, eventType, data); err != nil {
		b.logger.WarnContext(fctx, "failed to publish generation event",
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()),
		)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "generation canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "generation timed out"
	default:
		return err.Error()
	}
}
