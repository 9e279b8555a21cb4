package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/model"
)

const generationColumns = `request_id, campaign_id, requested_amount, generated_amount, prefix,
		expiration_date, batch_id, status, started_at, completed_at, failure_reason,
		requested_by, created_at`

// GenerationRepository handles generation request data operations
type GenerationRepository struct{}

// NewGenerationRepository creates a new generation repository
func NewGenerationRepository() *GenerationRepository {
	return &GenerationRepository{}
}

// CreateGenerationRequest stores a new request
func (r *GenerationRepository) CreateGenerationRequest(ctx context.Context, db DBExecutor, req *model.GenerationRequest) error {
	query := `
		INSERT INTO generation_requests (request_id, campaign_id, requested_amount, generated_amount,
			prefix, expiration_date, batch_id, status, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, query,
		req.RequestID, req.CampaignID, req.RequestedAmount, req.GeneratedAmount,
		req.Prefix, req.ExpirationDate, req.BatchID, req.Status, req.RequestedBy, req.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.NotFound("campaign", req.CampaignID)
		}
		err = classify(err, "failed to create generation request")
		if apperrors.Is(err, apperrors.KindConflict) {
			return apperrors.Conflict("REQUEST_EXISTS", fmt.Sprintf("generation request %q already exists", req.RequestID))
		}
		return err
	}

	return nil
}

// GetGenerationRequest retrieves a request by ID
func (r *GenerationRepository) GetGenerationRequest(ctx context.Context, db DBExecutor, requestID string) (*model.GenerationRequest, error) {
	query := `SELECT ` + generationColumns + ` FROM generation_requests WHERE request_id = $1`

	var req model.GenerationRequest
	if err := db.GetContext(ctx, &req, query, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("generation request", requestID)
		}
		return nil, classify(err, "failed to get generation request")
	}

	return &req, nil
}

// MarkGenerationRunning moves a request to running
func (r *GenerationRepository) MarkGenerationRunning(ctx context.Context, db DBExecutor, requestID string, startedAt time.Time) error {
	query := `UPDATE generation_requests SET status = $1, started_at = $2 WHERE request_id = $3`
	return r.update(ctx, db, requestID, query, model.GenerationRunning, startedAt, requestID)
}

// UpdateGenerationProgress records the persisted count
func (r *GenerationRepository) UpdateGenerationProgress(ctx context.Context, db DBExecutor, requestID string, generated int) error {
	query := `UPDATE generation_requests SET generated_amount = $1 WHERE request_id = $2`
	return r.update(ctx, db, requestID, query, generated, requestID)
}

// MarkGenerationCompleted finishes a request successfully
func (r *GenerationRepository) MarkGenerationCompleted(ctx context.Context, db DBExecutor, requestID string, generated int, completedAt time.Time) error {
	query := `
		UPDATE generation_requests
		SET status = $1, generated_amount = $2, completed_at = $3
		WHERE request_id = $4
	`
	return r.update(ctx, db, requestID, query, model.GenerationCompleted, generated, completedAt, requestID)
}

// MarkGenerationFailed finishes a request with a failure reason
func (r *GenerationRepository) MarkGenerationFailed(ctx context.Context, db DBExecutor, requestID string, generated int, reason string, completedAt time.Time) error {
	query := `
		UPDATE generation_requests
		SET status = $1, generated_amount = $2, failure_reason = $3, completed_at = $4
		WHERE request_id = $5
	`
	return r.update(ctx, db, requestID, query, model.GenerationFailed, generated, reason, completedAt, requestID)
}

func (r *GenerationRepository) update(ctx context.Context, db DBExecutor, requestID, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(err, "failed to update generation request")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return apperrors.NotFound("generation request", requestID)
	}

	return nil
}
