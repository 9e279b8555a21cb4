package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/model"
)

var errCouponAlreadyRedeemed = errors.New("coupon not found or already redeemed")

const couponColumns = `coupon_code, campaign_id, is_redeemed, redeemed_at, redeemed_by,
		expires_at, assigned_to, generation_batch_id, created_at`

// CouponRepository handles coupon data operations
type CouponRepository struct{}

// NewCouponRepository creates a new coupon repository
func NewCouponRepository() *CouponRepository {
	return &CouponRepository{}
}

// InsertCouponBatch inserts one chunk in a single statement. Codes that
// already exist are skipped. Rows already stored under the same batch (from
// a retried statement whose result was lost) count as stored.
func (r *CouponRepository) InsertCouponBatch(ctx context.Context, db DBExecutor, coupons []*model.Coupon) (int, []string, error) {
	if len(coupons) == 0 {
		return 0, nil, nil
	}

	const cols = 6
	valuesClause := make([]string, len(coupons))
	args := make([]any, 0, len(coupons)*cols+2)
	codes := make([]string, len(coupons))

	for i, c := range coupons {
		valuesClause[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			i*cols+1, i*cols+2, i*cols+3, i*cols+4, i*cols+5, i*cols+6)
		args = append(args, c.CouponCode, c.CampaignID, c.ExpiresAt, c.AssignedTo, c.GenerationBatchID, c.CreatedAt)
		codes[i] = c.CouponCode
	}

	n := len(args)
	args = append(args, pq.Array(codes), coupons[0].GenerationBatchID)

	query := fmt.Sprintf(`
		WITH inserted AS (
			INSERT INTO coupons (coupon_code, campaign_id, expires_at, assigned_to, generation_batch_id, created_at)
			VALUES %s
			ON CONFLICT (coupon_code) DO NOTHING
			RETURNING coupon_code
		)
		SELECT coupon_code FROM inserted
		UNION
		SELECT coupon_code FROM coupons
		WHERE coupon_code = ANY($%d) AND generation_batch_id = $%d
	`, strings.Join(valuesClause, ", "), n+1, n+2)

	var stored []string
	if err := db.SelectContext(ctx, &stored, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return 0, nil, apperrors.NotFound("campaign", coupons[0].CampaignID)
		}
		return 0, nil, classify(err, "failed to execute batch insert")
	}

	storedSet := make(map[string]struct{}, len(stored))
	for _, code := range stored {
		storedSet[code] = struct{}{}
	}

	var conflicts []string
	for _, code := range codes {
		if _, ok := storedSet[code]; !ok {
			conflicts = append(conflicts, code)
		}
	}

	return len(stored), conflicts, nil
}

// GetCouponForUpdate locks the coupon row for the rest of the transaction.
func (r *CouponRepository) GetCouponForUpdate(ctx context.Context, db DBExecutor, code string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE coupon_code = $1 FOR UPDATE`

	var coupon model.Coupon
	if err := db.GetContext(ctx, &coupon, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", code)
		}
		return nil, classify(err, "failed to lock coupon")
	}

	return &coupon, nil
}

// FindCouponDetails retrieves a coupon with the active flag of its campaign
func (r *CouponRepository) FindCouponDetails(ctx context.Context, db DBExecutor, code string) (*model.CouponDetails, error) {
	query := `
		SELECT c.coupon_code, c.campaign_id, c.is_redeemed, c.redeemed_at, c.redeemed_by,
		       c.expires_at, c.assigned_to, c.generation_batch_id, c.created_at,
		       ca.is_active AS campaign_active
		FROM coupons c
		JOIN campaigns ca ON ca.campaign_id = c.campaign_id
		WHERE c.coupon_code = $1
	`

	var details model.CouponDetails
	if err := db.GetContext(ctx, &details, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", code)
		}
		return nil, classify(err, "failed to get coupon")
	}

	return &details, nil
}

// MarkCouponAsRedeemed flips the coupon to redeemed if it is not already
func (r *CouponRepository) MarkCouponAsRedeemed(ctx context.Context, db DBExecutor, code, userID string, at time.Time) error {
	query := `
		UPDATE coupons
		SET is_redeemed = TRUE, redeemed_at = $1, redeemed_by = $2
		WHERE coupon_code = $3 AND is_redeemed = FALSE
	`

	result, err := db.ExecContext(ctx, query, at, userID, code)
	if err != nil {
		return classify(err, "failed to mark coupon as redeemed")
	}

	// Check if any row was actually updated
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return errCouponAlreadyRedeemed
	}

	return nil
}

// CountCoupons counts every coupon of a campaign
func (r *CouponRepository) CountCoupons(ctx context.Context, db DBExecutor, campaignID string) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM coupons WHERE campaign_id = $1`, campaignID); err != nil {
		return 0, classify(err, "failed to count coupons")
	}
	return n, nil
}

// CountRedeemed counts redeemed coupons of a campaign
func (r *CouponRepository) CountRedeemed(ctx context.Context, db DBExecutor, campaignID string) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM coupons WHERE campaign_id = $1 AND is_redeemed`, campaignID); err != nil {
		return 0, classify(err, "failed to count redeemed coupons")
	}
	return n, nil
}

// ListCodesByBatch returns one page of codes from a generation batch
func (r *CouponRepository) ListCodesByBatch(ctx context.Context, db DBExecutor, batchID string, limit, offset int) ([]string, error) {
	query := `
		SELECT coupon_code
		FROM coupons
		WHERE generation_batch_id = $1
		ORDER BY created_at ASC, coupon_code ASC
		LIMIT $2 OFFSET $3
	`

	codes := []string{}
	if err := db.SelectContext(ctx, &codes, query, batchID, limit, offset); err != nil {
		return nil, classify(err, "failed to list batch codes")
	}

	return codes, nil
}
