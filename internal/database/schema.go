package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
    campaign_id              VARCHAR(64)   PRIMARY KEY,
    name                     VARCHAR(255)  NOT NULL,
    description              TEXT,
    start_date               TIMESTAMPTZ   NOT NULL,
    end_date                 TIMESTAMPTZ   NOT NULL,
    discount_percentage      NUMERIC(5,2)  CHECK (discount_percentage > 0 AND discount_percentage <= 100),
    discount_amount          NUMERIC(12,2) CHECK (discount_amount > 0),
    max_redemptions_per_user INT           NOT NULL DEFAULT 1 CHECK (max_redemptions_per_user >= 1),
    max_total_redemptions    INT           CHECK (max_total_redemptions >= 1),
    current_redemptions      INT           NOT NULL DEFAULT 0 CHECK (current_redemptions >= 0),
    is_active                BOOLEAN       NOT NULL DEFAULT TRUE,
    created_at               TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
    updated_at               TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
    created_by               VARCHAR(128),
    CHECK (end_date > start_date),
    CHECK (max_total_redemptions IS NULL OR current_redemptions <= max_total_redemptions)
);

CREATE TABLE IF NOT EXISTS coupons (
    coupon_code         VARCHAR(64)  PRIMARY KEY,
    campaign_id         VARCHAR(64)  NOT NULL REFERENCES campaigns(campaign_id),
    is_redeemed         BOOLEAN      NOT NULL DEFAULT FALSE,
    redeemed_at         TIMESTAMPTZ,
    redeemed_by         VARCHAR(128),
    expires_at          TIMESTAMPTZ  NOT NULL,
    assigned_to         VARCHAR(128),
    generation_batch_id VARCHAR(64)  NOT NULL,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
    CHECK (NOT is_redeemed OR redeemed_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_coupons_campaign_redeemed ON coupons (campaign_id, is_redeemed);
CREATE INDEX IF NOT EXISTS idx_coupons_batch ON coupons (generation_batch_id, created_at, coupon_code);

CREATE TABLE IF NOT EXISTS user_redemptions (
    user_id          VARCHAR(128) NOT NULL,
    campaign_id      VARCHAR(64)  NOT NULL REFERENCES campaigns(campaign_id),
    redemption_count INT          NOT NULL DEFAULT 0 CHECK (redemption_count >= 0),
    last_redeemed_at TIMESTAMPTZ,
    PRIMARY KEY (user_id, campaign_id)
);

CREATE TABLE IF NOT EXISTS redemption_history (
    redemption_id  BIGSERIAL    PRIMARY KEY,
    coupon_code    VARCHAR(64)  NOT NULL,
    user_id        VARCHAR(128) NOT NULL,
    campaign_id    VARCHAR(64),
    attempted_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
    success        BOOLEAN      NOT NULL,
    failure_reason VARCHAR(64),
    ip_address     VARCHAR(64),
    user_agent     TEXT
);

CREATE INDEX IF NOT EXISTS idx_redemption_history_coupon ON redemption_history (coupon_code, attempted_at);
CREATE INDEX IF NOT EXISTS idx_redemption_history_user ON redemption_history (user_id, attempted_at);

CREATE TABLE IF NOT EXISTS generation_requests (
    request_id       VARCHAR(64)  PRIMARY KEY,
    campaign_id      VARCHAR(64)  NOT NULL REFERENCES campaigns(campaign_id),
    requested_amount INT          NOT NULL CHECK (requested_amount >= 1),
    generated_amount INT          NOT NULL DEFAULT 0,
    prefix           VARCHAR(20)  NOT NULL,
    expiration_date  TIMESTAMPTZ  NOT NULL,
    batch_id         VARCHAR(64)  NOT NULL,
    status           VARCHAR(16)  NOT NULL,
    started_at       TIMESTAMPTZ,
    completed_at     TIMESTAMPTZ,
    failure_reason   TEXT,
    requested_by     VARCHAR(128) NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
);
`

// Migrate creates the tables and indexes when they do not exist. Connection
// failures are retried with exponential backoff. SQL errors are returned
// immediately.
func Migrate(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second

	return migrateWith(ctx, db, backoff.WithMaxRetries(b, 5), logger)
}

func migrateWith(ctx context.Context, db *sqlx.DB, b backoff.BackOff, logger *slog.Logger) error {
	op := func() error {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			if !isConnectionError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("migration failed due to connection error, retrying",
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("database schema is up to date")
	return nil
}

func isConnectionError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57"
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
