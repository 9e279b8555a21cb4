package model

import (
	"time"
)

// GenerationStatus is the lifecycle state of a generation request.
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationRunning   GenerationStatus = "running"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

// GenerationRequest tracks one asynchronous coupon generation.
type GenerationRequest struct {
	RequestID       string           `db:"request_id" json:"requestId"`
	CampaignID      string           `db:"campaign_id" json:"campaignId"`
	RequestedAmount int              `db:"requested_amount" json:"requestedAmount"`
	GeneratedAmount int              `db:"generated_amount" json:"generatedAmount"`
	Prefix          string           `db:"prefix" json:"prefix"`
	ExpirationDate  time.Time        `db:"expiration_date" json:"expirationDate"`
	BatchID         string           `db:"batch_id" json:"batchId"`
	Status          GenerationStatus `db:"status" json:"status"`
	StartedAt       *time.Time       `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt     *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
	FailureReason   *string          `db:"failure_reason" json:"failureReason,omitempty"`
	RequestedBy     string           `db:"requested_by" json:"requestedBy"`
	CreatedAt       time.Time        `db:"created_at" json:"createdAt"`
}
