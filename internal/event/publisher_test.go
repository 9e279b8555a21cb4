package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponhub/internal/logger"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "coupon-service", logger.Discard())

	redeemedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := p.Publish(context.Background(), "coupon.redemptions", "PROMO-ABC-1234", TypeCouponRedeemed, CouponRedeemedData{
		CouponCode: "PROMO-ABC-1234",
		CampaignID: "c1",
		UserID:     "u1",
		RedeemedAt: redeemedAt,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "coupon.redemptions", msg.Topic)
	assert.Equal(t, "PROMO-ABC-1234", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, TypeCouponRedeemed, string(msg.Headers[0].Value))

	var evt Event
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, "coupon-service", evt.Source)
	assert.Equal(t, 1, evt.Version)

	var data CouponRedeemedData
	require.NoError(t, json.Unmarshal(evt.Data, &data))
	assert.Equal(t, "u1", data.UserID)
	assert.True(t, redeemedAt.Equal(data.RedeemedAt))
}

func TestProducer_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "coupon-service", logger.Discard())

	err := p.Publish(context.Background(), "t", "k", TypeGenerationFailed, GenerationFinishedData{RequestID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent("x", "k", "svc", make(chan int))
	assert.Error(t, err)
}
