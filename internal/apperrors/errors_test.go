package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("insert chunk: %w", Transient(errors.New("connection reset")))

	assert.Equal(t, KindTransient, KindOf(err))
	assert.True(t, IsTransient(err))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
}

func TestKindOf_PlainError(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.False(t, Is(nil, KindInternal))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("bad amount", nil), http.StatusBadRequest},
		{"not found", NotFound("campaign", "c1"), http.StatusNotFound},
		{"conflict", Conflict("ALREADY_REDEEMED", "coupon has already been redeemed"), http.StatusConflict},
		{"internal", Internal(errors.New("x")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := NotFound("coupon", "PROMO-X")
	assert.Equal(t, `NOT_FOUND: coupon "PROMO-X" not found`, err.Error())

	wrapped := Internal(errors.New("disk full"))
	assert.Equal(t, "an internal error occurred", wrapped.Message)
	assert.ErrorContains(t, wrapped, "disk full")
}
