package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
)

type sample struct {
	Prefix string `validate:"required,alphanum,max=20"`
	Amount int    `validate:"gte=1,lte=1000000"`
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, Validate(sample{Prefix: "PROMO", Amount: 10}))
}

func TestValidate_Fields(t *testing.T) {
	err := Validate(sample{Prefix: "PRO-MO", Amount: 0})
	require.Error(t, err)

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)
	assert.Equal(t, "must contain only letters and digits", appErr.Fields["prefix"])
	assert.Equal(t, "must be greater than or equal to 1", appErr.Fields["amount"])
}
