package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		target error
	}{
		{"validation", NewValidationError("quantity", 0, "must be positive"), ErrInvalidOrder},
		{"amount", NewAmountError(-5, "must be positive"), ErrInvalidAmount},
		{"funds", NewInsufficientFundsError(200, 100), ErrInsufficientFunds},
		{"position", NewNotFoundError("position", 7), ErrPositionNotFound},
		{"order", NewNotFoundError("order", 3), ErrOrderNotFound},
		{"account", NewNotFoundError("account", "u1"), ErrAccountNotFound},
		{"state", NewStateError("position", 1, "CLOSED", "close"), ErrInvalidState},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("placing order: %w", tc.err)
			assert.True(t, Is(wrapped, tc.target))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "insufficient funds: need 200.00, have 100.00", NewInsufficientFundsError(200, 100).Error())
	assert.Equal(t, "cannot cancel order 4 with status EXECUTED", NewStateError("order", 4, "EXECUTED", "cancel").Error())
	assert.Equal(t, "position not found: 9", NewNotFoundError("position", 9).Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ctx"))
	assert.NoError(t, Wrapf(nil, "ctx %d", 1))

	var ve *ValidationError
	err := Wrapf(NewValidationError("side", "HOLD", "must be BUY or SELL"), "order %d", 1)
	assert.True(t, As(err, &ve))
	assert.Equal(t, "side", ve.Field)
}
