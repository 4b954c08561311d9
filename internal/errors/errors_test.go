package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "coded", err: New(ErrCodeTaskAlreadyClosed, "task closed"), want: ErrCodeTaskAlreadyClosed},
		{name: "wrapped by fmt", err: fmt.Errorf("approve: %w", NotFound("task", "t1")), want: ErrCodeNotFound},
		{name: "plain", err: stderrors.New("boom"), want: ErrCodeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CodeOf(tc.err))
		})
	}
}

func TestWrapKeepsOriginalCode(t *testing.T) {
	err := Wrap(New(ErrCodeUnauthorized, "nope"), ErrCodeInternal, "failed")
	assert.True(t, HasCode(err, ErrCodeUnauthorized))

	err = Wrap(stderrors.New("io"), ErrCodeInternal, "failed to read")
	assert.True(t, HasCode(err, ErrCodeInternal))
	assert.Contains(t, err.Error(), "failed to read")
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "x"))
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrCodeMissingRejectionReason, "reason required"))
	assert.True(t, Is(err, New(ErrCodeMissingRejectionReason, "")))
	assert.False(t, Is(err, New(ErrCodeTaskAlreadyClosed, "")))
}

func TestInvalidInputMessage(t *testing.T) {
	err := InvalidInput("steps", "at least one step is required")
	assert.Equal(t, "INVALID_INPUT: steps: at least one step is required", err.Error())
}
