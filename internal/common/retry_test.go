package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxbooks/reckon/internal/service"
)

func fastRetry() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return nil
	}, fastRetry())

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesConflicts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &ConcurrencyConflictError{Entity: "transaction", ID: "t1"}
		}
		return nil
	}, fastRetry())

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return &ConcurrencyConflictError{Entity: "transaction", ID: "t1"}
	}, fastRetry())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMaxRetries))
	assert.Equal(t, 3, calls)
}

func TestWithRetry_TerminalErrorsReturnImmediately(t *testing.T) {
	calls := 0
	wantErr := NewValidationError("actorID", "must not be empty")
	err := WithRetry(context.Background(), func() error {
		calls++
		return wantErr
	}, fastRetry())

	assert.Equal(t, wantErr, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, func() error {
		return &ConcurrencyConflictError{Entity: "transaction", ID: "t1"}
	}, service.RetryOptions{MaxAttempts: 5, InitialDelay: time.Second})

	assert.True(t, errors.Is(err, context.Canceled))
}
