package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/convergio/internal/errs"
	"goa.design/convergio/internal/workflow/engine"
)

func TestExecuteWithRetrySucceedsWithoutDelaysWhenFirstAttemptWorks(t *testing.T) {
	var delays []time.Duration
	err := engine.ExecuteWithRetry(context.Background(), func(d time.Duration) { delays = append(delays, d) }, 3, time.Second,
		func(int) error { return nil })
	require.NoError(t, err)
	require.Empty(t, delays)
}

func TestExecuteWithRetryBackoffIsCappedAtSixtySeconds(t *testing.T) {
	var delays []time.Duration
	attempts := 0
	err := engine.ExecuteWithRetry(context.Background(), func(d time.Duration) { delays = append(delays, d) }, 10, 30*time.Second,
		func(int) error {
			attempts++
			if attempts <= 4 {
				return errs.New(errs.KindNetwork, "network error")
			}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 60 * time.Second, 60 * time.Second}, delays)
}

func TestExecuteWithRetryExhaustionReturnsLastError(t *testing.T) {
	err := engine.ExecuteWithRetry(context.Background(), func(time.Duration) {}, 2, time.Millisecond,
		func(int) error { return errs.New(errs.KindTimeout, "still timing out") })
	require.Error(t, err)
	require.Equal(t, errs.KindTimeout, errs.ClassifyErr(err))
}
