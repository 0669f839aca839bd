package semantic

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/msgsearch-go/internal/errors"
)

// TestBackoffDelayGrows 退避时间随尝试次数指数增长
func TestBackoffDelayGrows(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 0; attempt < 4; attempt++ {
		delay := backoffDelay(attempt, base)
		floor := base << uint(attempt)
		assert.GreaterOrEqual(t, delay, floor)
		// 抖动不超过基准的一半
		assert.LessOrEqual(t, delay, floor+floor/2+time.Nanosecond)
	}
}

// TestRetryTransientExhaustion 重试耗尽后返回最后一次的错误
func TestRetryTransientExhaustion(t *testing.T) {
	calls := 0
	err := retryTransient(context.Background(), 3, time.Millisecond, "op", func() error {
		calls++
		return fmt.Errorf("transient %d", calls)
	}, func(error) bool { return true })

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "transient 3", err.Error())
}

// TestRetryTransientStopsOnNonRetryable 不可重试的错误立即返回
func TestRetryTransientStopsOnNonRetryable(t *testing.T) {
	calls := 0
	fatal := fmt.Errorf("fatal")
	err := retryTransient(context.Background(), 5, time.Millisecond, "op", func() error {
		calls++
		return fatal
	}, func(error) bool { return false })

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

// TestRetryTransientSucceedsMidway 成功后立即停止
func TestRetryTransientSucceedsMidway(t *testing.T) {
	calls := 0
	err := retryTransient(context.Background(), 5, time.Millisecond, "op", func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	}, func(error) bool { return true })

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

// TestRetryTransientCancelled context取消映射为Cancelled
func TestRetryTransientCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retryTransient(ctx, 5, time.Millisecond, "op", func() error {
		calls++
		return fmt.Errorf("transient")
	}, func(error) bool { return true })

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCancelled))
	assert.Equal(t, 0, calls)
}
