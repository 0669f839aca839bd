package semantic

import (
	"context"
	"math/rand"
	"time"

	apperrors "github.com/aihub/msgsearch-go/internal/errors"
)

// backoffDelay 第attempt次重试前的等待时间：指数退避加随机抖动
func backoffDelay(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delay := base << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

// sleepBackoff 可取消的退避等待，context结束时立即返回对应错误
func sleepBackoff(ctx context.Context, attempt int, base time.Duration, operation string) error {
	timer := time.NewTimer(backoffDelay(attempt, base))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return apperrors.FromContext(ctx, operation)
	case <-timer.C:
		return nil
	}
}

// retryTransient 有界重试：仅当retryable判定为真时继续，
// 重试次数耗尽后返回最后一次的错误
func retryTransient(ctx context.Context, attempts int, base time.Duration, operation string, op func() error, retryable func(error) bool) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctxErr := apperrors.FromContext(ctx, operation); ctxErr != nil {
			return ctxErr
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if ctxErr := apperrors.FromContext(ctx, operation); ctxErr != nil {
			return ctxErr
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}
		if err := sleepBackoff(ctx, attempt, base, operation); err != nil {
			return err
		}
	}
	return lastErr
}
