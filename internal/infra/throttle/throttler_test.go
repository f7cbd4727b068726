package throttle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-archiver/internal/infra/throttle"
)

// waitErr имитирует серверную ошибку с предписанной паузой.
type waitErr struct {
	wait time.Duration
}

func (e *waitErr) Error() string { return "server says wait" }

func extractWaitErr(err error) (time.Duration, bool) {
	var we *waitErr
	if errors.As(err, &we) {
		return we.wait, true
	}
	return 0, false
}

type stopErr struct{}

func (e *stopErr) Error() string   { return "do not retry" }
func (e *stopErr) StopRetry() bool { return true }

func TestDoBeforeStart(t *testing.T) {
	t.Parallel()

	tr := throttle.New(10)
	err := tr.Do(context.Background(), func() error { return nil })
	if !errors.Is(err, throttle.ErrNotStarted) {
		t.Fatalf("Do() error = %v, want ErrNotStarted", err)
	}
}

func TestDoSuccess(t *testing.T) {
	t.Parallel()

	tr := throttle.New(100)
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	if err := tr.Do(context.Background(), func() error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoStopRetryerReturnsImmediately(t *testing.T) {
	t.Parallel()

	tr := throttle.New(100, throttle.WithMaxRetries(5))
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	err := tr.Do(context.Background(), func() error {
		calls++
		return &stopErr{}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries)", calls)
	}
	var se *stopErr
	if !errors.As(err, &se) {
		t.Errorf("Do() error = %v, want stopErr", err)
	}
}

func TestDoWaitScaleAndSingleRetry(t *testing.T) {
	t.Parallel()

	// Пауза 20мс × 1.5 = 30мс; одна повторная попытка.
	tr := throttle.New(100,
		throttle.WithMaxRetries(1),
		throttle.WithWaitScale(1.5),
		throttle.WithWaitExtractors(extractWaitErr),
	)
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	started := time.Now()
	err := tr.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &waitErr{wait: 20 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if elapsed := time.Since(started); elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 30ms (scaled wait)", elapsed)
	}
}

func TestDoMaxRetriesExhaustedOnWait(t *testing.T) {
	t.Parallel()

	tr := throttle.New(100,
		throttle.WithMaxRetries(1),
		throttle.WithWaitExtractors(extractWaitErr),
	)
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	err := tr.Do(context.Background(), func() error {
		calls++
		return &waitErr{wait: time.Millisecond}
	})
	if err == nil {
		t.Fatal("Do() expected max-retries error, got nil")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (initial + one retry)", calls)
	}
}

func TestDoContextCancelled(t *testing.T) {
	t.Parallel()

	tr := throttle.New(1, throttle.WithBurst(1))
	tr.Start(context.Background())
	defer tr.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Бакет пуст после первого вызова; второй должен прерваться по контексту.
	_ = tr.Do(context.Background(), func() error { return nil })
	err := tr.Do(ctx, func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}
