package broker

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// fakeJanitor пишет журнал операций: тесты проверяют, что pending мёртвого
// консьюмера перехватывается раньше, чем консьюмер удаляется.
type fakeJanitor struct {
	infos    []redis.XInfoConsumer
	claimErr error

	calls []string
}

func (f *fakeJanitor) groupConsumers(_ context.Context, _ string) ([]redis.XInfoConsumer, error) {
	return f.infos, nil
}

func (f *fakeJanitor) claimAllFrom(_ context.Context, _ string, consumer string) (int, error) {
	f.calls = append(f.calls, "claim:"+consumer)
	if f.claimErr != nil {
		return 0, f.claimErr
	}
	return 1, nil
}

func (f *fakeJanitor) deleteConsumer(_ context.Context, _ string, consumer string) error {
	f.calls = append(f.calls, "delete:"+consumer)
	return nil
}

func deadConsumer(name string, idle time.Duration, pending int64) redis.XInfoConsumer {
	return redis.XInfoConsumer{Name: name, Idle: idle, Pending: pending}
}

func TestCleanupRescuesPendingBeforeForceDelete(t *testing.T) {
	t.Parallel()

	f := &fakeJanitor{infos: []redis.XInfoConsumer{
		deadConsumer("worker-dead-9", time.Hour, 2),
	}}
	cleanupStreamConsumers(context.Background(), f, StreamRealtime, "worker-live-1")

	want := []string{"claim:worker-dead-9", "delete:worker-dead-9"}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, f.calls[i], want[i])
		}
	}
}

func TestCleanupClaimFailureKeepsConsumer(t *testing.T) {
	t.Parallel()

	f := &fakeJanitor{
		infos:    []redis.XInfoConsumer{deadConsumer("worker-dead-9", time.Hour, 2)},
		claimErr: errors.New("connection reset"),
	}
	cleanupStreamConsumers(context.Background(), f, StreamRealtime, "worker-live-1")

	// Пока pending не спасён, удалять консьюмера нельзя: записи пропадут.
	for _, call := range f.calls {
		if call == "delete:worker-dead-9" {
			t.Fatal("consumer deleted despite failed pending rescue")
		}
	}
}

func TestCleanupDeletesIdleEmptyConsumerWithoutClaim(t *testing.T) {
	t.Parallel()

	f := &fakeJanitor{infos: []redis.XInfoConsumer{
		deadConsumer("worker-dead-9", 10*time.Minute, 0),
	}}
	cleanupStreamConsumers(context.Background(), f, StreamRealtime, "worker-live-1")

	want := []string{"delete:worker-dead-9"}
	if len(f.calls) != 1 || f.calls[0] != want[0] {
		t.Errorf("calls = %v, want %v", f.calls, want)
	}
}

func TestCleanupLeavesRecentAndSelfAlone(t *testing.T) {
	t.Parallel()

	f := &fakeJanitor{infos: []redis.XInfoConsumer{
		// Недавний консьюмер с pending: скорее всего жив, XAUTOCLAIM
		// разберётся с его записями по min-idle.
		deadConsumer("worker-busy-2", 10*time.Minute, 3),
		deadConsumer("worker-live-1", time.Hour, 5),
	}}
	cleanupStreamConsumers(context.Background(), f, StreamRealtime, "worker-live-1")

	if len(f.calls) != 0 {
		t.Errorf("calls = %v, want none", f.calls)
	}
}
