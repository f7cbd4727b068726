package broker

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// fakeSource раздаёт заранее заготовленные порции по потокам и пишет журнал
// обращений, чтобы проверять порядок опроса.
type fakeSource struct {
	claims map[string][]Delivery
	reads  map[string][]Delivery
	calls  []string
}

func (f *fakeSource) AutoClaim(_ context.Context, stream string, _ int64) ([]Delivery, error) {
	f.calls = append(f.calls, "claim:"+stream)
	ds := f.claims[stream]
	f.claims[stream] = nil
	return ds, nil
}

func (f *fakeSource) ReadGroup(_ context.Context, stream string, count int64, block time.Duration) ([]Delivery, error) {
	mode := "noblock"
	if block >= 0 {
		mode = "block"
	}
	f.calls = append(f.calls, fmt.Sprintf("read:%s:%s:%d", stream, mode, count))
	ds := f.reads[stream]
	if int64(len(ds)) > count {
		ds = ds[:count]
	}
	f.reads[stream] = f.reads[stream][len(ds):]
	return ds, nil
}

func newFake() *fakeSource {
	return &fakeSource{claims: map[string][]Delivery{}, reads: map[string][]Delivery{}}
}

func entry(stream, id string) Delivery {
	return Delivery{Stream: stream, ID: id, Values: map[string]any{"message_id": id}, RetryCount: 1}
}

func TestNextPrefersClaimedEntries(t *testing.T) {
	t.Parallel()

	f := newFake()
	f.claims[StreamBackfill] = []Delivery{entry(StreamBackfill, "9-0")}
	f.reads[StreamRealtime] = []Delivery{entry(StreamRealtime, "1-0")}

	got, err := newConsumer(f, 10).Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "9-0" {
		t.Errorf("Next() = %v, want claimed backfill entry", got)
	}
	// После переподхвата чтение новых записей не выполняется.
	for _, call := range f.calls {
		if call[:4] == "read" {
			t.Errorf("unexpected read call %q after successful claim", call)
		}
	}
}

func TestNextRealtimeBeforeLegacyAndBackfill(t *testing.T) {
	t.Parallel()

	f := newFake()
	f.reads[StreamRealtime] = []Delivery{entry(StreamRealtime, "1-0"), entry(StreamRealtime, "1-1")}
	f.reads[StreamLegacy] = []Delivery{entry(StreamLegacy, "2-0")}
	f.reads[StreamBackfill] = []Delivery{entry(StreamBackfill, "3-0")}

	got, err := newConsumer(f, 10).Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if len(got) != 2 || got[0].Stream != StreamRealtime {
		t.Errorf("Next() = %v, want realtime batch", got)
	}
}

func TestNextBackfillOnlyWhenIdleAndSingle(t *testing.T) {
	t.Parallel()

	f := newFake()
	f.reads[StreamBackfill] = []Delivery{entry(StreamBackfill, "3-0"), entry(StreamBackfill, "3-1")}

	got, err := newConsumer(f, 10).Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "3-0" {
		t.Errorf("Next() = %v, want exactly one backfill entry", got)
	}

	want := []string{
		"claim:" + StreamRealtime,
		"claim:" + StreamLegacy,
		"claim:" + StreamBackfill,
		"read:" + StreamRealtime + ":block:10",
		"read:" + StreamLegacy + ":noblock:10",
		"read:" + StreamBackfill + ":noblock:1",
	}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, f.calls[i], want[i])
		}
	}
}

func TestNextEmptyWhenAllStreamsIdle(t *testing.T) {
	t.Parallel()

	got, err := newConsumer(newFake(), 10).Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Next() = %v, want empty", got)
	}
}

func TestDeliveryExhausted(t *testing.T) {
	t.Parallel()

	if (Delivery{RetryCount: 2}).Exhausted() {
		t.Error("two deliveries must not exhaust the budget")
	}
	if !(Delivery{RetryCount: 3}).Exhausted() {
		t.Error("three deliveries must exhaust the budget")
	}
}

func TestConsumerNameShape(t *testing.T) {
	t.Parallel()

	name := ConsumerName()
	if len(name) < len("worker-x-1") || name[:7] != "worker-" {
		t.Errorf("ConsumerName() = %q, want worker-{hostname}-{pid}", name)
	}
}
