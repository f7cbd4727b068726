package listener

import (
	"context"
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func albumMsg(id int, gid int64, caption string) *tg.Message {
	msg := &tg.Message{ID: id, Message: caption, Date: 1717243200}
	msg.SetGroupedID(gid)
	return msg
}

type collectorHarness struct {
	flushed   [][]*tg.Message
	completed []int64
	remote    []*tg.Message
	remoteErr error
	clock     time.Time
}

func newHarness() (*Collector, *collectorHarness) {
	h := &collectorHarness{clock: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCollector(
		func(_ context.Context, _ int64, members []*tg.Message) {
			h.flushed = append(h.flushed, members)
		},
		func(_ context.Context, _ int64, _ int64, groupedID int64) ([]*tg.Message, error) {
			h.completed = append(h.completed, groupedID)
			return h.remote, h.remoteErr
		},
	)
	c.now = func() time.Time { return h.clock }
	return c, h
}

func TestCollectorSweepFlushesStaleGroups(t *testing.T) {
	t.Parallel()

	c, h := newHarness()
	ctx := context.Background()

	c.Add(ctx, -1001, albumMsg(101, 7, ""))
	c.Add(ctx, -1001, albumMsg(102, 7, "trio"))

	// Группа ещё свежая — свипер её не трогает.
	c.sweep(ctx)
	if len(h.flushed) != 0 {
		t.Fatalf("fresh group flushed early: %v", h.flushed)
	}

	h.clock = h.clock.Add(2 * time.Minute)
	c.sweep(ctx)

	if len(h.flushed) != 1 || len(h.flushed[0]) != 2 {
		t.Fatalf("flushed = %v, want one group of two members", h.flushed)
	}
	// Полная группа с подписью не требует дочитывания.
	if len(h.completed) != 0 {
		t.Errorf("complete called for a complete group: %v", h.completed)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after sweep", c.Pending())
	}
}

func TestCollectorCompletesIncompleteGroup(t *testing.T) {
	t.Parallel()

	c, h := newHarness()
	ctx := context.Background()

	// Сценарий «1 фото + 1 видео без подписи»: оба события пришли, альбомного
	// события не было, подписи нет — группа выглядит неполной.
	h.remote = []*tg.Message{albumMsg(201, 9, ""), albumMsg(202, 9, "caption")}
	c.Add(ctx, -1001, albumMsg(201, 9, ""))
	c.Add(ctx, -1001, albumMsg(202, 9, ""))

	h.clock = h.clock.Add(2 * time.Minute)
	c.sweep(ctx)

	if len(h.completed) != 1 || h.completed[0] != 9 {
		t.Fatalf("completed = %v, want remote read of group 9", h.completed)
	}
	if len(h.flushed) != 1 || len(h.flushed[0]) != 2 {
		t.Fatalf("flushed = %v", h.flushed)
	}
	if h.flushed[0][1].Message != "caption" {
		t.Error("remote members did not replace the buffer")
	}
}

func TestCollectorCompleteFailureFlushesBuffer(t *testing.T) {
	t.Parallel()

	c, h := newHarness()
	ctx := context.Background()

	h.remoteErr = context.DeadlineExceeded
	c.Add(ctx, -1001, albumMsg(301, 11, ""))

	h.clock = h.clock.Add(2 * time.Minute)
	c.sweep(ctx)

	// Ошибка дочитывания нефатальна: сбрасываем то, что есть.
	if len(h.flushed) != 1 || len(h.flushed[0]) != 1 {
		t.Fatalf("flushed = %v, want the original single member", h.flushed)
	}
}

func TestCollectorOverflowEvictsOldest(t *testing.T) {
	t.Parallel()

	c, h := newHarness()
	c.maxGroups = 2
	ctx := context.Background()

	c.Add(ctx, -1001, albumMsg(1, 100, "a"))
	h.clock = h.clock.Add(time.Second)
	c.Add(ctx, -1001, albumMsg(2, 200, "b"))
	h.clock = h.clock.Add(time.Second)
	c.Add(ctx, -1001, albumMsg(3, 300, "c"))

	if c.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2 after eviction", c.Pending())
	}
	if len(h.flushed) != 1 || h.flushed[0][0].ID != 1 {
		t.Errorf("flushed = %v, want the oldest group evicted", h.flushed)
	}
}

func TestCollectorFlushAll(t *testing.T) {
	t.Parallel()

	c, h := newHarness()
	ctx := context.Background()

	c.Add(ctx, -1001, albumMsg(1, 100, "a"))
	c.Add(ctx, -1002, albumMsg(2, 200, "b"))
	c.FlushAll(ctx)

	if len(h.flushed) != 2 || c.Pending() != 0 {
		t.Errorf("flushed = %d groups, pending = %d", len(h.flushed), c.Pending())
	}
}
