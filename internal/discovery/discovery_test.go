package discovery

import (
	"context"
	"testing"
	"time"

	"telegram-archiver/internal/domain/model"
	"telegram-archiver/internal/store"
	tgclient "telegram-archiver/internal/telegram"
)

type fakeFolderSource struct {
	folder     tgclient.Folder
	found      bool
	candidates []model.ChannelCandidate

	candidateCalls int
}

func (f *fakeFolderSource) FindFolder(_ context.Context, _ string) (tgclient.Folder, bool, error) {
	return f.folder, f.found, nil
}

func (f *fakeFolderSource) ChannelCandidates(_ context.Context, _ tgclient.Folder) ([]model.ChannelCandidate, error) {
	f.candidateCalls++
	return f.candidates, nil
}

type fakeChannelStore struct {
	reconciled    [][]model.ChannelCandidate
	reconcileOpts store.ReconcileOptions
	stats         model.ReconcileStats

	gaps    []*model.Channel
	pending map[int64]time.Time
}

func (f *fakeChannelStore) Reconcile(_ context.Context, cands []model.ChannelCandidate, opts store.ReconcileOptions) (model.ReconcileStats, error) {
	f.reconciled = append(f.reconciled, cands)
	f.reconcileOpts = opts
	return f.stats, nil
}

func (f *fakeChannelStore) GapCandidates(_ context.Context, _ time.Duration, limit int) ([]*model.Channel, error) {
	if len(f.gaps) > limit {
		return f.gaps[:limit], nil
	}
	return f.gaps, nil
}

func (f *fakeChannelStore) MarkBackfillPending(_ context.Context, channelID int64, from time.Time) error {
	if f.pending == nil {
		f.pending = make(map[int64]time.Time)
	}
	f.pending[channelID] = from
	return nil
}

func TestDiscoverOnceReconcilesFolder(t *testing.T) {
	t.Parallel()

	src := &fakeFolderSource{
		folder: tgclient.Folder{ID: 3, Title: "Archive"},
		found:  true,
		candidates: []model.ChannelCandidate{
			{TelegramID: -1001, Name: "stale"},
			{TelegramID: -1002, Name: "second"},
			{TelegramID: -1001, Name: "fresh"},
		},
	}
	st := &fakeChannelStore{stats: model.ReconcileStats{Added: 2, TotalActive: 2}}

	notified := false
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := New(src, st, Options{
		FolderPattern:       "archive",
		SourceAccount:       "acc",
		BackfillOnDiscovery: true,
		BackfillFrom:        from,
	}, func(context.Context) { notified = true })

	if err := d.DiscoverOnce(context.Background()); err != nil {
		t.Fatalf("DiscoverOnce: %v", err)
	}

	if len(st.reconciled) != 1 {
		t.Fatalf("Reconcile called %d times", len(st.reconciled))
	}
	got := st.reconciled[0]
	if len(got) != 2 {
		t.Fatalf("candidates = %v, want deduplicated pair", got)
	}
	// При дубле побеждает последний дескриптор, позиция — первого.
	if got[0].TelegramID != -1001 || got[0].Name != "fresh" {
		t.Errorf("candidate[0] = %+v, want fresh -1001", got[0])
	}
	if st.reconcileOpts.Rule != model.RuleArchiveAll || !st.reconcileOpts.BackfillOnDiscovery {
		t.Errorf("opts = %+v", st.reconcileOpts)
	}
	if !st.reconcileOpts.BackfillFrom.Equal(from) {
		t.Errorf("BackfillFrom = %v", st.reconcileOpts.BackfillFrom)
	}
	if !notified {
		t.Error("reconcile callback was not invoked")
	}
}

func TestDiscoverOnceMissingFolderIsNoop(t *testing.T) {
	t.Parallel()

	src := &fakeFolderSource{found: false}
	st := &fakeChannelStore{}
	d := New(src, st, Options{FolderPattern: "Archive"}, nil)

	if err := d.DiscoverOnce(context.Background()); err != nil {
		t.Fatalf("DiscoverOnce: %v", err)
	}
	if len(st.reconciled) != 0 {
		t.Error("missing folder must not touch the store")
	}
	if src.candidateCalls != 0 {
		t.Error("missing folder must not resolve peers")
	}
}

func TestCheckGapsQueuesBackfillBehindWatermark(t *testing.T) {
	t.Parallel()

	last := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	st := &fakeChannelStore{
		gaps: []*model.Channel{
			{ID: 7, TelegramID: -1007, LastMessageAt: &last},
		},
	}
	d := New(&fakeFolderSource{}, st, Options{
		GapThreshold:   2 * time.Hour,
		GapMaxChannels: 10,
	}, nil)

	if err := d.CheckGaps(context.Background()); err != nil {
		t.Fatalf("CheckGaps: %v", err)
	}

	from, ok := st.pending[7]
	if !ok {
		t.Fatal("channel 7 was not queued")
	}
	if want := last.Add(-5 * time.Minute); !from.Equal(want) {
		t.Errorf("backfill from = %v, want %v", from, want)
	}
}

func TestGapBackfillFromWithoutWatermark(t *testing.T) {
	t.Parallel()

	if got := gapBackfillFrom(&model.Channel{}); !got.IsZero() {
		t.Errorf("gapBackfillFrom(no watermark) = %v, want zero", got)
	}
}
