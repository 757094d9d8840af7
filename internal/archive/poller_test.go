package archive

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kalambet/groupdesk/internal/kv"
	"github.com/kalambet/groupdesk/internal/kv/kvtest"
	"github.com/kalambet/groupdesk/internal/pipeline"
	"github.com/kalambet/groupdesk/internal/router"
)

type fakeSource struct {
	batch   Batch
	err     error
	fetched []int64
}

func (f *fakeSource) Fetch(_ context.Context, seq int64, _ int) (Batch, error) {
	f.fetched = append(f.fetched, seq)
	return f.batch, f.err
}

type recordingProcessor struct {
	got  []router.Message
	fail string
}

func (r *recordingProcessor) Process(_ context.Context, msg router.Message) (pipeline.Result, error) {
	r.got = append(r.got, msg)
	if msg.Content == r.fail {
		return pipeline.Result{}, errors.New("classifier down")
	}
	return pipeline.Result{Status: "NEEDS_INFO"}, nil
}

func textItem(seq int64, from, room, content string, msgtime int64) Item {
	return Item{
		Seq: seq,
		Decrypted: fmt.Sprintf(`{"msgtype":"text","from":%q,"roomid":%q,"msgtime":%d,"text":{"content":%q}}`,
			from, room, msgtime, content),
	}
}

var keys = kv.NewKeyspace("test")

func TestRunOnce_ProcessesAndAdvancesCursor(t *testing.T) {
	store := kvtest.New()
	src := &fakeSource{batch: Batch{NextSeq: 12, Items: []Item{
		textItem(10, "u1", "g1", "灯坏了", 1740790800),
		textItem(11, "u2", "g2", "漏水", 1740790800),
		{Seq: 12, Decrypted: `{"msgtype":"voice"}`},
	}}}
	proc := &recordingProcessor{}
	p := NewPoller(store, keys, src, proc, Config{InitialCursor: 9, AllowedGroups: []string{" g1 "}})

	stats, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !stats.Leased || stats.Processed != 1 || stats.Skipped != 2 || stats.Fetched != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if src.fetched[0] != 9 {
		t.Errorf("fetched from %d, want initial cursor 9", src.fetched[0])
	}
	if len(proc.got) != 1 || proc.got[0].GroupID != "g1" || proc.got[0].TimestampMillis != 1740790800000 {
		t.Errorf("processed %+v", proc.got)
	}

	cur, ok, _ := store.Get(context.Background(), keys.ArchiveCursor())
	if !ok || cur != "12" {
		t.Errorf("cursor = %q, %v; want 12", cur, ok)
	}
	if _, held, _ := store.Get(context.Background(), keys.ArchiveLease()); held {
		t.Error("lease not released")
	}

	// The next poll resumes from the stored cursor.
	src.batch = Batch{NextSeq: 12}
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if src.fetched[1] != 12 {
		t.Errorf("second fetch from %d, want 12", src.fetched[1])
	}
}

func TestRunOnce_LeaseHeld(t *testing.T) {
	store := kvtest.New()
	store.Set(context.Background(), keys.ArchiveLease(), "other", 0)
	src := &fakeSource{}
	p := NewPoller(store, keys, src, &recordingProcessor{}, Config{})

	stats, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Leased || len(src.fetched) != 0 {
		t.Errorf("polled without the lease: %+v", stats)
	}
	if v, _, _ := store.Get(context.Background(), keys.ArchiveLease()); v != "other" {
		t.Errorf("foreign lease overwritten: %q", v)
	}
}

func TestRunOnce_FailuresDoNotBlockBatch(t *testing.T) {
	store := kvtest.New()
	src := &fakeSource{batch: Batch{NextSeq: 3, Items: []Item{
		textItem(1, "u1", "g1", "boom", 0),
		textItem(2, "u1", "g1", "灯坏了", 0),
	}}}
	proc := &recordingProcessor{fail: "boom"}
	p := NewPoller(store, keys, src, proc, Config{})

	stats, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Failed != 1 || stats.Processed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if cur, _, _ := store.Get(context.Background(), keys.ArchiveCursor()); cur != "3" {
		t.Errorf("cursor = %q, want 3", cur)
	}
}

func TestRunOnce_SkipBefore(t *testing.T) {
	store := kvtest.New()
	src := &fakeSource{batch: Batch{NextSeq: 2, Items: []Item{
		textItem(1, "u1", "g1", "old", 1000),
		textItem(2, "u1", "g1", "new", 5000),
	}}}
	proc := &recordingProcessor{}
	p := NewPoller(store, keys, src, proc, Config{SkipBeforeMillis: 2_000_000})

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(proc.got) != 1 || proc.got[0].Content != "new" {
		t.Errorf("processed %+v", proc.got)
	}
}

func TestRunOnce_CursorNeverMovesBackwards(t *testing.T) {
	store := kvtest.New()
	store.Set(context.Background(), keys.ArchiveCursor(), "50", 0)
	src := &fakeSource{batch: Batch{NextSeq: 40}}
	p := NewPoller(store, keys, src, &recordingProcessor{}, Config{})

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if cur, _, _ := store.Get(context.Background(), keys.ArchiveCursor()); cur != "50" {
		t.Errorf("cursor = %q, want 50", cur)
	}
}

func TestRunOnce_SourceErrorReleasesLease(t *testing.T) {
	store := kvtest.New()
	src := &fakeSource{err: errors.New("gateway down")}
	p := NewPoller(store, keys, src, &recordingProcessor{}, Config{})

	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, held, _ := store.Get(context.Background(), keys.ArchiveLease()); held {
		t.Error("lease not released after failure")
	}
}

func TestRunOnce_StoreDown(t *testing.T) {
	store := kvtest.New()
	store.SetFailing(true)
	p := NewPoller(store, keys, &fakeSource{}, &recordingProcessor{}, Config{})
	if _, err := p.RunOnce(context.Background()); !errors.Is(err, kvtest.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestRunOnce_CursorUnreadableUsesInitial(t *testing.T) {
	store := kvtest.New()
	store.FailKey(keys.ArchiveCursor())
	src := &fakeSource{batch: Batch{NextSeq: 8, Items: []Item{
		textItem(7, "u1", "g1", "灯坏了", 1740790800),
	}}}
	proc := &recordingProcessor{}
	p := NewPoller(store, keys, src, proc, Config{InitialCursor: 7})

	stats, err := p.RunOnce(context.Background())
	if len(src.fetched) != 1 || src.fetched[0] != 7 {
		t.Fatalf("fetched %v, want one fetch from 7", src.fetched)
	}
	if stats.Cursor != 7 || stats.Processed != 1 || len(proc.got) != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	// The cursor key stays unwritable, so only the advance may fail.
	if err != nil && !errors.Is(err, kvtest.ErrUnavailable) {
		t.Errorf("err = %v, want nil or ErrUnavailable", err)
	}
	if _, held, _ := store.Get(context.Background(), keys.ArchiveLease()); held {
		t.Error("lease not released")
	}
}
