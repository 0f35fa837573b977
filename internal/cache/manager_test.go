package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unfurld/unfurld/internal/cache/memory"
	"github.com/unfurld/unfurld/internal/preview"
	"github.com/unfurld/unfurld/internal/tasks"
	"github.com/unfurld/unfurld/internal/telemetry"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type failingStore struct{}

func (failingStore) Get(context.Context, string) (preview.Entry, bool, error) {
	return preview.Entry{}, false, errors.New("backend down")
}

func (failingStore) Put(context.Context, string, preview.Entry, time.Duration) error {
	return errors.New("backend down")
}

func newTestManager(t *testing.T) (*Manager, *tasks.Runner) {
	t.Helper()
	telemetry.Init()

	store := memory.New(fixedClock{now: time.Unix(1700000000, 0).UTC()})
	runner := tasks.NewRunner(time.Second, nil)
	t.Cleanup(runner.Close)
	return New(store, store, runner, time.Hour, time.Hour, nil), runner
}

func TestMetadataRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	meta := preview.Metadata{Title: "Example", OGImage: "https://example.com/i.png"}
	if err := m.PutMetadata(context.Background(), "open-graph:k", meta); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}

	got, ok := m.GetMetadata(context.Background(), "open-graph:k")
	if !ok {
		t.Fatal("GetMetadata() ok = false, want hit")
	}
	if got != meta {
		t.Fatalf("GetMetadata() = %+v, want %+v", got, meta)
	}
}

func TestMetadataAsyncWriteLands(t *testing.T) {
	m, runner := newTestManager(t)

	m.PutMetadataAsync("open-graph:async", preview.Metadata{Title: "Later"})
	runner.Wait()

	got, ok := m.GetMetadata(context.Background(), "open-graph:async")
	if !ok {
		t.Fatal("GetMetadata() ok = false after async write")
	}
	if got.Title != "Later" {
		t.Fatalf("Title = %q, want %q", got.Title, "Later")
	}
}

func TestImageRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	art := preview.ImageArtifact{ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
	if err := m.PutImage(context.Background(), "open-graph:k:image", art); err != nil {
		t.Fatalf("PutImage() error = %v", err)
	}

	got, ok := m.GetImage(context.Background(), "open-graph:k:image")
	if !ok {
		t.Fatal("GetImage() ok = false, want hit")
	}
	if got.ContentType != "image/png" || len(got.Data) != 4 {
		t.Fatalf("GetImage() = %+v", got)
	}
}

func TestReadFailureDegradesToMiss(t *testing.T) {
	telemetry.Init()

	runner := tasks.NewRunner(time.Second, nil)
	t.Cleanup(runner.Close)
	m := New(failingStore{}, failingStore{}, runner, time.Hour, time.Hour, nil)

	if _, ok := m.GetMetadata(context.Background(), "k"); ok {
		t.Fatal("GetMetadata() ok = true on failing backend, want miss")
	}
	if _, ok := m.GetImage(context.Background(), "k:image"); ok {
		t.Fatal("GetImage() ok = true on failing backend, want miss")
	}
}

func TestWriteFailureStaysInternal(t *testing.T) {
	telemetry.Init()

	runner := tasks.NewRunner(time.Second, nil)
	t.Cleanup(runner.Close)
	m := New(failingStore{}, failingStore{}, runner, time.Hour, time.Hour, nil)

	// Async writes swallow the error through the runner.
	m.PutMetadataAsync("k", preview.Metadata{Title: "x"})
	runner.Wait()

	// The synchronous form reports it.
	if err := m.PutMetadata(context.Background(), "k", preview.Metadata{Title: "x"}); err == nil {
		t.Fatal("PutMetadata() error = nil, want backend error")
	}
}

func TestCorruptMetadataEntryIsMiss(t *testing.T) {
	telemetry.Init()

	store := memory.New(fixedClock{now: time.Unix(1700000000, 0).UTC()})
	runner := tasks.NewRunner(time.Second, nil)
	t.Cleanup(runner.Close)
	m := New(store, store, runner, time.Hour, time.Hour, nil)

	entry := preview.Entry{Value: []byte("{not json"), ContentType: "application/json"}
	if err := store.Put(context.Background(), "bad", entry, time.Hour); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	if _, ok := m.GetMetadata(context.Background(), "bad"); ok {
		t.Fatal("GetMetadata() ok = true for corrupt entry, want miss")
	}
}
