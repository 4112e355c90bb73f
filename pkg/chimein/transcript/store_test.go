package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, capacity int) *FileStore {
	t.Helper()
	s, err := NewFileStore(Config{Dir: t.TempDir(), Cap: capacity}, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func TestAppend_Bounded(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 5)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var got []Entry
	for i := range 12 {
		var err error
		got, err = s.Append(ctx, "discord:1", NewEntry("u1", "Ann", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if len(got) > 5 {
			t.Fatalf("transcript grew to %d entries, cap is 5", len(got))
		}
	}

	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i, e := range got {
		if want := fmt.Sprintf("m%d", 7+i); e.Content != want {
			t.Errorf("entry %d = %q, want %q (oldest evicted first)", i, e.Content, want)
		}
	}

	loaded, err := s.Load(ctx, "discord:1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 5 || loaded[4].Content != "m11" {
		t.Errorf("Load returned %+v", loaded)
	}
}

func TestLoad_MissingChannel(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 10)
	entries, err := s.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty transcript, got %d entries", len(entries))
	}
}

func TestAppend_CorruptFileStartsOver(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 10)
	if err := os.WriteFile(s.path("c"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := s.Append(context.Background(), "c", NewEntry("u", "U", "hi", time.Now()))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(got) != 1 || got[0].Content != "hi" {
		t.Errorf("got %+v", got)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 10)
	ctx := context.Background()

	existed, err := s.Clear(ctx, "c")
	if err != nil || existed {
		t.Fatalf("Clear on empty channel = %v, %v", existed, err)
	}

	if _, err := s.Append(ctx, "c", NewEntry("u", "U", "hi", time.Now())); err != nil {
		t.Fatal(err)
	}
	existed, err = s.Clear(ctx, "c")
	if err != nil || !existed {
		t.Fatalf("Clear = %v, %v; want true, nil", existed, err)
	}
	entries, _ := s.Load(ctx, "c")
	if len(entries) != 0 {
		t.Errorf("transcript not cleared: %+v", entries)
	}
}

func TestAppend_Concurrent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Append(ctx, "c", NewEntry("u", "U", fmt.Sprint(i), time.Now())); err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := s.Load(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 20 {
		t.Errorf("len = %d, want 20", len(entries))
	}
}

func TestPath_Sanitized(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 10)
	if got := filepath.Base(s.path("discord:123/../x")); got != "channel_discord_123____x.json" {
		t.Errorf("path = %q", got)
	}
}
