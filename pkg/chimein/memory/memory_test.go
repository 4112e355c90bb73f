package memory

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExtractKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"english", "The pizza with mushrooms, again!", []string{"pizza", "mushrooms", "again"}},
		{"russian", "Вообще обожаю пиццу, пиццу!", []string{"обожаю", "пиццу"}},
		{"skips links and mentions", "@anna look https://example.com кино", []string{"look", "кино"}},
		{"skips numbers and short", "42 ok go 2026", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractKeywords(tt.input)
			if !slices.Equal(got, tt.want) {
				t.Errorf("ExtractKeywords(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractFacts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []ExtractedFact
	}{
		{"like en", "honestly I like jazz music. and you?", []ExtractedFact{{FactLikes, "jazz music"}}},
		{"dislike en", "I don't like mornings", []ExtractedFact{{FactDislikes, "mornings"}}},
		{"like ru", "Я люблю котиков!", []ExtractedFact{{FactLikes, "котиков"}}},
		{"dislike ru not read as like", "я не люблю понедельники", []ExtractedFact{{FactDislikes, "понедельники"}}},
		{"name ru", "Привет, меня зовут Оля, я живу в Казани", []ExtractedFact{
			{FactName, "оля"},
			{FactLocation, "казани"},
		}},
		{"occupation", "I work as a nurse", []ExtractedFact{{FactOccupation, "a nurse"}}},
		{"nothing", "what a day", nil},
		{"mood is not an occupation", "I'm a bit tired today", nil},
		{"i am a is not an occupation", "I am a little late, sorry", nil},
		{"no match inside word", "wasabi like candy", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractFacts(tt.input)
			if !slices.Equal(got, tt.want) {
				t.Errorf("ExtractFacts(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSQLiteStore_Keywords(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, msg := range []string{"pizza tonight", "pizza or sushi", "pizza again, sushi later", "movies"} {
		if err := s.UpdateKeywords(ctx, "c1", msg); err != nil {
			t.Fatalf("UpdateKeywords: %v", err)
		}
	}
	if err := s.UpdateKeywords(ctx, "c2", "pizza"); err != nil {
		t.Fatal(err)
	}

	top, err := s.TopKeywords(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("TopKeywords: %v", err)
	}
	want := []KeywordCount{{"pizza", 3}, {"sushi", 2}}
	if !slices.Equal(top, want) {
		t.Errorf("TopKeywords = %v, want %v", top, want)
	}

	none, err := s.TopKeywords(ctx, "c1", 0)
	if err != nil || len(none) != 0 {
		t.Errorf("TopKeywords(limit 0) = %v, %v", none, err)
	}
}

func TestSQLiteStore_Facts(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	if err := s.UpdateUserFacts(ctx, "c1", "u1", "I like tea"); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(time.Minute)
	if err := s.UpdateUserFacts(ctx, "c1", "u1", "I live in Berlin"); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(time.Minute)
	// Restating refreshes recency instead of duplicating.
	if err := s.UpdateUserFacts(ctx, "c1", "u1", "i like tea"); err != nil {
		t.Fatal(err)
	}

	facts, err := s.UserFacts(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("UserFacts: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2: %+v", len(facts), facts)
	}
	if facts[0].Key != FactLikes || facts[0].Value != "tea" {
		t.Errorf("most recent fact = %+v, want likes/tea", facts[0])
	}
	if !facts[0].UpdatedAt.Equal(clock) {
		t.Errorf("UpdatedAt = %v, want %v", facts[0].UpdatedAt, clock)
	}

	other, _ := s.UserFacts(ctx, "c2", "u1")
	if len(other) != 0 {
		t.Errorf("facts leaked across channels: %+v", other)
	}
}

func TestSQLiteStore_PruneAndForget(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return old }
	if err := s.RecordMessage(ctx, "c1", "u1", "Ann", "old", old); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateUserFacts(ctx, "c1", "u1", "I like tea"); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return recent }
	if err := s.RecordMessage(ctx, "c1", "u1", "Ann", "new", recent); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Prune(ctx, recent.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("Prune removed %d rows, want 2", removed)
	}
	if n, err := s.MessageCount(ctx, "c1"); err != nil || n != 1 {
		t.Errorf("MessageCount = %d, %v; want 1", n, err)
	}

	if err := s.UpdateKeywords(ctx, "c1", "pizza"); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget(ctx, "c1"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if n, err := s.MessageCount(ctx, "c1"); err != nil || n != 0 {
		t.Errorf("MessageCount after Forget = %d, %v", n, err)
	}
	top, _ := s.TopKeywords(ctx, "c1", 5)
	if len(top) != 0 {
		t.Errorf("keywords after Forget = %v", top)
	}
}

func TestSQLiteStore_DecayKeywords(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for range 4 {
		if err := s.UpdateKeywords(ctx, "c1", "pizza"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpdateKeywords(ctx, "c1", "sushi"); err != nil {
		t.Fatal(err)
	}

	if err := s.DecayKeywords(ctx, 0.5); err != nil {
		t.Fatalf("DecayKeywords: %v", err)
	}

	top, err := s.TopKeywords(ctx, "c1", 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []KeywordCount{{"pizza", 2}}
	if !slices.Equal(top, want) {
		t.Errorf("after decay = %v, want %v", top, want)
	}
}

func TestSQLiteStore_MessageCountReportsErrors(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.Close()

	if _, err := s.MessageCount(context.Background(), "c1"); err == nil {
		t.Error("MessageCount on a closed database should fail")
	}
}
