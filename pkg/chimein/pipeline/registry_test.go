package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistry_GetIsIdempotent(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	a := r.Get("d:1")
	if a != r.Get("d:1") {
		t.Fatal("Get returned different states for the same channel")
	}
	if a.MessageCount() != 0 || !a.LastResponseAt().IsZero() || a.Busy() {
		t.Errorf("new state not zero: count=%d last=%v busy=%v", a.MessageCount(), a.LastResponseAt(), a.Busy())
	}
}

func TestRegistry_TryAcquire(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	if !r.TryAcquire("d:1") {
		t.Fatal("first acquire failed")
	}
	if r.TryAcquire("d:1") {
		t.Fatal("second acquire succeeded while held")
	}
	if !r.TryAcquire("d:2") {
		t.Fatal("other channel blocked")
	}
	r.Release("d:1")
	if !r.TryAcquire("d:1") {
		t.Fatal("acquire after release failed")
	}
}

func TestRegistry_ConcurrentFirstTouch(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	const workers = 50
	var (
		wg       sync.WaitGroup
		acquired atomic.Int32
		states   sync.Map
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states.Store(i, r.Get("d:shared"))
			if r.TryAcquire("d:shared") {
				acquired.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if n := acquired.Load(); n != 1 {
		t.Errorf("%d goroutines acquired the guard, want 1", n)
	}
	first, _ := states.Load(0)
	states.Range(func(_, v any) bool {
		if v != first {
			t.Error("concurrent Get created more than one state")
			return false
		}
		return true
	})
}

func TestRegistry_Reset(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s := r.Get("d:1")
	s.increment()
	s.markReplied(time.Unix(100, 0))
	s.increment()

	r.Reset("d:1")
	if s.MessageCount() != 0 || !s.LastResponseAt().IsZero() {
		t.Errorf("after reset: count=%d last=%v", s.MessageCount(), s.LastResponseAt())
	}
}

func TestPolicy_CooldownExpired(t *testing.T) {
	t.Parallel()
	p := Policy{Cooldown: 180 * time.Second}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		last time.Time
		now  time.Time
		want bool
	}{
		{name: "never replied", now: base, want: true},
		{name: "just replied", last: base, now: base.Add(10 * time.Second), want: false},
		{name: "one tick short", last: base, now: base.Add(180*time.Second - time.Nanosecond), want: false},
		{name: "exactly expired", last: base, now: base.Add(180 * time.Second), want: true},
		{name: "long ago", last: base, now: base.Add(time.Hour), want: true},
	}
	for _, tt := range tests {
		if got := p.CooldownExpired(tt.last, tt.now); got != tt.want {
			t.Errorf("%s: CooldownExpired = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPolicy_DrawThreshold(t *testing.T) {
	t.Parallel()
	p := Policy{CadenceMin: 5, CadenceMax: 7}

	for draw, want := range map[int]int{0: 5, 1: 6, 2: 7} {
		rnd := &scriptedRandom{ints: []int{draw}}
		if got := p.DrawThreshold(rnd); got != want {
			t.Errorf("draw %d: threshold = %d, want %d", draw, got, want)
		}
	}

	// Redrawn on every call.
	rnd := &scriptedRandom{ints: []int{2, 0}}
	if a, b := p.DrawThreshold(rnd), p.DrawThreshold(rnd); a != 7 || b != 5 {
		t.Errorf("consecutive draws = %d, %d, want 7, 5", a, b)
	}

	for i := 0; i < 200; i++ {
		if got := p.DrawThreshold(globalRandom{}); got < 5 || got > 7 {
			t.Fatalf("threshold %d out of range", got)
		}
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		explicit, cooldownExpired, confirms, want bool
	}{
		{true, false, false, true},
		{true, true, false, true},
		{false, true, true, true},
		{false, true, false, false},
		{false, false, true, false},
		{false, false, false, false},
	}
	for _, tt := range tests {
		if got := Decide(tt.explicit, tt.cooldownExpired, tt.confirms); got != tt.want {
			t.Errorf("Decide(%v, %v, %v) = %v, want %v", tt.explicit, tt.cooldownExpired, tt.confirms, got, tt.want)
		}
	}
}
