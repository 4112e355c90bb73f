package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// ChannelState is the mutable per-channel bookkeeping. It is created on the
// first message seen in a channel and lives for the process lifetime.
type ChannelState struct {
	// busy is the pipeline guard. Held while one message is being handled.
	busy atomic.Bool

	mu             sync.Mutex
	messageCount   int
	lastResponseAt time.Time
}

// MessageCount returns the number of messages seen since the last reply.
func (s *ChannelState) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// LastResponseAt returns when the bot last replied. Zero means never.
func (s *ChannelState) LastResponseAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponseAt
}

// Busy reports whether the guard is held.
func (s *ChannelState) Busy() bool { return s.busy.Load() }

func (s *ChannelState) increment() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageCount++
	return s.messageCount
}

func (s *ChannelState) markReplied(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageCount = 0
	s.lastResponseAt = at
}

func (s *ChannelState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageCount = 0
	s.lastResponseAt = time.Time{}
}

// Registry maps channel IDs to their state. Safe for concurrent use.
type Registry struct {
	states sync.Map // channelID -> *ChannelState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Get returns the state for a channel, creating it on first use.
func (r *Registry) Get(channelID string) *ChannelState {
	if v, ok := r.states.Load(channelID); ok {
		return v.(*ChannelState)
	}
	v, _ := r.states.LoadOrStore(channelID, &ChannelState{})
	return v.(*ChannelState)
}

// TryAcquire takes the channel guard without blocking. It returns false when
// another message of the same channel is being handled.
func (r *Registry) TryAcquire(channelID string) bool {
	return r.Get(channelID).busy.CompareAndSwap(false, true)
}

// Release frees the channel guard.
func (r *Registry) Release(channelID string) {
	r.Get(channelID).busy.Store(false)
}

// Reset clears the counter and cooldown of a channel.
func (r *Registry) Reset(channelID string) {
	r.Get(channelID).reset()
}

// Channels returns the IDs of every channel seen so far.
func (r *Registry) Channels() []string {
	var ids []string
	r.states.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}
