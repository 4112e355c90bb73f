// Package transcript keeps a bounded rolling log of recent messages per
// channel, persisted as one JSON file per channel.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCap is the number of entries kept per channel.
const DefaultCap = 50

// Entry is one recorded message.
type Entry struct {
	ID         string    `json:"id"`
	AuthorName string    `json:"author"`
	AuthorID   string    `json:"author_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewEntry builds an entry with a fresh ID.
func NewEntry(authorID, authorName, content string, ts time.Time) Entry {
	return Entry{
		ID:         uuid.NewString(),
		AuthorName: authorName,
		AuthorID:   authorID,
		Content:    content,
		Timestamp:  ts,
	}
}

// Config configures the file store.
type Config struct {
	// Dir holds one channel_<id>.json file per channel.
	Dir string `yaml:"dir"`

	// Cap is the maximum number of entries kept per channel.
	Cap int `yaml:"cap"`
}

// DefaultConfig returns the default transcript configuration.
func DefaultConfig() Config {
	return Config{Dir: "./data/chat_logs", Cap: DefaultCap}
}

// FileStore persists transcripts as JSON arrays on disk. Writes go through a
// temp file and rename so a crash never leaves a truncated file behind.
type FileStore struct {
	dir    string
	cap    int
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates the store, making sure the directory exists.
func NewFileStore(cfg Config, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating transcript dir: %w", err)
	}
	return &FileStore{
		dir:    cfg.Dir,
		cap:    cfg.Cap,
		logger: logger.With("component", "transcript"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Append records an entry and returns the channel transcript after trimming
// it to the cap, oldest first.
func (s *FileStore) Append(ctx context.Context, channelID string, e Entry) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	lock := s.lockFor(channelID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.read(channelID)
	if err != nil {
		// A corrupt file should not block new messages; start over.
		s.logger.Warn("transcript unreadable, starting fresh", "channel_id", channelID, "error", err)
		entries = nil
	}

	entries = append(entries, e)
	if over := len(entries) - s.cap; over > 0 {
		entries = entries[over:]
	}

	if err := s.write(channelID, entries); err != nil {
		return entries, err
	}
	return entries, nil
}

// Load returns the channel transcript. A channel with no file yields an
// empty slice.
func (s *FileStore) Load(ctx context.Context, channelID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := s.lockFor(channelID)
	lock.Lock()
	defer lock.Unlock()
	return s.read(channelID)
}

// Clear deletes the channel transcript. It reports whether a file existed.
func (s *FileStore) Clear(ctx context.Context, channelID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	lock := s.lockFor(channelID)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.path(channelID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("removing transcript: %w", err)
	}
}

func (s *FileStore) lockFor(channelID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[channelID] = l
	}
	return l
}

func (s *FileStore) read(channelID string) ([]Entry, error) {
	data, err := os.ReadFile(s.path(channelID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}
	return entries, nil
}

func (s *FileStore) write(channelID string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".transcript-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing transcript: %w", err)
	}
	if err := os.Rename(tmpName, s.path(channelID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing transcript: %w", err)
	}
	return nil
}

// path maps a channel key to its file. Keys like "discord:123" become
// channel_discord_123.json.
func (s *FileStore) path(channelID string) string {
	return filepath.Join(s.dir, "channel_"+sanitize(channelID)+".json")
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}
