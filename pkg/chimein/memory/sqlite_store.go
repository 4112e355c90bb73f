// Package memory – sqlite_store.go implements the long-term memory of the bot:
// a per-channel keyword frequency table and a per-user fact table, plus a
// raw message log used for retention. Everything lives in one SQLite file.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// maxFactsReturned caps UserFacts results.
const maxFactsReturned = 10

// KeywordCount is a keyword and how often it was seen in a channel.
type KeywordCount struct {
	Keyword string
	Count   int
}

// Fact is a remembered statement about a user.
type Fact struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Config configures the memory database and its maintenance.
type Config struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// RetentionDays drops messages and facts older than this. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`

	// MaintenanceSchedule is a cron expression for pruning and keyword decay.
	MaintenanceSchedule string `yaml:"maintenance_schedule"`

	// KeywordDecay multiplies every keyword count on each maintenance run.
	// 1 disables decay.
	KeywordDecay float64 `yaml:"keyword_decay"`
}

// DefaultConfig returns the default memory configuration.
func DefaultConfig() Config {
	return Config{
		Path:                "./data/memory.db",
		RetentionDays:       90,
		MaintenanceSchedule: "@daily",
		KeywordDecay:        0.9,
	}
}

// SQLiteStore provides persistent keyword and fact storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens or creates the memory database.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.With("component", "memory"),
		now:    time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// initSchema creates the required tables and indices.
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id  TEXT NOT NULL,
			author_id   TEXT NOT NULL,
			author_name TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at);

		CREATE TABLE IF NOT EXISTS keywords (
			channel_id TEXT NOT NULL,
			keyword    TEXT NOT NULL,
			count      INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (channel_id, keyword)
		);

		CREATE TABLE IF NOT EXISTS user_facts (
			channel_id TEXT NOT NULL,
			author_id  TEXT NOT NULL,
			fact_key   TEXT NOT NULL,
			fact_value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (channel_id, author_id, fact_key, fact_value)
		);
		CREATE INDEX IF NOT EXISTS idx_facts_author ON user_facts(channel_id, author_id, updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordMessage appends a raw message to the log.
func (s *SQLiteStore) RecordMessage(ctx context.Context, channelID, authorID, authorName, content string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (channel_id, author_id, author_name, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		channelID, authorID, authorName, content, ts.UnixNano())
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// UpdateKeywords increments the frequency of every keyword in content.
func (s *SQLiteStore) UpdateKeywords(ctx context.Context, channelID, content string) error {
	keywords := ExtractKeywords(content)
	if len(keywords) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO keywords (channel_id, keyword, count, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(channel_id, keyword) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := s.now().UnixNano()
	for _, kw := range keywords {
		if _, err := stmt.ExecContext(ctx, channelID, kw, now); err != nil {
			return fmt.Errorf("upsert keyword %q: %w", kw, err)
		}
	}
	return tx.Commit()
}

// UpdateUserFacts stores any facts the author states about themselves.
// Restating a known fact refreshes its recency.
func (s *SQLiteStore) UpdateUserFacts(ctx context.Context, channelID, authorID, content string) error {
	facts := ExtractFacts(content)
	if len(facts) == 0 {
		return nil
	}

	now := s.now().UnixNano()
	for _, f := range facts {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO user_facts (channel_id, author_id, fact_key, fact_value, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(channel_id, author_id, fact_key, fact_value) DO UPDATE SET updated_at = excluded.updated_at`,
			channelID, authorID, f.Key, f.Value, now)
		if err != nil {
			return fmt.Errorf("upsert fact: %w", err)
		}
		s.logger.Debug("fact remembered", "channel_id", channelID, "author_id", authorID, "key", f.Key)
	}
	return nil
}

// TopKeywords returns the most frequent keywords of a channel.
func (s *SQLiteStore) TopKeywords(ctx context.Context, channelID string, limit int) ([]KeywordCount, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT keyword, count FROM keywords WHERE channel_id = ? AND count > 0
		 ORDER BY count DESC, updated_at DESC, keyword ASC LIMIT ?`,
		channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	var out []KeywordCount
	for rows.Next() {
		var kc KeywordCount
		if err := rows.Scan(&kc.Keyword, &kc.Count); err != nil {
			return nil, err
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

// UserFacts returns what is known about an author, most recent first.
func (s *SQLiteStore) UserFacts(ctx context.Context, channelID, authorID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact_key, fact_value, updated_at FROM user_facts
		 WHERE channel_id = ? AND author_id = ?
		 ORDER BY updated_at DESC, rowid DESC LIMIT ?`,
		channelID, authorID, maxFactsReturned)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var (
			f  Fact
			ts int64
		)
		if err := rows.Scan(&f.Key, &f.Value, &ts); err != nil {
			return nil, err
		}
		f.UpdatedAt = time.Unix(0, ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Forget removes everything stored for a channel.
func (s *SQLiteStore) Forget(ctx context.Context, channelID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"messages", "keywords", "user_facts"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE channel_id = ?", channelID); err != nil {
			return fmt.Errorf("forget %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// Prune deletes messages and facts last touched before the cutoff. It
// returns the number of rows removed.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UnixNano()
	var total int64

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx, `DELETE FROM user_facts WHERE updated_at < ?`, cutoff)
	if err != nil {
		return total, fmt.Errorf("prune facts: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}

// DecayKeywords scales every keyword count by factor (0 < factor < 1) and
// drops keywords that reach zero, so stale topics fade from the memory block.
func (s *SQLiteStore) DecayKeywords(ctx context.Context, factor float64) error {
	if factor <= 0 || factor >= 1 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE keywords SET count = CAST(count * ? AS INTEGER)`, factor); err != nil {
		return fmt.Errorf("decay keywords: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM keywords WHERE count <= 0`); err != nil {
		return fmt.Errorf("drop faded keywords: %w", err)
	}
	return nil
}

// MessageCount returns the number of logged messages for a channel.
func (s *SQLiteStore) MessageCount(ctx context.Context, channelID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE channel_id = ?", channelID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
