package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/chimein/pkg/chimein/memory"
	"github.com/jholhewres/chimein/pkg/chimein/transcript"
)

// MemoryBlock is the advisory long-term context attached to a generation.
type MemoryBlock struct {
	Keywords []memory.KeywordCount
	Users    []UserFacts
}

// UserFacts are the remembered facts of one author in the window.
type UserFacts struct {
	AuthorName string
	Facts      []memory.Fact
}

// Empty reports whether there is nothing to tell the generator.
func (m MemoryBlock) Empty() bool {
	return len(m.Keywords) == 0 && len(m.Users) == 0
}

// Render formats the block for the prompt.
func (m MemoryBlock) Render() string {
	if m.Empty() {
		return ""
	}
	var sb strings.Builder
	if len(m.Keywords) > 0 {
		parts := make([]string, 0, len(m.Keywords))
		for _, kw := range m.Keywords {
			parts = append(parts, fmt.Sprintf("%s (%d)", kw.Keyword, kw.Count))
		}
		sb.WriteString("Frequent topics in this chat: ")
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")
	}
	for _, u := range m.Users {
		parts := make([]string, 0, len(u.Facts))
		for _, f := range u.Facts {
			parts = append(parts, f.Key+": "+f.Value)
		}
		fmt.Fprintf(&sb, "About %s: %s\n", u.AuthorName, strings.Join(parts, "; "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Window returns the last k entries.
func Window(entries []transcript.Entry, k int) []transcript.Entry {
	if k <= 0 || len(entries) <= k {
		return entries
	}
	return entries[len(entries)-k:]
}

// RenderWindow formats entries as "Author: text" lines.
func RenderWindow(entries []transcript.Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.AuthorName+": "+e.Content)
	}
	return strings.Join(lines, "\n")
}

// windowAuthors lists distinct authors of the window, most recent first.
func windowAuthors(window []transcript.Entry, limit int) []transcript.Entry {
	seen := make(map[string]bool)
	var out []transcript.Entry
	for i := len(window) - 1; i >= 0 && len(out) < limit; i-- {
		e := window[i]
		if seen[e.AuthorID] {
			continue
		}
		seen[e.AuthorID] = true
		out = append(out, e)
	}
	return out
}

// assembleMemory queries the memory store for the channel keywords and the
// facts of the authors present in the window. Store errors leave the
// corresponding part empty.
func (p *Pipeline) assembleMemory(ctx context.Context, channelID string, window []transcript.Entry, logger *slog.Logger) MemoryBlock {
	var block MemoryBlock

	keywords, err := p.memory.TopKeywords(ctx, channelID, p.cfg.TopKeywords)
	if err != nil {
		logger.Warn("loading keywords failed", "error", err)
	} else {
		block.Keywords = keywords
	}

	for _, author := range windowAuthors(window, p.cfg.MaxFactAuthors) {
		facts, err := p.memory.UserFacts(ctx, channelID, author.AuthorID)
		if err != nil {
			logger.Warn("loading user facts failed", "fact_author_id", author.AuthorID, "error", err)
			continue
		}
		if len(facts) == 0 {
			continue
		}
		if len(facts) > p.cfg.FactsPerAuthor {
			facts = facts[:p.cfg.FactsPerAuthor]
		}
		block.Users = append(block.Users, UserFacts{AuthorName: author.AuthorName, Facts: facts})
	}
	return block
}
