package memory

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Fact keys produced by ExtractFacts.
const (
	FactLikes      = "likes"
	FactDislikes   = "dislikes"
	FactName       = "name"
	FactLocation   = "location"
	FactOccupation = "occupation"
)

// maxFactRunes bounds a stored fact value.
const maxFactRunes = 60

// factPattern maps a first-person statement to a fact key. The value is
// captured up to the next sentence break.
type factPattern struct {
	key string
	re  *regexp.Regexp
}

// Go's \b is ASCII-only, so the leading boundary is spelled out to work for
// Cyrillic too. Dislike patterns come first so "i don't like" is not read as
// a like. Occupation requires an explicit work phrase.
var factPatterns = []factPattern{
	{FactDislikes, regexp.MustCompile(`(?i)(?:^|[\s,.!?])(?:i hate|i don't like|i do not like|i dislike|я ненавижу|я не люблю|не люблю|терпеть не могу|мне не нравится|мне не нравятся)\s+([^.,!?;\n]+)`)},
	{FactLikes, regexp.MustCompile(`(?i)(?:^|[\s,.!?])(?:i like|i love|i enjoy|i'm into|я люблю|я обожаю|обожаю|мне нравится|мне нравятся)\s+([^.,!?;\n]+)`)},
	{FactName, regexp.MustCompile(`(?i)(?:^|[\s,.!?])(?:my name is|call me|меня зовут|зовите меня)\s+([^\s.,!?;]+)`)},
	{FactLocation, regexp.MustCompile(`(?i)(?:^|[\s,.!?])(?:i live in|i'm from|i am from|я живу в|я из)\s+([^.,!?;\n]+)`)},
	{FactOccupation, regexp.MustCompile(`(?i)(?:^|[\s,.!?])(?:i work as|i work at|я работаю|я учусь)\s+([^.,!?;\n]+)`)},
}

// ExtractedFact is a key/value pair found in one message.
type ExtractedFact struct {
	Key   string
	Value string
}

// ExtractFacts scans a message for simple first-person statements. Each key
// is reported at most once per message.
func ExtractFacts(content string) []ExtractedFact {
	var facts []ExtractedFact
	seen := make(map[string]bool)
	masked := content

	for _, p := range factPatterns {
		m := p.re.FindStringSubmatchIndex(masked)
		if m == nil || seen[p.key] {
			continue
		}
		value := normalizeFactValue(masked[m[2]:m[3]])
		if value == "" {
			continue
		}
		seen[p.key] = true
		facts = append(facts, ExtractedFact{Key: p.key, Value: value})
		// Blank the matched span so a dislike is not matched again as a like.
		masked = masked[:m[0]] + strings.Repeat(" ", m[1]-m[0]) + masked[m[1]:]
	}
	return facts
}

func normalizeFactValue(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if utf8.RuneCountInString(v) > maxFactRunes {
		v = strings.TrimSpace(string([]rune(v)[:maxFactRunes]))
	}
	return v
}
