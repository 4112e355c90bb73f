package memory

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minKeywordRunes is the shortest token counted as a keyword.
const minKeywordRunes = 3

// ExtractKeywords pulls the meaningful words out of a chat message: lowercased,
// punctuation trimmed, stop words and short tokens removed. Links, mentions
// and numbers are skipped. Each keyword appears at most once per message.
func ExtractKeywords(content string) []string {
	words := strings.Fields(strings.ToLower(content))
	seen := make(map[string]bool, len(words))
	var keywords []string
	for _, w := range words {
		if strings.HasPrefix(w, "http://") || strings.HasPrefix(w, "https://") ||
			strings.HasPrefix(w, "@") || strings.HasPrefix(w, "<") {
			continue
		}
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if utf8.RuneCountInString(w) < minKeywordRunes || stopWords[w] || isNumber(w) {
			continue
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// stopWords are common words filtered out during keyword extraction.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "its": true, "let": true, "may": true, "who": true,
	"did": true, "get": true, "got": true, "him": true, "his": true,
	"how": true, "now": true, "see": true, "too": true, "yes": true,
	"that": true, "with": true, "have": true, "this": true, "will": true,
	"your": true, "from": true, "they": true, "been": true, "said": true,
	"which": true, "their": true, "what": true, "about": true, "would": true,
	"there": true, "when": true, "like": true, "just": true, "know": true,
	"could": true, "than": true, "only": true, "into": true, "some": true,
	"them": true, "then": true, "these": true, "where": true, "much": true,
	"should": true, "well": true, "yeah": true, "okay": true, "really": true,
	"lol": true, "haha": true,
	// Russian
	"это": true, "как": true, "что": true, "так": true, "все": true,
	"всё": true, "она": true, "они": true, "его": true, "где": true,
	"там": true, "тут": true, "когда": true, "если": true, "или": true,
	"уже": true, "еще": true, "ещё": true, "был": true, "была": true,
	"было": true, "были": true, "быть": true, "мне": true, "меня": true,
	"тебя": true, "тебе": true, "кто": true, "вот": true, "нет": true,
	"только": true, "очень": true, "просто": true, "чтобы": true,
	"потому": true, "будет": true, "может": true, "можно": true,
	"надо": true, "него": true, "нее": true, "неё": true, "них": true,
	"вас": true, "нас": true, "для": true, "при": true, "про": true,
	"без": true, "над": true, "под": true, "тоже": true, "даже": true,
	"вообще": true, "сейчас": true, "тогда": true, "ага": true,
	"ахах": true, "хаха": true, "ладно": true, "типа": true, "какой": true,
	"какая": true, "какие": true, "этот": true, "эта": true, "эти": true,
	"мой": true, "моя": true, "мои": true, "твой": true, "чем": true,
}
