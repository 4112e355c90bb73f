package pipeline

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
)

// Mood of the conversation as seen by the analyzer.
type Mood string

const (
	MoodPositive Mood = "positive"
	MoodNeutral  Mood = "neutral"
	MoodNegative Mood = "negative"
)

// Tone the reply should take.
type Tone string

const (
	ToneFriendly    Tone = "friendly"
	TonePlayful     Tone = "playful"
	ToneSupportive  Tone = "supportive"
	ToneInformative Tone = "informative"
)

// Analysis is the structured read of the conversation produced by the
// analyzer stage.
type Analysis struct {
	Topic         string
	Mood          Mood
	ShouldRespond bool
	Tone          Tone
	GIFQuery      string
}

// ParseOutcome tells how ParseAnalysis produced its result.
type ParseOutcome int

const (
	// ParseOK means a JSON object was found and decoded.
	ParseOK ParseOutcome = iota
	// ParseNoObject means the output held no balanced {...} span.
	ParseNoObject
	// ParseInvalid means a span was found but it is not a usable object.
	ParseInvalid
)

func (o ParseOutcome) String() string {
	switch o {
	case ParseOK:
		return "ok"
	case ParseNoObject:
		return "no_object"
	case ParseInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

const (
	fallbackTopic    = "general"
	fallbackGIFQuery = "smile"
)

// FallbackAnalysis is used whenever the analyzer cannot be trusted.
// shouldRespond carries the cadence decision.
func FallbackAnalysis(shouldRespond bool) Analysis {
	return Analysis{
		Topic:         fallbackTopic,
		Mood:          MoodNeutral,
		ShouldRespond: shouldRespond,
		Tone:          ToneFriendly,
		GIFQuery:      fallbackGIFQuery,
	}
}

// ParseAnalysis extracts the analysis from raw model output. The output may
// wrap the object in prose or code fences; the first balanced {...} span is
// decoded, tolerating comments and trailing commas. Missing or unknown
// fields take their fallback values, and a missing should_respond takes
// defaultRespond.
func ParseAnalysis(raw string, defaultRespond bool) (Analysis, ParseOutcome) {
	span, ok := firstObject(raw)
	if !ok {
		return FallbackAnalysis(defaultRespond), ParseNoObject
	}

	js := jsonc.ToJSON([]byte(span))
	if !gjson.ValidBytes(js) {
		return FallbackAnalysis(defaultRespond), ParseInvalid
	}
	res := gjson.ParseBytes(js)
	if !res.IsObject() {
		return FallbackAnalysis(defaultRespond), ParseInvalid
	}

	a := FallbackAnalysis(defaultRespond)
	if topic := strings.TrimSpace(res.Get("topic").String()); topic != "" {
		a.Topic = topic
	}
	a.Mood = parseMood(res.Get("mood").String())
	a.Tone = parseTone(res.Get("tone").String())
	if v, ok := parseBool(res.Get("should_respond")); ok {
		a.ShouldRespond = v
	}
	if q := strings.TrimSpace(res.Get("gif_query").String()); q != "" {
		a.GIFQuery = q
	}
	return a, ParseOK
}

// firstObject returns the first balanced {...} span, ignoring braces inside
// JSON strings.
func firstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace finds the brace closing the one at open.
func matchBrace(s string, open int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func parseBool(r gjson.Result) (bool, bool) {
	switch r.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.Number:
		return r.Int() != 0, true
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(r.String())) {
		case "yes", "true", "y", "1", "да", "ага":
			return true, true
		case "no", "false", "n", "0", "нет":
			return false, true
		}
	}
	return false, false
}

func parseMood(s string) Mood {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "pos"), strings.HasPrefix(s, "позитив"), strings.HasPrefix(s, "радост"):
		return MoodPositive
	case strings.HasPrefix(s, "neg"), strings.HasPrefix(s, "негатив"), strings.HasPrefix(s, "груст"):
		return MoodNegative
	default:
		return MoodNeutral
	}
}

func parseTone(s string) Tone {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "play"), strings.HasPrefix(s, "игрив"), strings.HasPrefix(s, "шутл"):
		return TonePlayful
	case strings.HasPrefix(s, "support"), strings.HasPrefix(s, "поддерж"):
		return ToneSupportive
	case strings.HasPrefix(s, "inform"), strings.HasPrefix(s, "информ"):
		return ToneInformative
	default:
		return ToneFriendly
	}
}
