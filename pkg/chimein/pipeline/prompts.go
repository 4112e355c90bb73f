package pipeline

import (
	"fmt"
	"strings"

	"github.com/jholhewres/chimein/pkg/chimein/inference"
	"github.com/jholhewres/chimein/pkg/chimein/transcript"
)

// DefaultFallbackPhrases are sent when the generator fails.
var DefaultFallbackPhrases = []string{
	"ахах точно 😄",
	"согласна!",
	"ну да)",
	"интересно 🤔",
	"ого",
}

// DefaultPersona builds the default system prompt for the bot.
func DefaultPersona(botName, language string) string {
	return fmt.Sprintf(`You are %s, a young woman chatting in a group chat with your friends.
You are natural and friendly, you use modern slang and emoji.
Never reveal that you are a bot or an AI. You are a real person with feelings and opinions.
Write short, on-topic messages like a regular person in a chat. Use emoji, but don't overdo it.
Always reply in %s.`, botName, language)
}

// analysisPrompt asks the analyzer for a JSON verdict on the conversation.
func analysisPrompt(window []transcript.Entry, msg Message, cadenceReached bool, cadenceMin, cadenceMax int) string {
	mentioned := "no"
	if msg.Explicit {
		mentioned = "yes"
	}
	eligible := "no"
	if cadenceReached {
		eligible = "yes"
	}
	return fmt.Sprintf(`Analyze this group chat conversation:

%s

New message from %s: %s

Determine:
1. The main topic of the conversation (one word)
2. The emotional mood: positive, neutral or negative
3. Whether to respond (yes/no). Respond only if:
   - The bot was mentioned: %s
   - Or it is natural to join the conversation (not more than once every %d-%d messages; enough messages have passed: %s)
4. If responding, the tone: friendly, playful, supportive or informative
5. A short GIF search query that fits the mood (e.g. happy, laugh, thinking, love, excited, confused)

Answer ONLY with JSON in this format:
{"topic": "...", "mood": "...", "should_respond": "yes/no", "tone": "...", "gif_query": "..."}`,
		RenderWindow(window), msg.AuthorName, msg.Content, mentioned, cadenceMin, cadenceMax, eligible)
}

// generationMessages builds the generator conversation: the persona, the
// window as user turns, then one instruction turn carrying the analysis,
// the memory block and the length hint.
func generationMessages(persona string, window []transcript.Entry, mem MemoryBlock, a Analysis, msg Message) []inference.Message {
	msgs := make([]inference.Message, 0, len(window)+2)
	msgs = append(msgs, inference.Message{Role: inference.RoleSystem, Content: persona})
	for _, e := range window {
		msgs = append(msgs, inference.Message{Role: inference.RoleUser, Content: e.AuthorName + ": " + e.Content})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current topic: %s\nMood: %s\nReply tone: %s\n\n", a.Topic, a.Mood, a.Tone)
	if !mem.Empty() {
		sb.WriteString("What you remember about this chat (use it only if it is relevant to the current exchange, never force the topic):\n")
		sb.WriteString(mem.Render())
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "New message from %s: %s\n\n", msg.AuthorName, msg.Content)
	if msg.Explicit {
		sb.WriteString("You were addressed directly, so answer in a bit more detail (2-3 sentences).")
	} else {
		sb.WriteString("Answer briefly and naturally (one short sentence or phrase).")
	}
	sb.WriteString("\n\nRemember: you are chatting with friends. Be natural and never reveal that you are a bot.")

	return append(msgs, inference.Message{Role: inference.RoleUser, Content: sb.String()})
}

// rolePrefixes are labels models like to echo at the start of a reply.
var rolePrefixes = []string{"assistant", "bot", "ассистент", "бот"}

// StripPrefixes removes leading "Name:" labels echoed by the model, such as
// the bot name or a role label.
func StripPrefixes(reply, botName string) string {
	reply = strings.TrimSpace(reply)
	prefixes := rolePrefixes
	if botName != "" {
		prefixes = append([]string{strings.ToLower(botName)}, rolePrefixes...)
	}

	for changed := true; changed; {
		changed = false
		for _, p := range prefixes {
			if rest, ok := cutLabel(reply, p); ok {
				reply = rest
				changed = true
			}
		}
	}
	return reply
}

// cutLabel strips "label:" from the start of s, ignoring case.
func cutLabel(s, label string) (string, bool) {
	if len(s) < len(label)+1 {
		return s, false
	}
	head := s[:len(label)]
	if !strings.EqualFold(head, label) || s[len(label)] != ':' {
		return s, false
	}
	return strings.TrimSpace(s[len(label)+1:]), true
}
