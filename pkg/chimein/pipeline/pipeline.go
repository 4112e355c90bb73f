// Package pipeline decides whether the bot chimes into a conversation and
// produces the reply. Every inbound message goes through the same steps:
// per-channel guard, persistence, gating (cooldown, cadence, explicit
// address), analysis, generation and dispatch.
package pipeline

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jholhewres/chimein/pkg/chimein/inference"
	"github.com/jholhewres/chimein/pkg/chimein/memory"
	"github.com/jholhewres/chimein/pkg/chimein/transcript"
)

// Message is an inbound chat message as seen by the pipeline.
type Message struct {
	// ChannelID is the composite "platform:chat" key.
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
	// Explicit is true when the message addresses the bot directly.
	Explicit  bool
	Timestamp time.Time
}

// TranscriptStore is the rolling per-channel message log.
type TranscriptStore interface {
	Append(ctx context.Context, channelID string, e transcript.Entry) ([]transcript.Entry, error)
	Load(ctx context.Context, channelID string) ([]transcript.Entry, error)
}

// MemoryStore is the long-term keyword and fact store.
type MemoryStore interface {
	RecordMessage(ctx context.Context, channelID, authorID, authorName, content string, ts time.Time) error
	UpdateKeywords(ctx context.Context, channelID, content string) error
	UpdateUserFacts(ctx context.Context, channelID, authorID, content string) error
	TopKeywords(ctx context.Context, channelID string, limit int) ([]memory.KeywordCount, error)
	UserFacts(ctx context.Context, channelID, authorID string) ([]memory.Fact, error)
}

// Analyzer runs the cheap classification model.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// Generator runs the reply model.
type Generator interface {
	Generate(ctx context.Context, messages []inference.Message, maxTokens int, temperature float64) (string, error)
}

// GIFLookup resolves a query to a media URL.
type GIFLookup interface {
	Search(ctx context.Context, query string) (url string, found bool, err error)
}

// Sender delivers outbound actions to the chat platform.
type Sender interface {
	SendText(ctx context.Context, channelID, text string) error
	SendMedia(ctx context.Context, channelID, url string) error
	SendTyping(ctx context.Context, channelID string) error
}

// Random is the source for cadence, pacing, GIF and fallback draws.
type Random interface {
	IntN(n int) int
	Float64() float64
}

type globalRandom struct{}

func (globalRandom) IntN(n int) int   { return rand.IntN(n) }
func (globalRandom) Float64() float64 { return rand.Float64() }

// Outcome describes what the pipeline did with a message.
type Outcome int

const (
	// OutcomeBusy: another message of the channel was in flight.
	OutcomeBusy Outcome = iota
	// OutcomeCooldown: dropped before inference, cooldown active.
	OutcomeCooldown
	// OutcomeCadence: dropped before inference, not enough messages yet.
	OutcomeCadence
	// OutcomeDeclined: the analyzer advised against replying.
	OutcomeDeclined
	// OutcomeReplied: a reply was sent.
	OutcomeReplied
	// OutcomeSendFailed: a reply was produced but could not be delivered.
	OutcomeSendFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBusy:
		return "busy"
	case OutcomeCooldown:
		return "cooldown"
	case OutcomeCadence:
		return "cadence"
	case OutcomeDeclined:
		return "declined"
	case OutcomeReplied:
		return "replied"
	case OutcomeSendFailed:
		return "send_failed"
	default:
		return "unknown"
	}
}

// StageOutcome tells whether an inference stage used the model output or
// its fallback.
type StageOutcome int

const (
	StageOK StageOutcome = iota
	StageFallback
)

func (s StageOutcome) String() string {
	if s == StageOK {
		return "ok"
	}
	return "fallback"
}

// Config tunes the pipeline.
type Config struct {
	// BotName is stripped from echoed replies and used in the default persona.
	BotName string `yaml:"-"`

	// Persona is the generator system prompt. Empty uses DefaultPersona.
	Persona string `yaml:"-"`

	// Cooldown is the minimum time between two unprompted replies.
	Cooldown time.Duration `yaml:"cooldown"`

	// CadenceMin and CadenceMax bound the random message-count threshold
	// for unprompted replies.
	CadenceMin int `yaml:"cadence_min"`
	CadenceMax int `yaml:"cadence_max"`

	// ContextWindow is how many recent messages both stages see.
	ContextWindow int `yaml:"context_window"`

	// TopKeywords is how many keywords go into the memory block.
	TopKeywords int `yaml:"top_keywords"`

	// MaxFactAuthors caps how many window authors get facts.
	MaxFactAuthors int `yaml:"max_fact_authors"`

	// FactsPerAuthor caps the facts per author.
	FactsPerAuthor int `yaml:"facts_per_author"`

	// GIFProbability is the chance of following a reply with a GIF.
	GIFProbability float64 `yaml:"gif_probability"`

	// PacingMin and PacingMax bound the artificial delay before sending.
	PacingMin time.Duration `yaml:"pacing_min"`
	PacingMax time.Duration `yaml:"pacing_max"`

	// TypingInterval is how often the typing indicator is refreshed.
	TypingInterval time.Duration `yaml:"typing_interval"`

	// Stage timeouts.
	AnalyzeTimeout  time.Duration `yaml:"analyze_timeout"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
	GIFTimeout      time.Duration `yaml:"gif_timeout"`
	SendTimeout     time.Duration `yaml:"send_timeout"`

	// Generation budget for explicit and unprompted replies.
	ExplicitMaxTokens int     `yaml:"explicit_max_tokens"`
	ImplicitMaxTokens int     `yaml:"implicit_max_tokens"`
	Temperature       float64 `yaml:"temperature"`

	// FallbackPhrases replace the reply when generation fails.
	FallbackPhrases []string `yaml:"fallback_phrases"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Cooldown:          180 * time.Second,
		CadenceMin:        5,
		CadenceMax:        7,
		ContextWindow:     4,
		TopKeywords:       5,
		MaxFactAuthors:    4,
		FactsPerAuthor:    2,
		GIFProbability:    0.3,
		PacingMin:         time.Second,
		PacingMax:         3 * time.Second,
		TypingInterval:    8 * time.Second,
		AnalyzeTimeout:    20 * time.Second,
		GenerateTimeout:   40 * time.Second,
		GIFTimeout:        5 * time.Second,
		SendTimeout:       10 * time.Second,
		ExplicitMaxTokens: 150,
		ImplicitMaxTokens: 50,
		Temperature:       0.9,
		FallbackPhrases:   DefaultFallbackPhrases,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.CadenceMin <= 0 {
		c.CadenceMin = def.CadenceMin
	}
	if c.CadenceMax < c.CadenceMin {
		c.CadenceMax = c.CadenceMin
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = def.ContextWindow
	}
	if c.TopKeywords < 0 {
		c.TopKeywords = 0
	}
	if c.MaxFactAuthors < 0 {
		c.MaxFactAuthors = 0
	}
	if c.FactsPerAuthor <= 0 {
		c.FactsPerAuthor = def.FactsPerAuthor
	}
	if c.PacingMax < c.PacingMin {
		c.PacingMax = c.PacingMin
	}
	if c.TypingInterval <= 0 {
		c.TypingInterval = def.TypingInterval
	}
	if c.AnalyzeTimeout <= 0 {
		c.AnalyzeTimeout = def.AnalyzeTimeout
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = def.GenerateTimeout
	}
	if c.GIFTimeout <= 0 {
		c.GIFTimeout = def.GIFTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	if c.ExplicitMaxTokens <= 0 {
		c.ExplicitMaxTokens = def.ExplicitMaxTokens
	}
	if c.ImplicitMaxTokens <= 0 {
		c.ImplicitMaxTokens = def.ImplicitMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = def.Temperature
	}
	if len(c.FallbackPhrases) == 0 {
		c.FallbackPhrases = DefaultFallbackPhrases
	}
	if c.Persona == "" {
		c.Persona = DefaultPersona(c.BotName, "Russian")
	}
	return c
}

// Deps are the collaborators of the pipeline. GIF may be nil.
type Deps struct {
	Registry   *Registry
	Transcript TranscriptStore
	Memory     MemoryStore
	Analyzer   Analyzer
	Generator  Generator
	GIF        GIFLookup
	Sender     Sender

	// Optional. Default to time.Now, math/rand/v2 and the global tracer.
	Clock  func() time.Time
	Random Random
	Tracer trace.Tracer
}

// Pipeline handles inbound messages.
type Pipeline struct {
	cfg    Config
	policy Policy
	logger *slog.Logger

	registry   *Registry
	transcript TranscriptStore
	memory     MemoryStore
	analyzer   Analyzer
	generator  Generator
	gif        GIFLookup
	sender     Sender

	now    func() time.Time
	rnd    Random
	tracer trace.Tracer
}

// New creates a pipeline.
func New(cfg Config, deps Deps, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	p := &Pipeline{
		cfg:        cfg,
		policy:     Policy{Cooldown: cfg.Cooldown, CadenceMin: cfg.CadenceMin, CadenceMax: cfg.CadenceMax},
		logger:     logger.With("component", "pipeline"),
		registry:   deps.Registry,
		transcript: deps.Transcript,
		memory:     deps.Memory,
		analyzer:   deps.Analyzer,
		generator:  deps.Generator,
		gif:        deps.GIF,
		sender:     deps.Sender,
		now:        deps.Clock,
		rnd:        deps.Random,
		tracer:     deps.Tracer,
	}
	if p.registry == nil {
		p.registry = NewRegistry()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.rnd == nil {
		p.rnd = globalRandom{}
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/jholhewres/chimein/pkg/chimein/pipeline")
	}
	return p
}

// Registry returns the channel state registry.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Handle runs one message through the pipeline. It never fails: every
// collaborator error is logged and replaced by the stage fallback, and the
// returned Outcome says what happened.
func (p *Pipeline) Handle(ctx context.Context, msg Message) Outcome {
	ctx, span := p.tracer.Start(ctx, "pipeline.handle", trace.WithAttributes(
		attribute.String("channel_id", msg.ChannelID),
		attribute.Bool("explicit", msg.Explicit),
	))
	defer span.End()

	logger := p.logger.With("channel_id", msg.ChannelID, "author_id", msg.AuthorID)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = p.now()
	}

	outcome := p.handle(ctx, msg, logger)
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	logger.Debug("message handled", "outcome", outcome.String())
	return outcome
}

func (p *Pipeline) handle(ctx context.Context, msg Message, logger *slog.Logger) Outcome {
	// 1. Per-channel guard. Contended messages are still recorded so later
	//    runs see them, but they never touch the channel state.
	if !p.registry.TryAcquire(msg.ChannelID) {
		p.persist(ctx, msg, logger)
		return OutcomeBusy
	}
	defer p.registry.Release(msg.ChannelID)

	// 2. Persist and count.
	entries := p.persist(ctx, msg, logger)
	state := p.registry.Get(msg.ChannelID)
	count := state.increment()

	// 3. Cooldown pre-check, before any inference.
	cooldownExpired := p.policy.CooldownExpired(state.LastResponseAt(), p.now())
	if !cooldownExpired && !msg.Explicit {
		return OutcomeCooldown
	}

	// 4. Cadence.
	threshold := p.policy.DrawThreshold(p.rnd)
	cadenceReached := count >= threshold
	if !cadenceReached && !msg.Explicit {
		logger.Debug("cadence not reached", "count", count, "threshold", threshold)
		return OutcomeCadence
	}

	window := Window(entries, p.cfg.ContextWindow)

	// 5. Analysis.
	analysis, stage := p.analyze(ctx, window, msg, cadenceReached, logger)
	logger.Debug("analysis done", "stage", stage.String(), "topic", analysis.Topic,
		"should_respond", analysis.ShouldRespond, "tone", analysis.Tone)

	// 6. Final decision.
	if !Decide(msg.Explicit, cooldownExpired, analysis.ShouldRespond) {
		return OutcomeDeclined
	}

	// 7. Composing indicator for the rest of the work.
	stopTyping := p.startTyping(ctx, msg.ChannelID, logger)
	defer stopTyping()

	// 8. Memory and generation.
	mem := p.assembleMemory(ctx, msg.ChannelID, window, logger)
	reply, stage := p.generate(ctx, window, mem, analysis, msg, logger)
	logger.Debug("generation done", "stage", stage.String())

	// 9. Dispatch.
	return p.dispatch(ctx, msg, state, reply, analysis, stopTyping, logger)
}

// persist appends the message to the transcript and memory. It returns the
// transcript as best known; storage errors are logged and never stop the
// reply path.
func (p *Pipeline) persist(ctx context.Context, msg Message, logger *slog.Logger) []transcript.Entry {
	entry := transcript.NewEntry(msg.AuthorID, msg.AuthorName, msg.Content, msg.Timestamp)

	entries, err := p.transcript.Append(ctx, msg.ChannelID, entry)
	if err != nil {
		logger.Warn("transcript append failed", "error", err)
		if len(entries) == 0 {
			loaded, lerr := p.transcript.Load(ctx, msg.ChannelID)
			if lerr != nil {
				logger.Warn("transcript load failed", "error", lerr)
			}
			entries = append(loaded, entry)
		}
	}

	if err := p.memory.RecordMessage(ctx, msg.ChannelID, msg.AuthorID, msg.AuthorName, msg.Content, msg.Timestamp); err != nil {
		logger.Warn("memory record failed", "error", err)
	}
	if err := p.memory.UpdateKeywords(ctx, msg.ChannelID, msg.Content); err != nil {
		logger.Warn("keyword update failed", "error", err)
	}
	if err := p.memory.UpdateUserFacts(ctx, msg.ChannelID, msg.AuthorID, msg.Content); err != nil {
		logger.Warn("fact update failed", "error", err)
	}
	return entries
}

// analyze runs the analyzer stage, falling back to the default analysis on
// any failure. The fallback should_respond is the cadence outcome.
func (p *Pipeline) analyze(ctx context.Context, window []transcript.Entry, msg Message, cadenceReached bool, logger *slog.Logger) (Analysis, StageOutcome) {
	ctx, span := p.tracer.Start(ctx, "pipeline.analyze")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AnalyzeTimeout)
	defer cancel()

	prompt := analysisPrompt(window, msg, cadenceReached, p.cfg.CadenceMin, p.cfg.CadenceMax)
	raw, err := p.analyzer.Analyze(callCtx, prompt)
	if err != nil {
		logger.Warn("analyzer failed, using fallback", "kind", inference.KindOf(err).String(), "error", err)
		span.SetAttributes(attribute.String("stage", StageFallback.String()))
		return FallbackAnalysis(cadenceReached), StageFallback
	}

	analysis, outcome := ParseAnalysis(raw, cadenceReached)
	if outcome != ParseOK {
		logger.Warn("analyzer output unusable, using fallback", "parse", outcome.String(), "raw", truncate(raw, 200))
		span.SetAttributes(attribute.String("stage", StageFallback.String()))
		return analysis, StageFallback
	}
	span.SetAttributes(attribute.String("stage", StageOK.String()))
	return analysis, StageOK
}

// generate runs the generator stage. Failures and empty replies become a
// random fallback phrase.
func (p *Pipeline) generate(ctx context.Context, window []transcript.Entry, mem MemoryBlock, a Analysis, msg Message, logger *slog.Logger) (string, StageOutcome) {
	ctx, span := p.tracer.Start(ctx, "pipeline.generate")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	maxTokens := p.cfg.ImplicitMaxTokens
	if msg.Explicit {
		maxTokens = p.cfg.ExplicitMaxTokens
	}

	messages := generationMessages(p.cfg.Persona, window, mem, a, msg)
	raw, err := p.generator.Generate(callCtx, messages, maxTokens, p.cfg.Temperature)
	if err != nil {
		logger.Warn("generator failed, using fallback phrase", "kind", inference.KindOf(err).String(), "error", err)
		span.SetAttributes(attribute.String("stage", StageFallback.String()))
		return p.fallbackPhrase(), StageFallback
	}

	reply := StripPrefixes(raw, p.cfg.BotName)
	if reply == "" {
		logger.Warn("generator returned an empty reply, using fallback phrase")
		span.SetAttributes(attribute.String("stage", StageFallback.String()))
		return p.fallbackPhrase(), StageFallback
	}
	span.SetAttributes(attribute.String("stage", StageOK.String()))
	return reply, StageOK
}

func (p *Pipeline) fallbackPhrase() string {
	return p.cfg.FallbackPhrases[p.rnd.IntN(len(p.cfg.FallbackPhrases))]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
