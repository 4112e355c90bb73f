package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// startTyping shows the composing indicator until the returned stop func is
// called. The indicator expires on the platform side, so it is refreshed
// every TypingInterval. stop is idempotent and waits for the goroutine.
func (p *Pipeline) startTyping(ctx context.Context, channelID string, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.TypingInterval)
		defer ticker.Stop()
		for {
			if err := p.sender.SendTyping(ctx, channelID); err != nil && ctx.Err() == nil {
				logger.Debug("typing indicator failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// pacingDelay draws the artificial delay before a reply is sent.
func (p *Pipeline) pacingDelay() time.Duration {
	if p.cfg.PacingMax <= 0 {
		return 0
	}
	span := p.cfg.PacingMax - p.cfg.PacingMin
	return p.cfg.PacingMin + time.Duration(p.rnd.Float64()*float64(span))
}

// dispatch sends the reply and the optional GIF. The channel state is
// updated only once the text reply went through.
func (p *Pipeline) dispatch(ctx context.Context, msg Message, state *ChannelState, reply string, a Analysis, stopTyping func(), logger *slog.Logger) Outcome {
	ctx, span := p.tracer.Start(ctx, "pipeline.dispatch")
	defer span.End()

	if d := p.pacingDelay(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	err := p.sender.SendText(sendCtx, msg.ChannelID, reply)
	cancel()
	stopTyping()
	if err != nil {
		logger.Error("sending reply failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return OutcomeSendFailed
	}

	state.markReplied(p.now())
	logger.Info("replied", "explicit", msg.Explicit, "topic", a.Topic, "tone", string(a.Tone))

	// The draw always happens so the random sequence does not depend on
	// whether GIFs are configured.
	draw := p.rnd.Float64()
	span.SetAttributes(attribute.Float64("gif_draw", draw))
	if draw >= p.cfg.GIFProbability || p.gif == nil || a.GIFQuery == "" {
		return OutcomeReplied
	}
	p.sendGIF(ctx, msg.ChannelID, a.GIFQuery, logger)
	return OutcomeReplied
}

// sendGIF looks up and sends a GIF. Every failure here is silent for the
// chat: the text reply already went out.
func (p *Pipeline) sendGIF(ctx context.Context, channelID, query string, logger *slog.Logger) {
	lookupCtx, cancel := context.WithTimeout(ctx, p.cfg.GIFTimeout)
	defer cancel()

	url, found, err := p.gif.Search(lookupCtx, query)
	if err != nil {
		logger.Warn("gif lookup failed", "query", query, "error", err)
		return
	}
	if !found {
		logger.Debug("no gif found", "query", query)
		return
	}

	sendCtx, cancelSend := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancelSend()
	if err := p.sender.SendMedia(sendCtx, channelID, url); err != nil {
		logger.Warn("sending gif failed", "error", err)
	}
}
