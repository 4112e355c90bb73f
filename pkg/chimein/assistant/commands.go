package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/jholhewres/chimein/pkg/chimein/channels"
)

// Chat commands, without the prefix:
//
//	ping           - gateway latency
//	clear_history  - drop the channel transcript and reset cooldown (admins)
//	help           - list commands
const (
	cmdPing         = "ping"
	cmdClearHistory = "clear_history"
	cmdHelp         = "help"
)

// CommandResult is the outcome of a chat command.
type CommandResult struct {
	// Response is sent back to the chat. Empty means stay silent.
	Response string

	// Handled is true when the command was recognized.
	Handled bool
}

func (a *Assistant) prefix() string {
	if a.cfg.CommandPrefix == "" {
		return "!"
	}
	return a.cfg.CommandPrefix
}

func (a *Assistant) isCommand(content string) bool {
	return strings.HasPrefix(content, a.prefix())
}

// HandleCommand runs a chat command. Commands never reach the reply
// pipeline, and unknown commands are ignored silently.
func (a *Assistant) HandleCommand(ctx context.Context, msg *channels.IncomingMessage) CommandResult {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(msg.Content), a.prefix()))
	if len(fields) == 0 {
		return CommandResult{}
	}

	switch strings.ToLower(fields[0]) {
	case cmdPing:
		return CommandResult{Response: a.pingCommand(msg.Channel), Handled: true}

	case cmdClearHistory:
		if !msg.IsAdmin {
			return CommandResult{Response: "⛔ Эта команда только для администраторов.", Handled: true}
		}
		return CommandResult{Response: a.clearHistoryCommand(ctx, msg), Handled: true}

	case cmdHelp:
		return CommandResult{Response: a.helpCommand(), Handled: true}

	default:
		a.logger.Debug("unknown command", "command", fields[0])
		return CommandResult{}
	}
}

func (a *Assistant) pingCommand(platform string) string {
	ch, ok := a.channelMgr.Channel(platform)
	if !ok {
		return "Понг! 🏓"
	}
	lc, ok := ch.(channels.LatencyChannel)
	if !ok {
		return "Понг! 🏓"
	}
	return fmt.Sprintf("Понг! 🏓 Задержка: %dмс", lc.Latency().Milliseconds())
}

// clearHistoryCommand removes the transcript of the chat and resets its
// counter and cooldown. Long-term memory is kept.
func (a *Assistant) clearHistoryCommand(ctx context.Context, msg *channels.IncomingMessage) string {
	key := channelKey(msg.Channel, msg.ChatID)
	a.pipeline.Registry().Reset(key)

	cleared, err := a.transcript.Clear(ctx, key)
	if err != nil {
		a.logger.Error("clearing transcript failed", "channel_id", key, "error", err)
		return "Не получилось очистить историю 😕"
	}
	a.logger.Info("history cleared", "channel_id", key, "by", msg.From)
	if !cleared {
		return "История чата уже пуста."
	}
	return "✅ История чата очищена!"
}

func (a *Assistant) helpCommand() string {
	p := a.prefix()
	return strings.Join([]string{
		p + cmdPing + " - задержка бота",
		p + cmdClearHistory + " - очистить историю чата (только админы)",
	}, "\n")
}
