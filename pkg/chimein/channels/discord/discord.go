// Package discord implements the Discord channel for chimein using discordgo.
//
// Features:
//   - Receive guild and DM text messages, flagging explicit mentions
//   - Send text (split at the 2000 character limit) and GIF links
//   - Typing indicators
//   - Administrator permission lookup for privileged commands
//   - Guild and channel allowlists
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/chimein/pkg/chimein/channels"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token. Usually resolved from the keyring or
	// DISCORD_TOKEN rather than written in the config file.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot listens in.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot listens in.
	// Empty means all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// ListenToDMs enables direct messages.
	ListenToDMs bool `yaml:"listen_to_dms"`

	// CommandPrefix marks privileged commands. The administrator check only
	// runs for messages starting with it.
	CommandPrefix string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{ListenToDMs: true, CommandPrefix: "!"}
}

// Discord implements channels.Channel, channels.MediaChannel,
// channels.PresenceChannel and channels.LatencyChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the channel for incoming messages forwarded to the assistant.
	messages chan *channels.IncomingMessage

	// permissions resolves a member's permission bits in a channel.
	permissions func(userID, channelID string) (int64, error)

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	// IntentsGuilds keeps guilds, channels and roles in the state cache so
	// permission lookups are resolved locally.
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	d.permissions = func(userID, channelID string) (int64, error) {
		return session.UserChannelPermissions(userID, channelID)
	}

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			d.logger.Warn("discord: closing session", "error", err)
		}
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a text message to the specified channel, splitting it when it
// exceeds the Discord length limit.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	for i, chunk := range splitMessage(message.Content, maxMessageLen) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo, ChannelID: to}
		}
		if _, err := d.session.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("discord: send: %w", err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
		LatencyMs:     d.Latency().Milliseconds(),
	}
}

// SendMedia posts the media URL; Discord unfurls GIF links inline.
func (d *Discord) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}
	if media.URL == "" {
		return fmt.Errorf("discord: media URL is empty")
	}
	content := media.URL
	if media.Caption != "" {
		content = media.Caption + "\n" + media.URL
	}
	if _, err := d.session.ChannelMessageSend(to, content, discordgo.WithContext(ctx)); err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("discord: send media: %w", err)
	}
	return nil
}

// SendTyping sends a typing indicator to the channel. Discord clears it
// after about ten seconds.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	if d.session == nil {
		return nil
	}
	return d.session.ChannelTyping(to, discordgo.WithContext(ctx))
}

// Latency returns the gateway heartbeat round trip.
func (d *Discord) Latency() time.Duration {
	if d.session == nil {
		return 0
	}
	return d.session.HeartbeatLatency()
}

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || s.State == nil || s.State.User == nil {
		return
	}
	botID := s.State.User.ID

	// Ignore our own messages and other bots.
	if m.Author.ID == botID || m.Author.Bot {
		return
	}

	isGroup := m.GuildID != ""
	if !isGroup && !d.cfg.ListenToDMs {
		return
	}
	if !d.allowed(m.GuildID, m.ChannelID) {
		return
	}

	incoming := d.incoming(m.Message, botID, s.State.User.Username)

	d.lastMsg.Store(time.Now())

	if !d.connected.Load() {
		return
	}
	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// incoming converts a gateway message. Administrator rights are looked up
// only for guild commands.
func (d *Discord) incoming(m *discordgo.Message, botID, botName string) *channels.IncomingMessage {
	isGroup := m.GuildID != ""
	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  displayName(m),
		ChatID:    m.ChannelID,
		IsGroup:   isGroup,
		Content:   cleanContent(m.Content, botID, botName),
		Mentioned: isMentioned(m, botID) || !isGroup,
		Timestamp: m.Timestamp,
	}
	if isGroup && strings.HasPrefix(incoming.Content, d.cfg.CommandPrefix) {
		incoming.IsAdmin = d.isAdmin(m.Author.ID, m.ChannelID)
	}
	if m.ReferencedMessage != nil {
		incoming.Metadata = map[string]any{"reply_to": m.ReferencedMessage.ID}
	}
	return incoming
}

// allowed applies the guild and channel allowlists.
func (d *Discord) allowed(guildID, channelID string) bool {
	if len(d.cfg.AllowedGuilds) > 0 && guildID != "" && !slices.Contains(d.cfg.AllowedGuilds, guildID) {
		return false
	}
	if len(d.cfg.AllowedChannels) > 0 && !slices.Contains(d.cfg.AllowedChannels, channelID) {
		return false
	}
	return true
}

func (d *Discord) isAdmin(userID, channelID string) bool {
	if d.permissions == nil {
		return false
	}
	perms, err := d.permissions(userID, channelID)
	if err != nil {
		d.logger.Debug("discord: permission lookup failed", "user", userID, "channel", channelID, "error", err)
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// isMentioned reports whether the message addresses the bot, either through a
// user mention or as a reply to one of the bot's messages.
func isMentioned(m *discordgo.Message, botID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			return true
		}
	}
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil && ref.Author.ID == botID {
		return true
	}
	return false
}

// displayName prefers the guild nickname, then the global display name.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// cleanContent replaces raw bot mention tokens with a readable @name.
func cleanContent(content, botID, botName string) string {
	r := strings.NewReplacer("<@"+botID+">", "@"+botName, "<@!"+botID+">", "@"+botName)
	return strings.TrimSpace(r.Replace(content))
}

// splitMessage splits text into chunks of at most maxLen characters,
// preferring newline boundaries in the second half of a chunk.
func splitMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cutAt = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.MediaChannel    = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
	_ channels.LatencyChannel  = (*Discord)(nil)
)
