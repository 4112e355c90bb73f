package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager runs several platforms at once, merging their incoming messages
// into a single stream and routing outbound actions to the right platform.
type Manager struct {
	channels map[string]Channel
	messages chan *IncomingMessage
	logger   *slog.Logger

	// listenWg tracks listener goroutines so Stop can close messages safely.
	listenWg sync.WaitGroup

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates an empty channel manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		messages: make(chan *IncomingMessage, 256),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start connects every registered channel and starts forwarding messages.
// Channels that fail to connect are logged and skipped; Start only fails when
// none of them connects.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	snapshot := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		m.logger.Warn("no channels registered, running without a chat platform")
		return nil
	}

	var connected int
	for name, ch := range snapshot {
		if err := ch.Connect(m.ctx); err != nil {
			m.logger.Error("failed to connect channel", "channel", name, "error", err)
			continue
		}
		connected++
		m.listenWg.Add(1)
		go func(c Channel) {
			defer m.listenWg.Done()
			m.listenChannel(c)
		}(ch)
	}

	if connected == 0 {
		return fmt.Errorf("no channel connected successfully")
	}
	m.logger.Info("channel manager started", "channels_connected", connected)
	return nil
}

// Stop disconnects every channel and closes the merged message stream.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.RLock()
	for name, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			m.logger.Error("failed to disconnect channel", "channel", name, "error", err)
		}
	}
	m.mu.RUnlock()

	m.listenWg.Wait()
	close(m.messages)
	m.logger.Info("channel manager stopped")
}

// Messages returns the merged stream of incoming messages.
func (m *Manager) Messages() <-chan *IncomingMessage {
	return m.messages
}

// Channel returns a registered channel by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Send sends a text message through the named channel.
func (m *Manager) Send(ctx context.Context, channelName, to string, msg *OutgoingMessage) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}
	return ch.Send(ctx, to, msg)
}

// SendMedia posts media through the named channel. Channels without media
// support get the URL as plain text.
func (m *Manager) SendMedia(ctx context.Context, channelName, to string, media *MediaMessage) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}
	if mc, ok := ch.(MediaChannel); ok {
		return mc.SendMedia(ctx, to, media)
	}
	return ch.Send(ctx, to, &OutgoingMessage{Content: media.URL})
}

// SendTyping shows a typing indicator when the channel supports it.
func (m *Manager) SendTyping(ctx context.Context, channelName, to string) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}
	if pc, ok := ch.(PresenceChannel); ok {
		return pc.SendTyping(ctx, to)
	}
	return nil
}

// HealthAll returns the health status of every registered channel.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(m.channels))
	for name, ch := range m.channels {
		statuses[name] = ch.Health()
	}
	return statuses
}

func (m *Manager) connected(name string) (Channel, error) {
	m.mu.RLock()
	ch, exists := m.channels[name]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrChannelNotFound, name)
	}
	if !ch.IsConnected() {
		return nil, fmt.Errorf("%w: %q", ErrChannelDisconnected, name)
	}
	return ch, nil
}

// listenChannel forwards messages from one channel into the merged stream.
func (m *Manager) listenChannel(ch Channel) {
	for {
		select {
		case msg, ok := <-ch.Receive():
			if !ok {
				return
			}
			select {
			case m.messages <- msg:
			case <-m.ctx.Done():
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}
