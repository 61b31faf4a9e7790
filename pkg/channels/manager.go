package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/calbot/calbot/pkg/agent"
	"github.com/calbot/calbot/pkg/config"
	"github.com/calbot/calbot/pkg/logger"
	"github.com/calbot/calbot/pkg/ports"
)

// Manager owns the configured chat channels and their lifecycle. Channels
// drive the conversation loop directly; the manager only starts and stops
// them.
type Manager struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

func NewManager(cfg *config.Config, loop *agent.Loop, accounts []ports.AccountRef) (*Manager, error) {
	m := &Manager{channels: make(map[string]Channel)}

	if strings.TrimSpace(cfg.Channels.Discord.Token) != "" {
		discord, err := NewDiscordChannel(cfg.Channels.Discord, loop, accounts)
		if err != nil {
			return nil, fmt.Errorf("initialize Discord channel: %w", err)
		}
		m.channels["discord"] = discord
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]interface{}{
		"enabled_channels": len(m.channels),
	})
	return m, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	channelsCopy := make(map[string]Channel, len(m.channels))
	for name, channel := range m.channels {
		channelsCopy[name] = channel
	}
	m.mu.RUnlock()

	if len(channelsCopy) == 0 {
		logger.WarnCF("channels", "No channels enabled", nil)
		return nil
	}

	var started []string
	var startErrors []string
	for name, channel := range channelsCopy {
		logger.InfoCF("channels", "Starting channel", map[string]interface{}{"channel": name})
		if err := channel.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
			startErrors = append(startErrors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		started = append(started, name)
	}

	if len(startErrors) > 0 {
		for _, name := range started {
			if err := channelsCopy[name].Stop(ctx); err != nil {
				logger.WarnCF("channels", "Failed to stop partially-started channel", map[string]interface{}{
					"channel": name,
					"error":   err.Error(),
				})
			}
		}
		return fmt.Errorf("failed to start channels: %s", strings.Join(startErrors, "; "))
	}

	logger.InfoCF("channels", "All channels started", map[string]interface{}{
		"count": len(started),
	})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
