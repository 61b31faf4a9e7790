package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/calbot/calbot/pkg/agent"
	"github.com/calbot/calbot/pkg/config"
	"github.com/calbot/calbot/pkg/logger"
	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/session"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second
)

// DiscordChannel runs the assistant inside Discord DMs and guild channels.
// Each Discord channel maps to one conversation session.
type DiscordChannel struct {
	*BaseChannel
	session  *discordgo.Session
	loop     *agent.Loop
	accounts []ports.AccountRef
	typing   map[string]context.CancelFunc
	typingMu sync.Mutex
}

func NewDiscordChannel(cfg config.DiscordConfig, loop *agent.Loop, accounts []ports.AccountRef) (*DiscordChannel, error) {
	sess, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", cfg.AllowFrom),
		session:     sess,
		loop:        loop,
		accounts:    accounts,
		typing:      make(map[string]context.CancelFunc),
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	c.stopAllTyping()
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]interface{}{
			"user_id": m.Author.ID,
		})
		return
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	sessionID := "discord:" + m.ChannelID
	c.beginTyping(m.ChannelID)

	go func() {
		defer c.endTyping(m.ChannelID)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result, err := c.loop.ProcessMessage(ctx, sessionID, content, c.accounts)
		if errors.Is(err, session.ErrSessionBusy) {
			c.send(ctx, m.ChannelID, "I'm still working on your last message. Give me a moment.")
			return
		}
		if err != nil {
			logger.ErrorCF("discord", "Turn failed", map[string]interface{}{
				"session": sessionID,
				"error":   err.Error(),
			})
			c.send(ctx, m.ChannelID, "Something went wrong handling that. Please try again.")
			return
		}
		c.send(ctx, m.ChannelID, result.Content)
	}()
}

func (c *DiscordChannel) send(ctx context.Context, channelID, content string) {
	if content == "" {
		return
	}
	// Discord caps messages at 2000 characters.
	for _, chunk := range splitMessage(content, 1800) {
		if err := c.sendChunk(ctx, channelID, chunk); err != nil {
			logger.ErrorCF("discord", "Failed to send message", map[string]interface{}{
				"channel_id": channelID,
				"error":      err.Error(),
			})
			return
		}
	}
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

func splitMessage(content string, limit int) []string {
	var chunks []string
	for len(content) > 0 {
		if len(content) <= limit {
			chunks = append(chunks, content)
			break
		}
		cut := strings.LastIndexByte(content[:limit], '\n')
		if cut <= 0 {
			cut = strings.LastIndexByte(content[:limit], ' ')
		}
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, content[:cut])
		content = strings.TrimSpace(content[cut:])
	}
	return chunks
}

func (c *DiscordChannel) sendTyping(channelID string) {
	if err := c.session.ChannelTyping(channelID); err != nil {
		logger.DebugCF("discord", "Failed to send typing indicator", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (c *DiscordChannel) beginTyping(channelID string) {
	c.typingMu.Lock()
	if _, ok := c.typing[channelID]; ok {
		c.typingMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.typing[channelID] = cancel
	c.typingMu.Unlock()

	c.sendTyping(channelID)
	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.IsRunning() {
					return
				}
				c.sendTyping(channelID)
			}
		}
	}()
}

func (c *DiscordChannel) endTyping(channelID string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if cancel, ok := c.typing[channelID]; ok {
		cancel()
		delete(c.typing, channelID)
	}
}

func (c *DiscordChannel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	for channelID, cancel := range c.typing {
		cancel()
		delete(c.typing, channelID)
	}
}
