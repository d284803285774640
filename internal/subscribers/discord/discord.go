package discord

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

// Sender abstracts the Discord session so the subscriber can be tested
// without a live bot.
type Sender interface {
	SendMessage(channelID string, content string) error
}

// Subscriber forwards error events to a Discord channel as alert messages.
// Non-error events are ignored.
type Subscriber struct {
	channelID string
	sender    Sender
	logger    *log.Logger
}

func New(channelID string, sender Sender, logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Subscriber{
		channelID: strings.TrimSpace(channelID),
		sender:    sender,
		logger:    logger,
	}
}

func (s *Subscriber) Name() string {
	return "discord-alerts"
}

func (s *Subscriber) Handle(_ context.Context, event wire.Event) error {
	if event.EventType != wire.EventTypeToolCallError && event.EventType != wire.EventTypeError {
		return nil
	}
	if s.sender == nil {
		s.logger.Printf("discord sender is not configured event_type=%s", event.EventType)
		return nil
	}
	if s.channelID == "" {
		return fmt.Errorf("discord channel id is required")
	}

	content := formatAlert(event)
	if content == "" {
		return nil
	}
	if err := s.sender.SendMessage(s.channelID, content); err != nil {
		return fmt.Errorf("send discord alert: %w", err)
	}
	return nil
}

func formatAlert(event wire.Event) string {
	switch event.EventType {
	case wire.EventTypeToolCallError:
		var data struct {
			ToolName string `json:"tool_name"`
			Error    string `json:"error"`
		}
		_ = event.DecodeData(&data)
		return fmt.Sprintf("tool `%s` failed in session `%s`: %s", data.ToolName, event.SessionID, data.Error)
	case wire.EventTypeError:
		var data struct {
			Message string `json:"message"`
		}
		_ = event.DecodeData(&data)
		message := data.Message
		if message == "" {
			message = "Unknown error"
		}
		return fmt.Sprintf("agent error in session `%s`: %s", event.SessionID, message)
	}
	return ""
}

type discordSender struct {
	session *discordgo.Session
}

// NewDiscordSender builds a Sender backed by a real Discord bot session.
func NewDiscordSender(token string) (Sender, error) {
	session, err := discordgo.New(normalizeBotToken(token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &discordSender{session: session}, nil
}

func (s *discordSender) SendMessage(channelID string, content string) error {
	channelID = strings.TrimSpace(channelID)
	content = strings.TrimSpace(content)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if content == "" {
		return nil
	}
	_, err := s.session.ChannelMessageSend(channelID, content)
	return err
}

func normalizeBotToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}
