package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/config"
)

const (
	signatureHeader = "X-Bridge-Signature"
	maxButtons      = 5
	maxTitleRunes   = 80
)

// Adapter receives normalized message events from a Discord bridge process
// (HMAC-signed webhook posts) and delivers via the Discord REST API.
type Adapter struct {
	cfg    config.DiscordConfig
	logger *slog.Logger

	mu      sync.Mutex
	session *discordgo.Session
}

func New(log *slog.Logger, cfg config.DiscordConfig) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: log.With(slog.String("adapter", "discord")),
	}
}

// getOrCreateSession builds the REST-only session lazily. The gateway
// websocket is never opened; sends go over plain REST calls.
func (a *Adapter) getOrCreateSession() (*discordgo.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return a.session, nil
	}
	session, err := discordgo.New("Bot " + a.cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord session init: %w", err)
	}
	a.session = session
	return session, nil
}

func (a *Adapter) Type() channel.Type {
	return channel.TypeDiscord
}

func (a *Adapter) HandshakeToken() string {
	return ""
}

func (a *Adapter) Authenticate(headers http.Header, body []byte) bool {
	return channel.ValidSignatureSHA256(a.cfg.BridgeSecret, body, headers.Get(signatureHeader))
}

// bridgeEvent is the normalized envelope the bridge posts for each Discord
// message it observes.
type bridgeEvent struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

type bridgePayload struct {
	Events []bridgeEvent `json:"events"`
}

func (a *Adapter) Parse(body []byte) ([]channel.InboundMessage, error) {
	var payload bridgePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode discord bridge payload: %w", err)
	}

	var out []channel.InboundMessage
	for _, ev := range payload.Events {
		if ev.Type != "message" || ev.ID == "" || ev.Content == "" {
			continue
		}
		out = append(out, channel.InboundMessage{
			ID:         ev.ID,
			Channel:    channel.TypeDiscord,
			SenderID:   ev.AuthorID,
			SenderName: ev.AuthorName,
			Text:       ev.Content,
			Timestamp:  ev.Timestamp,
		})
	}
	return out, nil
}

func (a *Adapter) Send(ctx context.Context, userID, text string) (string, error) {
	return a.sendComplex(ctx, userID, &discordgo.MessageSend{Content: text})
}

// SendQuickReplies maps quick replies onto secondary-style buttons; Discord
// has no dedicated quick-reply construct.
func (a *Adapter) SendQuickReplies(ctx context.Context, userID, text string, replies []channel.QuickReply) (string, error) {
	buttons := make([]channel.Button, len(replies))
	for i, r := range replies {
		buttons[i] = channel.Button{Title: r.Title, Payload: r.Payload}
	}
	return a.SendButtons(ctx, userID, text, buttons)
}

func (a *Adapter) SendButtons(ctx context.Context, userID, text string, buttons []channel.Button) (string, error) {
	if len(buttons) == 0 {
		return a.Send(ctx, userID, text)
	}
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	components := make([]discordgo.MessageComponent, len(buttons))
	for i, b := range buttons {
		components[i] = discordgo.Button{
			Label:    channel.TruncateTitle(b.Title, maxTitleRunes),
			Style:    discordgo.PrimaryButton,
			CustomID: b.Payload,
		}
	}
	return a.sendComplex(ctx, userID, &discordgo.MessageSend{
		Content:    text,
		Components: []discordgo.MessageComponent{discordgo.ActionsRow{Components: components}},
	})
}

func (a *Adapter) sendComplex(ctx context.Context, userID string, msg *discordgo.MessageSend) (string, error) {
	session, err := a.getOrCreateSession()
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeDiscord, Err: err}
	}
	dm, err := session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeDiscord, Err: fmt.Errorf("open dm: %w", err)}
	}
	sent, err := session.ChannelMessageSendComplex(dm.ID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeDiscord, Err: err}
	}
	return sent.ID, nil
}
