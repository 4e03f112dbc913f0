package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/config"
)

const (
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
	maxButtons        = 8
	maxTitleRunes     = 64
)

// Adapter ingests Bot API webhook updates and delivers through the Bot API.
type Adapter struct {
	cfg    config.TelegramConfig
	logger *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func New(log *slog.Logger, cfg config.TelegramConfig) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: log.With(slog.String("adapter", "telegram")),
	}
}

// getOrCreateBot initializes the Bot API client on first use. Construction
// performs a getMe call, so it is deferred off the startup path.
func (a *Adapter) getOrCreateBot() (*tgbotapi.BotAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(a.cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	a.bot = bot
	return bot, nil
}

func (a *Adapter) Type() channel.Type {
	return channel.TypeTelegram
}

// HandshakeToken is empty: the Bot API has no GET subscription handshake.
func (a *Adapter) HandshakeToken() string {
	return ""
}

// Authenticate compares the webhook secret token set via setWebhook.
func (a *Adapter) Authenticate(headers http.Header, _ []byte) bool {
	return channel.ConstantTimeEquals(a.cfg.WebhookSecret, headers.Get(secretTokenHeader))
}

func (a *Adapter) Parse(body []byte) ([]channel.InboundMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		// Edits, channel posts, callbacks, and service messages are outside
		// the text pipeline.
		return nil, nil
	}

	name := msg.From.FirstName
	if msg.From.UserName != "" {
		name = msg.From.UserName
	}
	return []channel.InboundMessage{{
		// Bot API message ids are only unique per chat; qualify with it.
		ID:         fmt.Sprintf("tg-%d-%d", msg.Chat.ID, msg.MessageID),
		Channel:    channel.TypeTelegram,
		SenderID:   strconv.FormatInt(msg.Chat.ID, 10),
		SenderName: name,
		Text:       msg.Text,
		Timestamp:  time.Unix(int64(msg.Date), 0),
	}}, nil
}

func (a *Adapter) Send(_ context.Context, userID, text string) (string, error) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeTelegram, Err: fmt.Errorf("bad chat id %q: %w", userID, err)}
	}
	bot, err := a.getOrCreateBot()
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeTelegram, Err: err}
	}
	sent, err := bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeTelegram, Err: err}
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendQuickReplies uses a one-time reply keyboard, the Bot API's quick-reply
// equivalent.
func (a *Adapter) SendQuickReplies(_ context.Context, userID, text string, replies []channel.QuickReply) (string, error) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeTelegram, Err: fmt.Errorf("bad chat id %q: %w", userID, err)}
	}
	bot, err := a.getOrCreateBot()
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeTelegram, Err: err}
	}

	if len(replies) > maxButtons {
		replies = replies[:maxButtons]
	}
	rows := make([][]tgbotapi.KeyboardButton, 0, len(replies))
	for _, r := range replies {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(channel.TruncateTitle(r.Title, maxTitleRunes)),
		))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.OneTimeKeyboard = true
	msg.ReplyMarkup = keyboard

	sent, err := bot.Send(msg)
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeTelegram, Err: err}
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (a *Adapter) SendButtons(_ context.Context, userID, text string, buttons []channel.Button) (string, error) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeTelegram, Err: fmt.Errorf("bad chat id %q: %w", userID, err)}
	}
	bot, err := a.getOrCreateBot()
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeTelegram, Err: err}
	}

	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(channel.TruncateTitle(b.Title, maxTitleRunes), b.Payload),
		))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	sent, err := bot.Send(msg)
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeTelegram, Err: err}
	}
	return strconv.Itoa(sent.MessageID), nil
}
