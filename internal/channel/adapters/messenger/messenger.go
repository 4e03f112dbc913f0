package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/config"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxQuickReplies = 13
	maxButtons      = 3
	maxTitleRunes   = 20
)

// Adapter speaks the Messenger Platform: page webhook deliveries in, Send API
// out.
type Adapter struct {
	cfg    config.MessengerConfig
	client *http.Client
	logger *slog.Logger
}

func New(log *slog.Logger, cfg config.MessengerConfig) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log.With(slog.String("adapter", "messenger")),
	}
}

func (a *Adapter) Type() channel.Type {
	return channel.TypeMessenger
}

func (a *Adapter) HandshakeToken() string {
	return a.cfg.VerifyToken
}

func (a *Adapter) Authenticate(headers http.Header, body []byte) bool {
	return channel.ValidSignatureSHA256(a.cfg.AppSecret, body, headers.Get(signatureHeader))
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Timestamp int64 `json:"timestamp"` // unix millis
			Message   struct {
				MID    string `json:"mid"`
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
				QuickReply struct {
					Payload string `json:"payload"`
				} `json:"quick_reply"`
			} `json:"message"`
			Postback struct {
				MID     string `json:"mid"`
				Title   string `json:"title"`
				Payload string `json:"payload"`
			} `json:"postback"`
			Delivery json.RawMessage `json:"delivery"`
			Read     json.RawMessage `json:"read"`
		} `json:"messaging"`
	} `json:"entry"`
}

func (a *Adapter) Parse(body []byte) ([]channel.InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode messenger webhook: %w", err)
	}
	if payload.Object != "page" {
		return nil, nil
	}

	var out []channel.InboundMessage
	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			// Delivery and read receipts, and echoes of our own sends, carry
			// no user text.
			if ev.Delivery != nil || ev.Read != nil || ev.Message.IsEcho {
				continue
			}

			id, text := ev.Message.MID, ev.Message.Text
			if id == "" && ev.Postback.Payload != "" {
				id, text = ev.Postback.MID, ev.Postback.Title
			}
			if id == "" || text == "" {
				continue
			}
			out = append(out, channel.InboundMessage{
				ID:        id,
				Channel:   channel.TypeMessenger,
				SenderID:  ev.Sender.ID,
				Text:      text,
				Timestamp: time.UnixMilli(ev.Timestamp),
			})
		}
	}
	return out, nil
}

func (a *Adapter) Send(ctx context.Context, userID, text string) (string, error) {
	return a.post(ctx, userID, map[string]any{"text": text})
}

func (a *Adapter) SendQuickReplies(ctx context.Context, userID, text string, replies []channel.QuickReply) (string, error) {
	if len(replies) == 0 {
		return a.Send(ctx, userID, text)
	}
	if len(replies) > maxQuickReplies {
		replies = replies[:maxQuickReplies]
	}
	items := make([]map[string]string, len(replies))
	for i, r := range replies {
		items[i] = map[string]string{
			"content_type": "text",
			"title":        channel.TruncateTitle(r.Title, maxTitleRunes),
			"payload":      r.Payload,
		}
	}
	return a.post(ctx, userID, map[string]any{"text": text, "quick_replies": items})
}

func (a *Adapter) SendButtons(ctx context.Context, userID, text string, buttons []channel.Button) (string, error) {
	if len(buttons) == 0 {
		return a.Send(ctx, userID, text)
	}
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	items := make([]map[string]string, len(buttons))
	for i, b := range buttons {
		items[i] = map[string]string{
			"type":    "postback",
			"title":   channel.TruncateTitle(b.Title, maxTitleRunes),
			"payload": b.Payload,
		}
	}
	message := map[string]any{
		"attachment": map[string]any{
			"type": "template",
			"payload": map[string]any{
				"template_type": "button",
				"text":          text,
				"buttons":       items,
			},
		},
	}
	return a.post(ctx, userID, message)
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

func (a *Adapter) post(ctx context.Context, userID string, message map[string]any) (string, error) {
	payload := map[string]any{
		"recipient":      map[string]string{"id": userID},
		"messaging_type": "RESPONSE",
		"message":        message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeMessenger, Err: err}
	}

	url := fmt.Sprintf("%s/me/messages?access_token=%s", a.cfg.GraphBaseURL, a.cfg.PageAccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeMessenger, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeMessenger, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &channel.DeliveryError{
			Channel: channel.TypeMessenger,
			Code:    strconv.Itoa(resp.StatusCode),
			Err:     fmt.Errorf("send api: %s", string(respBody)),
		}
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		a.logger.Warn("send response missing message id")
		return "", nil
	}
	return parsed.MessageID, nil
}
