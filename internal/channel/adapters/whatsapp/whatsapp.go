package whatsapp

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
	maxButtons      = 3
	maxTitleRunes   = 20
)

// Adapter speaks the WhatsApp Cloud API: webhook deliveries in, Graph API
// sends out.
type Adapter struct {
	cfg    config.WhatsAppConfig
	client *http.Client
	logger *slog.Logger
}

func New(log *slog.Logger, cfg config.WhatsAppConfig) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log.With(slog.String("adapter", "whatsapp")),
	}
}

func (a *Adapter) Type() channel.Type {
	return channel.TypeWhatsApp
}

func (a *Adapter) HandshakeToken() string {
	return a.cfg.VerifyToken
}

func (a *Adapter) Authenticate(headers http.Header, body []byte) bool {
	return channel.ValidSignatureSHA256(a.cfg.AppSecret, body, headers.Get(signatureHeader))
}

// webhookPayload mirrors the slice of the Cloud API event envelope the
// pipeline cares about. Unknown fields are ignored.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive struct {
						ButtonReply struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
					} `json:"interactive"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (a *Adapter) Parse(body []byte) ([]channel.InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode whatsapp webhook: %w", err)
	}
	if payload.Object != "whatsapp_business_account" {
		return nil, nil
	}

	var out []channel.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				text := ""
				switch msg.Type {
				case "text":
					text = msg.Text.Body
				case "interactive":
					text = msg.Interactive.ButtonReply.Title
				default:
					// Media, reactions, and status receipts are not part of
					// the text pipeline.
					continue
				}
				if text == "" {
					continue
				}
				out = append(out, channel.InboundMessage{
					ID:         msg.ID,
					Channel:    channel.TypeWhatsApp,
					SenderID:   msg.From,
					SenderName: names[msg.From],
					Text:       text,
					Timestamp:  parseWireTimestamp(msg.Timestamp),
				})
			}
		}
	}
	return out, nil
}

// parseWireTimestamp decodes the Cloud API's unix-seconds string. A malformed
// value yields the zero time, which the gateway treats as stale.
func parseWireTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

func (a *Adapter) Send(ctx context.Context, userID, text string) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                userID,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	return a.post(ctx, payload)
}

// SendQuickReplies maps quick replies onto Cloud API interactive buttons; the
// platform has no separate quick-reply construct.
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
	items := make([]map[string]any, len(buttons))
	for i, b := range buttons {
		items[i] = map[string]any{
			"type": "reply",
			"reply": map[string]string{
				"id":    b.Payload,
				"title": channel.TruncateTitle(b.Title, maxTitleRunes),
			},
		}
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                userID,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": text},
			"action": map[string]any{"buttons": items},
		},
	}
	return a.post(ctx, payload)
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (a *Adapter) post(ctx context.Context, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeWhatsApp, Err: err}
	}

	url := fmt.Sprintf("%s/%s/messages", a.cfg.GraphBaseURL, a.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeWhatsApp, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &channel.DeliveryError{Channel: channel.TypeWhatsApp, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &channel.DeliveryError{
			Channel: channel.TypeWhatsApp,
			Code:    strconv.Itoa(resp.StatusCode),
			Err:     fmt.Errorf("graph api: %s", string(respBody)),
		}
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Messages) == 0 {
		a.logger.Warn("send response missing message id")
		return "", nil
	}
	return parsed.Messages[0].ID, nil
}
