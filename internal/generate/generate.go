package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/replygate/replygate/internal/session"
)

// Request carries everything the reply-generation collaborator needs: the user
// text, the bounded history, and the business context resolved for it.
type Request struct {
	Region       string         `json:"region"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	UserText     string         `json:"user_text"`
	Knowledge    string         `json:"knowledge,omitempty"`
	History      []session.Turn `json:"history,omitempty"`
}

// Reply is the collaborator's answer plus its token usage.
type Reply struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// Responder generates a reply to a user message. Implementations may fail; the
// worker degrades to the region's canned fallback.
type Responder interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// Knowledge resolves a text snippet to inject into the generation context.
type Knowledge interface {
	Lookup(ctx context.Context, region, query string) (string, error)
}

// Action is a named, schema-validated operation the generation service may
// invoke (scheduling, booking). Execution lives outside this pipeline.
type Action struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// ActionExecutor exposes the domain actions to the generation collaborator.
type ActionExecutor interface {
	Actions() []Action
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// HTTPResponder calls the external reasoning service over JSON HTTP.
type HTTPResponder struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPResponder(log *slog.Logger, baseURL string, timeout time.Duration) *HTTPResponder {
	return &HTTPResponder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log.With(slog.String("service", "generation")),
	}
}

func (r *HTTPResponder) Generate(ctx context.Context, req Request) (Reply, error) {
	var reply Reply
	if err := postJSON(ctx, r.client, r.baseURL+"/generate", req, &reply); err != nil {
		return Reply{}, fmt.Errorf("generation service: %w", err)
	}
	if reply.Text == "" {
		return Reply{}, fmt.Errorf("generation service returned empty reply")
	}
	return reply, nil
}

// HTTPKnowledge calls the external knowledge-lookup service. Lookup failures
// are the caller's cue to fall back to the region's static default.
type HTTPKnowledge struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPKnowledge(log *slog.Logger, baseURL string, timeout time.Duration) *HTTPKnowledge {
	return &HTTPKnowledge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log.With(slog.String("service", "knowledge")),
	}
}

func (k *HTTPKnowledge) Lookup(ctx context.Context, region, query string) (string, error) {
	payload := map[string]string{"region": region, "query": query}
	var out struct {
		Snippet string `json:"snippet"`
	}
	if err := postJSON(ctx, k.client, k.baseURL+"/lookup", payload, &out); err != nil {
		return "", fmt.Errorf("knowledge service: %w", err)
	}
	return out.Snippet, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}
