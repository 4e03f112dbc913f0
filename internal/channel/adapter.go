package channel

import (
	"context"
	"net/http"
	"sync"
)

// Adapter binds one platform to the pipeline: it authenticates and parses the
// platform's webhook deliveries and translates normalized send requests into
// platform API calls.
type Adapter interface {
	Type() Type

	// HandshakeToken returns the verify token for channels with a GET
	// subscription handshake, or empty when the channel has none.
	HandshakeToken() string

	// Authenticate checks the webhook delivery's authenticity against the raw
	// body. Implementations must use constant-time comparison.
	Authenticate(headers http.Header, body []byte) bool

	// Parse extracts zero or more messages from a webhook body. Unknown event
	// kinds (delivery receipts, status updates) yield zero messages, not an
	// error.
	Parse(body []byte) ([]InboundMessage, error)

	Send(ctx context.Context, userID, text string) (string, error)
	SendQuickReplies(ctx context.Context, userID, text string, replies []QuickReply) (string, error)
	SendButtons(ctx context.Context, userID, text string, buttons []Button) (string, error)
}

// Registry holds the adapters configured per region.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]map[Type]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]map[Type]Adapter)}
}

func (r *Registry) Register(region string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byType, ok := r.adapters[region]
	if !ok {
		byType = make(map[Type]Adapter)
		r.adapters[region] = byType
	}
	byType[adapter.Type()] = adapter
}

func (r *Registry) Get(region string, t Type) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[region][t]
	return adapter, ok
}

// Types lists the channel types registered for a region.
func (r *Registry) Types(region string) []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.adapters[region]))
	for t := range r.adapters[region] {
		out = append(out, t)
	}
	return out
}
