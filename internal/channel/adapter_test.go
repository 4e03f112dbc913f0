package channel

import (
	"context"
	"net/http"
	"testing"
)

type stubAdapter struct {
	t Type
}

func (a *stubAdapter) Type() Type                                       { return a.t }
func (a *stubAdapter) HandshakeToken() string                           { return "" }
func (a *stubAdapter) Authenticate(http.Header, []byte) bool            { return true }
func (a *stubAdapter) Parse([]byte) ([]InboundMessage, error)           { return nil, nil }
func (a *stubAdapter) Send(context.Context, string, string) (string, error) {
	return "", nil
}
func (a *stubAdapter) SendQuickReplies(context.Context, string, string, []QuickReply) (string, error) {
	return "", nil
}
func (a *stubAdapter) SendButtons(context.Context, string, string, []Button) (string, error) {
	return "", nil
}

func TestRegistryIsScopedPerRegion(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("emea", &stubAdapter{t: TypeWhatsApp})
	r.Register("apac", &stubAdapter{t: TypeTelegram})

	if _, ok := r.Get("emea", TypeWhatsApp); !ok {
		t.Fatal("emea whatsapp adapter should resolve")
	}
	if _, ok := r.Get("emea", TypeTelegram); ok {
		t.Fatal("apac adapter must not leak into emea")
	}
	if _, ok := r.Get("unknown", TypeWhatsApp); ok {
		t.Fatal("unknown region must not resolve")
	}
}

func TestRegistryTypes(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("emea", &stubAdapter{t: TypeWhatsApp})
	r.Register("emea", &stubAdapter{t: TypeDiscord})

	types := r.Types("emea")
	if len(types) != 2 {
		t.Fatalf("types = %v, want 2 entries", types)
	}
}

func TestDeliveryErrorFormatting(t *testing.T) {
	t.Parallel()

	inner := http.ErrHandlerTimeout
	err := &DeliveryError{Channel: TypeWhatsApp, Code: "500", Err: inner}
	if err.Unwrap() != inner {
		t.Fatal("Unwrap should expose the cause")
	}
	if err.Error() == "" {
		t.Fatal("Error should render")
	}
}
