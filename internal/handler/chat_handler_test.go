package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"offramp-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEngine struct {
	handled []domain.InboundMessage
	reply   string
	err     error
}

func (f *fakeEngine) Handle(_ context.Context, msg domain.InboundMessage) (string, error) {
	f.handled = append(f.handled, msg)
	return f.reply, f.err
}

type fakeTransport struct {
	sent []string
}

func (f *fakeTransport) Send(_ context.Context, _, text string) {
	f.sent = append(f.sent, text)
}

func postForm(t *testing.T, h *ChatHandler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/chat",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func TestWebhookRoutesInboundMessage(t *testing.T) {
	eng := &fakeEngine{reply: "hello"}
	tp := &fakeTransport{}
	h := NewChatHandler(eng, tp, "+14155550000", zap.NewNop())

	rec := postForm(t, h, url.Values{
		"From":       {"whatsapp:+2348001112222"},
		"Body":       {"balance"},
		"MessageSid": {"SM123"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Response></Response>")

	require.Len(t, eng.handled, 1)
	assert.Equal(t, "+2348001112222", eng.handled[0].Phone)
	assert.Equal(t, "balance", eng.handled[0].Text)
	assert.Equal(t, "SM123", eng.handled[0].MessageID)
	assert.Equal(t, []string{"hello"}, tp.sent)
}

func TestWebhookDropsStatusCallbacks(t *testing.T) {
	eng := &fakeEngine{}
	h := NewChatHandler(eng, &fakeTransport{}, "+14155550000", zap.NewNop())

	rec := postForm(t, h, url.Values{
		"MessageSid":    {"SM123"},
		"MessageStatus": {"delivered"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, eng.handled, "delivery receipts must not reach the engine")
}

func TestWebhookIgnoresOwnNumber(t *testing.T) {
	eng := &fakeEngine{}
	h := NewChatHandler(eng, &fakeTransport{}, "whatsapp:+14155550000", zap.NewNop())

	rec := postForm(t, h, url.Values{
		"From":       {"whatsapp:+14155550000"},
		"Body":       {"hello"},
		"MessageSid": {"SM123"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, eng.handled, "own outbound messages must not loop back")
}

func TestWebhookEngineErrorStillAcks(t *testing.T) {
	eng := &fakeEngine{err: assert.AnError}
	tp := &fakeTransport{}
	h := NewChatHandler(eng, tp, "+14155550000", zap.NewNop())

	rec := postForm(t, h, url.Values{
		"From":       {"whatsapp:+2348001112222"},
		"Body":       {"balance"},
		"MessageSid": {"SM123"},
	})

	// Twilio retries non-2xx; we ack and apologize instead.
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, tp.sent, 1)
	assert.Contains(t, tp.sent[0], "went wrong")
}
