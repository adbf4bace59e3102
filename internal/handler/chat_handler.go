package handler

import (
	"context"
	"net/http"
	"strings"

	"offramp-engine/internal/domain"

	"go.uber.org/zap"
)

type Inbound interface {
	Handle(ctx context.Context, msg domain.InboundMessage) (string, error)
}

type Outbound interface {
	Send(ctx context.Context, phone, text string)
}

// ChatHandler receives Twilio-style inbound webhooks. Replies go out through
// the transport API, not the webhook response body.
type ChatHandler struct {
	engine     Inbound
	transport  Outbound
	fromNumber string
	logger     *zap.Logger
}

func NewChatHandler(engine Inbound, transport Outbound, fromNumber string, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		engine:     engine,
		transport:  transport,
		fromNumber: fromNumber,
		logger:     logger,
	}
}

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Webhook handles POSTed form payloads. Status callbacks (delivery receipts)
// and our own outbound messages are acknowledged and dropped; everything
// else goes through the engine.
func (h *ChatHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("malformed webhook form", zap.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Delivery receipts carry a status field and no user text.
	if status := firstNonEmpty(r.PostFormValue("MessageStatus"), r.PostFormValue("SmsStatus")); status != "" && r.PostFormValue("Body") == "" {
		h.respondTwiML(w)
		return
	}

	from := strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:")
	body := r.PostFormValue("Body")
	messageID := firstNonEmpty(r.PostFormValue("MessageSid"), r.PostFormValue("SmsSid"))

	if from == "" || body == "" {
		h.respondTwiML(w)
		return
	}
	// Guard against echo loops: never process our own outbound number.
	if from == strings.TrimPrefix(h.fromNumber, "whatsapp:") {
		h.respondTwiML(w)
		return
	}

	reply, err := h.engine.Handle(r.Context(), domain.InboundMessage{
		Phone:     from,
		Text:      body,
		MessageID: messageID,
	})
	if err != nil {
		h.logger.Error("message handling failed",
			zap.String("phone", from),
			zap.String("message_id", messageID),
			zap.Error(err))
		h.transport.Send(r.Context(), from,
			"⚠️ Something went wrong on our side. Please try again in a moment.")
		h.respondTwiML(w)
		return
	}
	if reply != "" {
		h.transport.Send(r.Context(), from, reply)
	}
	h.respondTwiML(w)
}

func (h *ChatHandler) respondTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(emptyTwiML))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
