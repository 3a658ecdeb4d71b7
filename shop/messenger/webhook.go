// Package messenger serves the Facebook Messenger webhook and talks to the page send API.
package messenger

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/shop/conversation"
)

const maxWebhookBody = 1 << 20

// Conversation handles normalized events.
type Conversation interface {
	Handle(ctx context.Context, ev conversation.Event) error
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string           `json:"id"`
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender *struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		Text       string `json:"text"`
		IsEcho     bool   `json:"is_echo"`
		QuickReply *struct {
			Payload string `json:"payload"`
		} `json:"quick_reply"`
	} `json:"message"`
	Postback *struct {
		Payload string `json:"payload"`
	} `json:"postback"`
}

// Handler serves the webhook endpoints.
type Handler struct {
	conv        Conversation
	verifyToken string
}

// NewHandler builds the webhook handler.
func NewHandler(conv Conversation, verifyToken string) *Handler {
	return &Handler{conv: conv, verifyToken: verifyToken}
}

// RegisterRoutes mounts GET / (subscription check) and POST / (events).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Verify)
	r.Post("/", h.Receive)
}

// Router returns a chi router with the webhook routes and a /health heartbeat.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/health"))
	h.RegisterRoutes(r)
	return r
}

// Verify answers the subscription handshake.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge := q.Get("hub.challenge")
	if q.Get("hub.mode") != "subscribe" || challenge == "" {
		writeText(w, http.StatusOK, "Hello world!!")
		return
	}
	if subtle.ConstantTimeCompare([]byte(q.Get("hub.verify_token")), []byte(h.verifyToken)) != 1 || h.verifyToken == "" {
		logger.Warn(r.Context(), logger.CompMessenger, "verify",
			slog.String("status", "fail"),
			slog.String("reason", "token_mismatch"),
		)
		writeText(w, http.StatusForbidden, "Verification token mismatch")
		return
	}
	logger.Info(r.Context(), logger.CompMessenger, "verify", slog.String("status", "ok"))
	writeText(w, http.StatusOK, challenge)
}

// Receive handles a batch of page events one at a time. Handler failures are
// logged by the conversation and do not change the response.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeText(w, http.StatusBadRequest, "bad request")
		return
	}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Warn(r.Context(), logger.CompMessenger, "webhook.decode",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
			slog.String("err_code", "MALFORMED_EVENT"),
		)
		writeText(w, http.StatusBadRequest, "bad request")
		return
	}
	if payload.Object != "page" {
		writeText(w, http.StatusOK, "ok")
		return
	}

	reqID := chimw.GetReqID(r.Context())
	for _, entry := range payload.Entry {
		for _, item := range entry.Messaging {
			ev, ok := toEvent(item)
			if !ok {
				logger.Debug(r.Context(), logger.CompMessenger, "event.skip",
					slog.String("status", "skip"),
					slog.String("request_id", reqID),
				)
				continue
			}
			ctx := logger.WithRID(r.Context(), logger.BuildRID(config.FrontMessenger, ev.UpdateID, ev.UserID))
			ctx = logger.WithEventMeta(ctx, config.FrontMessenger, ev.UpdateID, ev.UserID)
			ctx = logger.WithLogger(ctx, logger.Component(logger.CompMessenger))
			// The error is already logged with full context by the conversation.
			_ = h.conv.Handle(ctx, ev)
		}
	}
	writeText(w, http.StatusOK, "ok")
}

// toEvent maps one messaging item. Echoes and items without text or payload are skipped.
func toEvent(item messagingEvent) (conversation.Event, bool) {
	if item.Sender == nil || strings.TrimSpace(item.Sender.ID) == "" {
		return conversation.Event{}, false
	}
	ev := conversation.Event{
		Front:    config.FrontMessenger,
		UserID:   item.Sender.ID,
		UpdateID: item.Timestamp,
	}
	switch {
	case item.Postback != nil && item.Postback.Payload != "":
		ev.Kind = conversation.KindPostback
		ev.Text = item.Postback.Payload
	case item.Message != nil && item.Message.IsEcho:
		return conversation.Event{}, false
	case item.Message != nil && item.Message.QuickReply != nil && item.Message.QuickReply.Payload != "":
		ev.Kind = conversation.KindPostback
		ev.Text = item.Message.QuickReply.Payload
	case item.Message != nil && strings.TrimSpace(item.Message.Text) != "":
		ev.Kind = conversation.KindText
		ev.Text = item.Message.Text
	default:
		return conversation.Event{}, false
	}
	return ev, true
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
