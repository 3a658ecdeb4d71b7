package telegrambot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/m3rciful/pizzabot/core/logger"
	tghelpers "github.com/m3rciful/pizzabot/core/telegram/helpers"
	"github.com/m3rciful/pizzabot/core/telegram/keyboard"
	"github.com/m3rciful/pizzabot/core/telegram/middleware"
	tgsender "github.com/m3rciful/pizzabot/core/telegram/sender"
	"github.com/m3rciful/pizzabot/shop/conversation"
	"github.com/m3rciful/pizzabot/shop/payment"
	"github.com/m3rciful/pizzabot/shop/render"

	tele "gopkg.in/telebot.v4"
)

// API is the part of *tele.Bot the sink calls.
type API interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
	Delete(msg tele.Editable) error
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
}

type triggerKey struct{}

// trigger is the update a reply answers: the pressed callback and the message carrying it.
type trigger struct {
	mu        sync.Mutex
	callback  *tele.Callback
	message   *tele.Message
	deleted   bool
	responded bool
}

func withTrigger(ctx context.Context, t *trigger) context.Context {
	return context.WithValue(ctx, triggerKey{}, t)
}

func triggerFrom(ctx context.Context) *trigger {
	t, _ := ctx.Value(triggerKey{}).(*trigger)
	return t
}

// takeMessage returns the triggering message once, for deletion.
func (t *trigger) takeMessage() *tele.Message {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deleted || t.message == nil {
		return nil
	}
	t.deleted = true
	return t.message
}

// takeCallback returns the pending callback once, for answering.
func (t *trigger) takeCallback() *tele.Callback {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.responded || t.callback == nil {
		return nil
	}
	t.responded = true
	return t.callback
}

// Sink delivers conversation effects through the Telegram bot API.
type Sink struct {
	api API
}

// NewSink wraps api.
func NewSink(api API) *Sink {
	return &Sink{api: api}
}

var _ conversation.Sink = (*Sink)(nil)

func chatID(userID string) (tele.ChatID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q: %w", userID, err)
	}
	return tele.ChatID(id), nil
}

// Send delivers msgs in order and stops at the first failure.
func (s *Sink) Send(ctx context.Context, userID string, msgs []render.Message) error {
	to, err := chatID(userID)
	if err != nil {
		return err
	}
	trig := triggerFrom(ctx)
	for _, msg := range msgs {
		if msg.ReplacePrevious {
			s.deletePrevious(ctx, trig)
		}
		if msg.Toast {
			if cb := trig.takeCallback(); cb != nil {
				if err := s.api.Respond(cb, &tele.CallbackResponse{Text: msg.Text}); err != nil {
					return fmt.Errorf("telegram: answer callback: %w", err)
				}
				continue
			}
		}
		if len(msg.Cards) > 0 {
			if err := s.sendCards(ctx, to, msg.Cards); err != nil {
				return err
			}
			continue
		}
		if err := s.sendOne(ctx, to, msg.Text, msg.ImageURL, msg.Keyboard); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) deletePrevious(ctx context.Context, trig *trigger) {
	prev := trig.takeMessage()
	if prev == nil {
		return
	}
	if err := s.api.Delete(prev); err != nil {
		logger.Warn(ctx, logger.CompTelegram, "message.delete",
			slog.String("status", "fail"),
			slog.String("err", tgsender.SanitizeError(err)),
		)
	}
}

// sendCards renders each carousel card as its own message.
func (s *Sink) sendCards(ctx context.Context, to tele.ChatID, cards []render.Card) error {
	for _, card := range cards {
		text := card.Title
		if card.Subtitle != "" {
			text += "\n" + card.Subtitle
		}
		rows := make([][]render.Button, 0, len(card.Buttons))
		for _, b := range card.Buttons {
			rows = append(rows, []render.Button{b})
		}
		if err := s.sendOne(ctx, to, text, card.ImageURL, rows); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) sendOne(ctx context.Context, to tele.ChatID, text, imageURL string, rows [][]render.Button) error {
	var opts []any
	if len(rows) > 0 {
		opts = append(opts, markup(rows))
	}
	var what any = text
	if imageURL != "" {
		what = &tele.Photo{File: tele.FromURL(imageURL), Caption: text}
	}
	if _, err := s.api.Send(to, what, opts...); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	middleware.RecordSend(ctx, len(rows) > 0)
	return nil
}

func markup(rows [][]render.Button) *tele.ReplyMarkup {
	btnRows := make([][]keyboard.InlineBtn, 0, len(rows))
	for _, row := range rows {
		btns := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			btns = append(btns, keyboard.InlineBtn{Text: b.Label, Data: b.Payload})
		}
		btnRows = append(btnRows, btns)
	}
	return keyboard.InlineButtonsRows(btnRows...)
}

// Notify queues a message, and the customer location when known, for another chat.
func (s *Sink) Notify(ctx context.Context, n conversation.Notification) error {
	to, err := chatID(n.RecipientID)
	if err != nil {
		return err
	}
	return tghelpers.Enqueue(ctx, "courier.notify", "sendMessage", func() error {
		if _, err := s.api.Send(to, n.Text); err != nil {
			return err
		}
		if n.Location != nil {
			loc := &tele.Location{Lat: float32(n.Location.Lat), Lng: float32(n.Location.Lon)}
			if _, err := s.api.Send(to, loc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Invoice sends a payment invoice.
func (s *Sink) Invoice(ctx context.Context, userID string, inv payment.Invoice) error {
	to, err := chatID(userID)
	if err != nil {
		return err
	}
	invoice := &tele.Invoice{
		Title:       inv.Title,
		Description: inv.Description,
		Payload:     inv.Payload,
		Currency:    inv.Currency,
		Token:       inv.ProviderToken,
		Start:       inv.StartParameter,
		Prices:      []tele.Price{{Label: inv.Label, Amount: int(inv.Amount)}},
	}
	if _, err := s.api.Send(to, invoice); err != nil {
		return fmt.Errorf("telegram: send invoice: %w", err)
	}
	middleware.RecordSend(ctx, false)
	return nil
}
