// Package telegrambot adapts Telegram updates to the ordering conversation.
package telegrambot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	tg "github.com/m3rciful/pizzabot/core/telegram"
	"github.com/m3rciful/pizzabot/core/telegram/commands"
	tghelpers "github.com/m3rciful/pizzabot/core/telegram/helpers"
	"github.com/m3rciful/pizzabot/core/telegram/router"
	"github.com/m3rciful/pizzabot/shop/conversation"
	"github.com/m3rciful/pizzabot/shop/geo"
	"github.com/m3rciful/pizzabot/shop/payment"
	"github.com/m3rciful/pizzabot/shop/render"

	tele "gopkg.in/telebot.v4"
)

// Conversation handles normalized events.
type Conversation interface {
	Handle(ctx context.Context, ev conversation.Event) error
}

// PayloadValidator checks pre-checkout payloads.
type PayloadValidator interface {
	Validate(payload string) error
}

// Bot turns Telegram updates into conversation events.
type Bot struct {
	conv     Conversation
	sink     conversation.Sink
	payments PayloadValidator
}

// New builds the update handlers. payments may be nil when invoices are never issued.
func New(conv Conversation, sink conversation.Sink, payments PayloadValidator) *Bot {
	return &Bot{conv: conv, sink: sink, payments: payments}
}

// Registry registers the /start command.
func (b *Bot) Registry() *tg.Registry {
	reg := tg.NewRegistry()
	reg.RegisterCommand(conversation.ResetCommand, commands.Command{
		Handler:     b.onText,
		Description: "Открыть меню пиццерии",
	})
	return reg
}

// Routes binds every update kind the shop reacts to.
func (b *Bot) Routes(reg *tg.Registry) []tg.Route {
	return router.Routes(reg, router.Handlers{
		Text:     b.onText,
		Callback: b.onCallback,
		Location: b.onLocation,
		Checkout: b.onCheckout,
		Payment:  b.onPayment,
	})
}

func (b *Bot) event(c tele.Context, kind conversation.Kind) conversation.Event {
	ev := conversation.Event{
		Front:    config.FrontTelegram,
		UserID:   tghelpers.SenderID(c),
		UpdateID: int64(c.Update().ID),
		Kind:     kind,
	}
	if user := c.Sender(); user != nil {
		ev.Username = user.Username
		if ev.Username == "" {
			ev.Username = user.FirstName
		}
	}
	return ev
}

func (b *Bot) onText(c tele.Context) error {
	ev := b.event(c, conversation.KindText)
	ev.Text = c.Text()
	return b.conv.Handle(tghelpers.BuildContext(c), ev)
}

func (b *Bot) onCallback(c tele.Context) error {
	cb := c.Callback()
	ev := b.event(c, conversation.KindPostback)
	ev.Text = cb.Data

	trig := &trigger{callback: cb, message: cb.Message}
	ctx := withTrigger(tghelpers.BuildContext(c), trig)
	err := b.conv.Handle(ctx, ev)

	// Answer the callback so the client stops its progress spinner.
	if pending := trig.takeCallback(); pending != nil {
		if rerr := c.Respond(); rerr != nil {
			logger.Debug(ctx, logger.CompTelegram, "callback.respond",
				slog.String("status", "fail"),
				slog.String("err", rerr.Error()),
			)
		}
	}
	return err
}

func (b *Bot) onLocation(c tele.Context) error {
	msg := c.Message()
	ev := b.event(c, conversation.KindLocation)
	if msg != nil && msg.Location != nil {
		ev.Location = &geo.Point{Lon: float64(msg.Location.Lng), Lat: float64(msg.Location.Lat)}
	}
	return b.conv.Handle(tghelpers.BuildContext(c), ev)
}

func (b *Bot) onCheckout(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	q := c.PreCheckoutQuery()
	if q == nil {
		return nil
	}
	if b.payments == nil {
		return c.Accept(payment.RejectMessage)
	}
	if err := b.payments.Validate(q.Payload); err != nil {
		logger.Warn(ctx, logger.CompPayment, "pre_checkout",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
			slog.String("currency", q.Currency),
			slog.Int("total", q.Total),
		)
		return c.Accept(payment.RejectMessage)
	}
	logger.Info(ctx, logger.CompPayment, "pre_checkout",
		slog.String("status", "ok"),
		slog.String("currency", q.Currency),
		slog.Int("total", q.Total),
	)
	return c.Accept()
}

func (b *Bot) onPayment(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	msg := c.Message()
	if msg == nil || msg.Payment == nil {
		return errors.New("telegram: payment update without payment")
	}
	logger.Info(ctx, logger.CompPayment, "paid",
		slog.String("status", "ok"),
		slog.String("currency", msg.Payment.Currency),
		slog.Int("total", msg.Payment.Total),
	)
	return b.sink.Send(ctx, tghelpers.SenderID(c), []render.Message{render.PaymentSuccess()})
}
