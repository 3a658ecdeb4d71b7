package messenger

import (
	"context"
	"errors"
	"fmt"

	"github.com/m3rciful/pizzabot/shop/conversation"
	"github.com/m3rciful/pizzabot/shop/payment"
	"github.com/m3rciful/pizzabot/shop/render"
)

// ErrUnsupported is returned for effects this front cannot deliver.
var ErrUnsupported = errors.New("messenger: unsupported effect")

// moreText heads follow-up button templates of a long keyboard.
const moreText = "…"

// Sender is the send API surface the sink needs.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendImage(ctx context.Context, to, imageURL string) error
	SendGeneric(ctx context.Context, to string, elements []Element) error
	SendButtons(ctx context.Context, to, text string, buttons []Button) error
}

// Sink delivers conversation replies through the page send API.
type Sink struct {
	api Sender
}

// NewSink wraps api.
func NewSink(api Sender) *Sink {
	return &Sink{api: api}
}

var _ conversation.Sink = (*Sink)(nil)

// Send delivers msgs in order and stops at the first failure.
// ReplacePrevious has no meaning here: sent messages stay in the thread.
func (s *Sink) Send(ctx context.Context, userID string, msgs []render.Message) error {
	for _, msg := range msgs {
		if err := s.sendOne(ctx, userID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) sendOne(ctx context.Context, to string, msg render.Message) error {
	if len(msg.Cards) > 0 {
		for start := 0; start < len(msg.Cards); start += MaxGenericElements {
			chunk := msg.Cards[start:min(start+MaxGenericElements, len(msg.Cards))]
			if err := s.api.SendGeneric(ctx, to, elements(chunk)); err != nil {
				return err
			}
		}
		return nil
	}

	if msg.ImageURL != "" {
		if err := s.api.SendImage(ctx, to, msg.ImageURL); err != nil {
			return err
		}
	}

	var buttons []Button
	for _, row := range msg.Keyboard {
		for _, b := range row {
			buttons = append(buttons, postback(b))
		}
	}
	if len(buttons) == 0 {
		if msg.Text == "" {
			return nil
		}
		return s.api.SendText(ctx, to, msg.Text)
	}

	text := msg.Text
	for start := 0; start < len(buttons); start += MaxTemplateButtons {
		if text == "" {
			text = moreText
		}
		if err := s.api.SendButtons(ctx, to, text, buttons[start:min(start+MaxTemplateButtons, len(buttons))]); err != nil {
			return err
		}
		text = moreText
	}
	return nil
}

func postback(b render.Button) Button {
	return Button{Type: "postback", Title: b.Label, Payload: b.Payload}
}

func elements(cards []render.Card) []Element {
	out := make([]Element, 0, len(cards))
	for _, c := range cards {
		el := Element{Title: c.Title, Subtitle: c.Subtitle, ImageURL: c.ImageURL}
		for _, b := range c.Buttons[:min(len(c.Buttons), MaxTemplateButtons)] {
			el.Buttons = append(el.Buttons, postback(b))
		}
		out = append(out, el)
	}
	return out
}

// Notify is not available: couriers are reached through Telegram only.
func (s *Sink) Notify(context.Context, conversation.Notification) error {
	return fmt.Errorf("%w: courier notification", ErrUnsupported)
}

// Invoice is not available: this front checks out by email.
func (s *Sink) Invoice(context.Context, string, payment.Invoice) error {
	return fmt.Errorf("%w: invoice", ErrUnsupported)
}
