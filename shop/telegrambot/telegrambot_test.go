package telegrambot

import (
	"context"
	"errors"
	"testing"

	"github.com/m3rciful/pizzabot/shop/conversation"
	"github.com/m3rciful/pizzabot/shop/geo"
	"github.com/m3rciful/pizzabot/shop/payment"
	"github.com/m3rciful/pizzabot/shop/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tele "gopkg.in/telebot.v4"
)

type sent struct {
	to   tele.Recipient
	what any
	opts []any
}

type fakeAPI struct {
	sent      []sent
	deleted   []tele.Editable
	responses []*tele.CallbackResponse
	sendErr   error
}

func (f *fakeAPI) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sent{to: to, what: what, opts: opts})
	return &tele.Message{}, nil
}

func (f *fakeAPI) Delete(msg tele.Editable) error {
	f.deleted = append(f.deleted, msg)
	return nil
}

func (f *fakeAPI) Respond(_ *tele.Callback, resp ...*tele.CallbackResponse) error {
	f.responses = append(f.responses, resp...)
	return nil
}

func TestSinkSendsTextPhotoAndKeyboard(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api)

	err := sink.Send(context.Background(), "42", []render.Message{
		render.Text("hello"),
		{Text: "Margherita", ImageURL: "https://img/p1.png", Keyboard: [][]render.Button{{{Label: "Add", Payload: "add p1"}}}},
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 2)

	assert.Equal(t, tele.ChatID(42), api.sent[0].to)
	assert.Equal(t, "hello", api.sent[0].what)
	assert.Empty(t, api.sent[0].opts)

	photo, ok := api.sent[1].what.(*tele.Photo)
	require.True(t, ok)
	assert.Equal(t, "Margherita", photo.Caption)
	require.Len(t, api.sent[1].opts, 1)
	rm, ok := api.sent[1].opts[0].(*tele.ReplyMarkup)
	require.True(t, ok)
	assert.Equal(t, "add p1", rm.InlineKeyboard[0][0].Data)
}

func TestSinkReplacesTriggerOnceAndToasts(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api)
	prev := &tele.Message{ID: 7, Chat: &tele.Chat{ID: 42}}
	trig := &trigger{callback: &tele.Callback{ID: "cb"}, message: prev}
	ctx := withTrigger(context.Background(), trig)

	err := sink.Send(ctx, "42", []render.Message{
		{Text: render.TextAddedToCart, Toast: true},
		{Text: "cart", ReplacePrevious: true},
		{Text: "again", ReplacePrevious: true},
	})
	require.NoError(t, err)
	require.Len(t, api.responses, 1)
	assert.Equal(t, render.TextAddedToCart, api.responses[0].Text)
	require.Len(t, api.deleted, 1)
	assert.Same(t, prev, api.deleted[0])
	assert.Len(t, api.sent, 2)
	assert.Nil(t, trig.takeCallback())
}

func TestSinkToastWithoutCallbackIsText(t *testing.T) {
	api := &fakeAPI{}
	require.NoError(t, NewSink(api).Send(context.Background(), "42", []render.Message{{Text: "ok", Toast: true}}))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "ok", api.sent[0].what)
}

func TestSinkRejectsBadChatAndSendErrors(t *testing.T) {
	api := &fakeAPI{}
	require.Error(t, NewSink(api).Send(context.Background(), "abc", []render.Message{render.Text("x")}))

	api.sendErr = errors.New("boom")
	err := NewSink(api).Send(context.Background(), "42", []render.Message{render.Text("x")})
	require.ErrorContains(t, err, "boom")
}

func TestSinkInvoiceAndNotify(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api)

	err := sink.Invoice(context.Background(), "42", payment.Invoice{
		Title: "Pizzeria", Payload: "secret", Currency: "RUB", ProviderToken: "tok", Label: "Pizza", Amount: 60000,
	})
	require.NoError(t, err)
	inv, ok := api.sent[0].what.(*tele.Invoice)
	require.True(t, ok)
	assert.Equal(t, "secret", inv.Payload)
	assert.Equal(t, "tok", inv.Token)
	assert.Equal(t, []tele.Price{{Label: "Pizza", Amount: 60000}}, inv.Prices)

	// No dispatcher is installed, so the notification is sent inline.
	err = sink.Notify(context.Background(), conversation.Notification{
		RecipientID: "777",
		Text:        "order",
		Location:    &geo.Point{Lon: 37.6, Lat: 55.7},
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 3)
	assert.Equal(t, tele.ChatID(777), api.sent[1].to)
	loc, ok := api.sent[2].what.(*tele.Location)
	require.True(t, ok)
	assert.InDelta(t, 55.7, loc.Lat, 0.001)
	assert.InDelta(t, 37.6, loc.Lng, 0.001)
}

// fakeContext implements the tele.Context methods the handlers touch.
type fakeContext struct {
	tele.Context
	upd       tele.Update
	store     map[string]any
	accepted  []string
	acceptCnt int
	responded int
}

func newFakeContext(upd tele.Update) *fakeContext {
	return &fakeContext{upd: upd, store: map[string]any{}}
}

func (c *fakeContext) Update() tele.Update { return c.upd }
func (c *fakeContext) Get(key string) any  { return c.store[key] }
func (c *fakeContext) Set(key string, v any) {
	c.store[key] = v
}

func (c *fakeContext) Sender() *tele.User {
	switch {
	case c.upd.Callback != nil:
		return c.upd.Callback.Sender
	case c.upd.Message != nil:
		return c.upd.Message.Sender
	case c.upd.PreCheckoutQuery != nil:
		return c.upd.PreCheckoutQuery.Sender
	}
	return nil
}

func (c *fakeContext) Chat() *tele.Chat { return nil }

func (c *fakeContext) Message() *tele.Message { return c.upd.Message }

func (c *fakeContext) Callback() *tele.Callback { return c.upd.Callback }

func (c *fakeContext) PreCheckoutQuery() *tele.PreCheckoutQuery { return c.upd.PreCheckoutQuery }

func (c *fakeContext) Text() string {
	if c.upd.Message != nil {
		return c.upd.Message.Text
	}
	return ""
}

func (c *fakeContext) Respond(...*tele.CallbackResponse) error {
	c.responded++
	return nil
}

func (c *fakeContext) Accept(msg ...string) error {
	c.acceptCnt++
	c.accepted = append(c.accepted, msg...)
	return nil
}

type recordingConv struct {
	events []conversation.Event
	onEv   func(ctx context.Context)
	err    error
}

func (r *recordingConv) Handle(ctx context.Context, ev conversation.Event) error {
	r.events = append(r.events, ev)
	if r.onEv != nil {
		r.onEv(ctx)
	}
	return r.err
}

func TestTextAndLocationEvents(t *testing.T) {
	conv := &recordingConv{}
	b := New(conv, NewSink(&fakeAPI{}), nil)
	user := &tele.User{ID: 42, FirstName: "Ann"}

	require.NoError(t, b.onText(newFakeContext(tele.Update{ID: 1, Message: &tele.Message{Sender: user, Text: "Тверская 1"}})))
	require.NoError(t, b.onLocation(newFakeContext(tele.Update{ID: 2, Message: &tele.Message{
		Sender:   user,
		Location: &tele.Location{Lat: 55.75, Lng: 37.61},
	}})))

	require.Len(t, conv.events, 2)
	assert.Equal(t, conversation.Event{
		Front: "telegram", UserID: "42", Username: "Ann", UpdateID: 1,
		Kind: conversation.KindText, Text: "Тверская 1",
	}, conv.events[0])
	assert.Equal(t, conversation.KindLocation, conv.events[1].Kind)
	require.NotNil(t, conv.events[1].Location)
	assert.InDelta(t, 37.61, conv.events[1].Location.Lon, 0.001)
}

func TestCallbackIsAnsweredOnce(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api)
	conv := &recordingConv{}
	b := New(conv, sink, nil)
	user := &tele.User{ID: 42, Username: "ann"}

	c := newFakeContext(tele.Update{ID: 3, Callback: &tele.Callback{Sender: user, Data: "cart", Message: &tele.Message{ID: 9}}})
	require.NoError(t, b.onCallback(c))
	assert.Equal(t, 1, c.responded)
	assert.Equal(t, conversation.KindPostback, conv.events[0].Kind)
	assert.Equal(t, "cart", conv.events[0].Text)

	// A toast answers the callback itself.
	conv.onEv = func(ctx context.Context) {
		_ = sink.Send(ctx, "42", []render.Message{{Text: render.TextAddedToCart, Toast: true}})
	}
	c = newFakeContext(tele.Update{ID: 4, Callback: &tele.Callback{Sender: user, Data: "add p1"}})
	require.NoError(t, b.onCallback(c))
	assert.Equal(t, 0, c.responded)
	assert.Len(t, api.responses, 1)
}

func TestPreCheckout(t *testing.T) {
	b := New(&recordingConv{}, NewSink(&fakeAPI{}), payment.New(payment.Config{PayloadWord: "secret"}))
	user := &tele.User{ID: 42}

	ok := newFakeContext(tele.Update{PreCheckoutQuery: &tele.PreCheckoutQuery{Sender: user, Payload: "secret"}})
	require.NoError(t, b.onCheckout(ok))
	assert.Equal(t, 1, ok.acceptCnt)
	assert.Empty(t, ok.accepted)

	bad := newFakeContext(tele.Update{PreCheckoutQuery: &tele.PreCheckoutQuery{Sender: user, Payload: "forged"}})
	require.NoError(t, b.onCheckout(bad))
	assert.Equal(t, []string{payment.RejectMessage}, bad.accepted)
}

func TestSuccessfulPaymentThanksCustomer(t *testing.T) {
	api := &fakeAPI{}
	b := New(&recordingConv{}, NewSink(api), nil)
	c := newFakeContext(tele.Update{Message: &tele.Message{
		Sender:  &tele.User{ID: 42},
		Payment: &tele.Payment{Currency: "RUB", Total: 60000, Payload: "secret"},
	}})
	require.NoError(t, b.onPayment(c))
	require.Len(t, api.sent, 1)
	assert.Equal(t, render.TextPaymentSuccess, api.sent[0].what)
}
