package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/session"
	"github.com/m3rciful/pizzabot/shop/commerce"
	"github.com/m3rciful/pizzabot/shop/events"
	"github.com/m3rciful/pizzabot/shop/geo"
	"github.com/m3rciful/pizzabot/shop/payment"
	"github.com/m3rciful/pizzabot/shop/render"
)

type fakeStore struct {
	mu     sync.Mutex
	data   map[string]string
	sets   int
	getErr error
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string]string{}} }

func (s *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) Set(_ context.Context, key, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.data[key] = state
	return nil
}

func (s *fakeStore) state(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key]
}

type fakeCommerce struct {
	mu         sync.Mutex
	products   []commerce.Product
	categories map[string]string
	byCategory map[string][]commerce.Product
	carts      map[string][]commerce.CartItem
	customers  []commerce.Customer
	created    int
	entries    map[string][]commerce.Entry
	nextID     int
	addErr     error
	imageCalls int
}

func newFakeCommerce() *fakeCommerce {
	return &fakeCommerce{
		products: []commerce.Product{
			{ID: "p1", Name: "Pepperoni", Price: 50000},
			{ID: "p2", Name: "Margherita", Price: 40000},
		},
		categories: map[string]string{},
		byCategory: map[string][]commerce.Product{},
		carts:      map[string][]commerce.CartItem{},
		entries:    map[string][]commerce.Entry{},
	}
}

func (f *fakeCommerce) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func (f *fakeCommerce) Currency() string { return "RUB" }

func (f *fakeCommerce) ListProducts(context.Context) ([]commerce.Product, error) {
	return f.products, nil
}

func (f *fakeCommerce) ListProductsByCategory(_ context.Context, id string) ([]commerce.Product, error) {
	return f.byCategory[id], nil
}

func (f *fakeCommerce) ListCategories(context.Context) (map[string]string, error) {
	return f.categories, nil
}

func (f *fakeCommerce) product(id string) (commerce.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return commerce.Product{}, &commerce.UpstreamError{Op: "get product", Status: 404}
}

func (f *fakeCommerce) GetProduct(_ context.Context, id string) (commerce.Product, error) {
	return f.product(id)
}

func (f *fakeCommerce) GetPrice(_ context.Context, id string) (map[string]commerce.Price, error) {
	p, err := f.product(id)
	if err != nil {
		return nil, err
	}
	return map[string]commerce.Price{"RUB": {Amount: p.Price}}, nil
}

func (f *fakeCommerce) GetStock(context.Context, string) (int, error) { return 10, nil }

func (f *fakeCommerce) GetProductImage(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	f.imageCalls++
	f.mu.Unlock()
	return "https://img/" + id + ".png", nil
}

func (f *fakeCommerce) AddToCart(_ context.Context, ref, productID string, qty int) error {
	if f.addErr != nil {
		return f.addErr
	}
	p, err := f.product(productID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[ref] = append(f.carts[ref], commerce.CartItem{
		ID: f.id("item"), ProductID: p.ID, Name: p.Name, Quantity: qty,
		UnitPrice: p.Price, Value: p.Price * commerce.Money(qty),
	})
	return nil
}

func (f *fakeCommerce) RemoveFromCart(_ context.Context, ref, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.carts[ref][:0]
	for _, it := range f.carts[ref] {
		if it.ID != itemID {
			items = append(items, it)
		}
	}
	f.carts[ref] = items
	return nil
}

func (f *fakeCommerce) GetCart(_ context.Context, ref string) (commerce.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := commerce.Cart{Items: append([]commerce.CartItem(nil), f.carts[ref]...)}
	for _, it := range cart.Items {
		cart.Total += it.Value
	}
	return cart, nil
}

func (f *fakeCommerce) CreateOrFindCustomer(_ context.Context, name, email string) (commerce.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.customers {
		if c.Name == name && strings.EqualFold(c.Email, email) {
			return c, nil
		}
	}
	f.created++
	c := commerce.Customer{ID: f.id("cust"), Name: name, Email: email}
	f.customers = append(f.customers, c)
	return c, nil
}

func (f *fakeCommerce) CreateEntry(_ context.Context, flow string, fields map[string]any) (commerce.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := commerce.Entry{ID: f.id("entry"), Fields: map[string]string{}}
	for k, v := range fields {
		e.Fields[k] = fmt.Sprint(v)
	}
	f.entries[flow] = append(f.entries[flow], e)
	return e, nil
}

func (f *fakeCommerce) ListEntries(_ context.Context, flow string) ([]commerce.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]commerce.Entry(nil), f.entries[flow]...), nil
}

type sent struct {
	userID string
	msgs   []render.Message
}

type fakeSink struct {
	mu       sync.Mutex
	sent     []sent
	notified []Notification
	invoices []payment.Invoice
	sendErr  error
}

func (s *fakeSink) Send(_ context.Context, userID string, msgs []render.Message) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{userID: userID, msgs: msgs})
	return nil
}

func (s *fakeSink) Notify(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, n)
	return nil
}

func (s *fakeSink) Invoice(_ context.Context, _ string, inv payment.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = append(s.invoices, inv)
	return nil
}

func (s *fakeSink) last() render.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return render.Message{}
	}
	msgs := s.sent[len(s.sent)-1].msgs
	return msgs[len(msgs)-1]
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeGeocoder struct {
	resolve func(address string) (geo.Point, error)
}

func (g fakeGeocoder) Resolve(_ context.Context, address string) (geo.Point, error) {
	return g.resolve(address)
}

type fakeScheduler struct {
	keys []string
	fns  []func(context.Context)
}

func (s *fakeScheduler) Schedule(key string, _ time.Duration, fn func(context.Context)) string {
	s.keys = append(s.keys, key)
	s.fns = append(s.fns, fn)
	return "task"
}

type fakePublisher struct{ orders []events.OrderPlaced }

func (p *fakePublisher) PublishOrder(_ context.Context, ev events.OrderPlaced) error {
	p.orders = append(p.orders, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

var pizzeria = geo.Point{Lon: 37.6176, Lat: 55.7558}

// northOf returns a point roughly km kilometers north of the pizzeria.
func northOf(km float64) geo.Point {
	return geo.Point{Lon: pizzeria.Lon, Lat: pizzeria.Lat + km/111.195}
}

type harness struct {
	machine   *Machine
	store     *fakeStore
	commerce  *fakeCommerce
	sink      *fakeSink
	scheduler *fakeScheduler
	publisher *fakePublisher
	front     string
}

func telegramPolicy() config.FrontPolicy {
	return config.FrontPolicy{
		StartNext:      "HANDLE_DESCRIPTION",
		Checkout:       config.CheckoutDelivery,
		UnknownSession: config.UnknownReject,
		Layout:         config.LayoutKeyboard,
	}
}

func messengerPolicy() config.FrontPolicy {
	return config.FrontPolicy{
		StartNext:      "HANDLE_MENU",
		Checkout:       config.CheckoutEmail,
		UnknownSession: config.UnknownStart,
		CarouselCap:    5,
		Layout:         config.LayoutCarousel,
	}
}

func newHarness(t *testing.T, front string, policy config.FrontPolicy, geocode func(string) (geo.Point, error)) *harness {
	t.Helper()
	h := &harness{
		store:     newFakeStore(),
		commerce:  newFakeCommerce(),
		sink:      &fakeSink{},
		scheduler: &fakeScheduler{},
		publisher: &fakePublisher{},
		front:     front,
	}
	if geocode == nil {
		geocode = func(string) (geo.Point, error) { return northOf(3), nil }
	}
	h.commerce.entries["Pizzeria"] = []commerce.Entry{{
		ID: "pz1",
		Fields: map[string]string{
			geo.FieldAddress:       "Тверская 1",
			geo.FieldAlias:         "Центр",
			geo.FieldLongitude:     fmt.Sprint(pizzeria.Lon),
			geo.FieldLatitude:      fmt.Sprint(pizzeria.Lat),
			geo.FieldDeliveryAgent: "777",
		},
	}}
	h.machine = New(Deps{
		Store:     h.store,
		Commerce:  h.commerce,
		Geocoder:  fakeGeocoder{resolve: geocode},
		Payments:  payment.New(payment.Config{ProviderToken: "provider", PayloadWord: "secret"}),
		Scheduler: h.scheduler,
		Publisher: h.publisher,
		Sink:      h.sink,
	}, Options{
		Front:        front,
		Policy:       policy,
		PizzeriaFlow: "Pizzeria",
		AddressFlow:  "customer_address",
	})
	return h
}

func (h *harness) key() string { return session.Key(h.front, "42") }

func (h *harness) seed(state State) {
	h.store.data[h.key()] = state.String()
}

func (h *harness) text(t *testing.T, text string) error {
	t.Helper()
	return h.machine.Handle(context.Background(), Event{UserID: "42", Username: "ann", Kind: KindText, Text: text})
}

func (h *harness) press(t *testing.T, payload string) error {
	t.Helper()
	return h.machine.Handle(context.Background(), Event{UserID: "42", Username: "ann", Kind: KindPostback, Text: payload})
}

func TestParseState(t *testing.T) {
	for s := Start; s <= WaitingTransaction; s++ {
		got, ok := ParseState(s.String())
		require.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := ParseState("HANDLE_EVERYTHING")
	assert.False(t, ok)
}

func TestResetFromAnyStoredState(t *testing.T) {
	stored := []string{"", "GARBAGE"}
	for s := Start; s <= WaitingTransaction; s++ {
		stored = append(stored, s.String())
	}
	for _, front := range []string{config.FrontTelegram, config.FrontMessenger} {
		for _, prior := range stored {
			policy := telegramPolicy()
			if front == config.FrontMessenger {
				policy = messengerPolicy()
			}
			h := newHarness(t, front, policy, nil)
			if prior != "" {
				h.store.data[h.key()] = prior
			}
			require.NoError(t, h.text(t, ResetCommand), "%s from %q", front, prior)
			assert.Equal(t, "START", h.store.state(h.key()), "%s from %q", front, prior)
			assert.Equal(t, 1, h.sink.count())
		}
	}
}

func TestStartShowsGreetingMenu(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	require.NoError(t, h.text(t, ResetCommand))

	msg := h.sink.last()
	assert.Contains(t, msg.Text, "ann")
	require.Len(t, msg.Keyboard, 3)
	assert.Equal(t, "p1", msg.Keyboard[0][0].Payload)

	// a product press right after the reset opens the product card
	require.NoError(t, h.press(t, "p1"))
	assert.Equal(t, "HANDLE_DESCRIPTION", h.store.state(h.key()))
	assert.Contains(t, h.sink.last().Text, "Pepperoni")
}

func TestUnknownSessionReject(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	require.NoError(t, h.text(t, "hello"))

	assert.Zero(t, h.store.sets)
	assert.Equal(t, render.TextUnknownSession, h.sink.last().Text)

	h.store.data[h.key()] = "NOT_A_STATE"
	require.NoError(t, h.press(t, "p1"))
	assert.Equal(t, "NOT_A_STATE", h.store.state(h.key()))
}

func TestUnknownSessionStart(t *testing.T) {
	h := newHarness(t, config.FrontMessenger, messengerPolicy(), nil)
	require.NoError(t, h.text(t, "hello"))

	assert.Equal(t, "HANDLE_MENU", h.store.state(h.key()))
	assert.NotEmpty(t, h.sink.last().Cards)
}

func TestMessengerCarouselCap(t *testing.T) {
	h := newHarness(t, config.FrontMessenger, messengerPolicy(), nil)
	var eight []commerce.Product
	for i := range 8 {
		eight = append(eight, commerce.Product{ID: fmt.Sprintf("m%d", i), Name: fmt.Sprintf("Pizza %d", i), Price: 45000})
	}
	h.commerce.categories = map[string]string{"front_main": "c1", "Spicy": "c2"}
	h.commerce.byCategory["c1"] = eight
	h.machine.opts.MainCategory = "front_main"

	require.NoError(t, h.text(t, "hi"))
	msg := h.sink.last()

	var products, categories int
	for _, c := range msg.Cards {
		for _, b := range c.Buttons {
			switch verb, _ := render.Parse(b.Payload); verb {
			case render.VerbAdd:
				products++
			case render.VerbCategory:
				categories++
				assert.Equal(t, "category Spicy", b.Payload)
			}
		}
	}
	assert.Equal(t, 5, products)
	assert.Equal(t, 1, categories)
	assert.Equal(t, 5, h.commerce.imageCalls)
}

func TestTelegramMenuIsUncapped(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	for i := range 6 {
		h.commerce.products = append(h.commerce.products, commerce.Product{ID: fmt.Sprintf("x%d", i), Name: "X"})
	}
	h.seed(HandleDescription)
	require.NoError(t, h.press(t, render.VerbBack))
	assert.Len(t, h.sink.last().Keyboard, 9)
}

func TestCartRoundTrip(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	h.seed(HandleDescription)

	require.NoError(t, h.press(t, "add p1"))
	assert.True(t, h.sink.last().Toast)
	assert.Equal(t, "HANDLE_DESCRIPTION", h.store.state(h.key()))

	require.NoError(t, h.press(t, render.VerbCart))
	assert.Equal(t, "HANDLE_CART", h.store.state(h.key()))
	cartMsg := h.sink.last()
	verb, itemID := render.Parse(cartMsg.Keyboard[0][0].Payload)
	require.Equal(t, render.VerbRemove, verb)

	require.NoError(t, h.press(t, render.Token(render.VerbRemove, itemID)))
	assert.Equal(t, render.TextEmptyCart, h.sink.last().Text)
	cart, err := h.commerce.GetCart(context.Background(), h.key())
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.Total)

	require.NoError(t, h.press(t, render.VerbMenu))
	assert.Equal(t, "HANDLE_DESCRIPTION", h.store.state(h.key()))
}

func TestEmailValidation(t *testing.T) {
	h := newHarness(t, config.FrontMessenger, messengerPolicy(), nil)
	h.seed(HandleCart)
	require.NoError(t, h.press(t, render.VerbCheckout))
	assert.Equal(t, "WAITING_EMAIL", h.store.state(h.key()))
	assert.Equal(t, render.TextEmailPrompt, h.sink.last().Text)

	for _, bad := range []string{"ann.x.com", "ann@", "ann@x", "@x.com", "ann @x.com"} {
		require.NoError(t, h.text(t, bad))
		assert.Equal(t, render.TextInvalidEmail, h.sink.last().Text, bad)
		assert.Equal(t, "WAITING_EMAIL", h.store.state(h.key()), bad)
	}
	assert.Zero(t, h.commerce.created)

	require.NoError(t, h.text(t, "ann@x.com"))
	require.NoError(t, h.text(t, "ann@x.com"))
	assert.Equal(t, 1, h.commerce.created)
	assert.Equal(t, "ann, Ваш email ann@x.com?", h.sink.last().Text)

	require.NoError(t, h.press(t, render.VerbConfirm))
	assert.Equal(t, render.TextEmailThanks, h.sink.last().Text)
	assert.Equal(t, "WAITING_EMAIL", h.store.state(h.key()))
}

func TestDeliveryCheckout(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	h.seed(HandleDescription)
	require.NoError(t, h.press(t, "add p1"))
	require.NoError(t, h.press(t, render.VerbCart))
	require.NoError(t, h.press(t, render.VerbCheckout))
	assert.Equal(t, "WAITING_PAYMENT", h.store.state(h.key()))

	require.NoError(t, h.text(t, "Москва, Тверская 20"))
	assert.Equal(t, "WAITING_DELIVERY", h.store.state(h.key()))
	require.Len(t, h.commerce.entries["customer_address"], 1)
	assert.Equal(t, h.key(), h.commerce.entries["customer_address"][0].Field(FieldCustomerID))

	offer := h.sink.last()
	assert.Equal(t, "deliver 10000", offer.Keyboard[0][0].Payload)

	require.NoError(t, h.press(t, "deliver 10000"))
	assert.Equal(t, "WAITING_TRANSACTION", h.store.state(h.key()))

	require.Len(t, h.sink.notified, 1)
	assert.Equal(t, "777", h.sink.notified[0].RecipientID)
	assert.Contains(t, h.sink.notified[0].Text, "Pepperoni x1")
	assert.Equal(t, []string{h.key()}, h.scheduler.keys)

	require.Len(t, h.publisher.orders, 1)
	order := h.publisher.orders[0]
	assert.Equal(t, int64(60000), order.TotalMinor)
	assert.Equal(t, int64(10000), order.ShippingMinor)
	assert.Equal(t, "Центр", order.FacilityAlias)

	pay := h.sink.last()
	assert.Equal(t, "pay 60000", pay.Keyboard[0][0].Payload)

	require.NoError(t, h.press(t, "pay 60000"))
	require.Len(t, h.sink.invoices, 1)
	assert.Equal(t, int64(60000), h.sink.invoices[0].Amount)
	assert.Equal(t, "secret", h.sink.invoices[0].Payload)
	assert.Equal(t, "HANDLE_DESCRIPTION", h.store.state(h.key()))

	// the reminder reaches the customer when it fires
	before := h.sink.count()
	h.scheduler.fns[0](context.Background())
	assert.Equal(t, before+1, h.sink.count())
	assert.Equal(t, render.TextReminder, h.sink.last().Text)
}

func TestPayAmountComesFromTheOrder(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	h.seed(HandleDescription)
	require.NoError(t, h.press(t, "add p1"))
	require.NoError(t, h.press(t, render.VerbCheckout))
	require.NoError(t, h.text(t, "Москва, Тверская 20"))
	require.NoError(t, h.press(t, "deliver 10000"))
	require.Equal(t, "WAITING_TRANSACTION", h.store.state(h.key()))

	// typed text never issues an invoice
	require.NoError(t, h.text(t, "pay 100"))
	assert.Empty(t, h.sink.invoices)
	assert.Equal(t, render.TextPayHint, h.sink.last().Text)
	assert.Equal(t, "WAITING_TRANSACTION", h.store.state(h.key()))

	// a stale or forged button amount gets a fresh pay prompt
	require.NoError(t, h.press(t, "pay 100"))
	assert.Empty(t, h.sink.invoices)
	assert.Equal(t, "pay 60000", h.sink.last().Keyboard[0][0].Payload)
	assert.Equal(t, "WAITING_TRANSACTION", h.store.state(h.key()))

	require.NoError(t, h.press(t, "pay 60000"))
	require.Len(t, h.sink.invoices, 1)
	assert.Equal(t, int64(60000), h.sink.invoices[0].Amount)
}

func TestLocationPickup(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	h.seed(WaitingPayment)
	loc := northOf(0.4)
	require.NoError(t, h.machine.Handle(context.Background(), Event{UserID: "42", Kind: KindLocation, Location: &loc}))
	assert.Equal(t, "WAITING_DELIVERY", h.store.state(h.key()))
	assert.Equal(t, render.VerbPickup, h.sink.last().Keyboard[0][0].Payload)

	require.NoError(t, h.press(t, render.VerbPickup))
	assert.Contains(t, h.sink.last().Text, "Тверская 1")
	assert.Equal(t, "HANDLE_DESCRIPTION", h.store.state(h.key()))
	assert.Empty(t, h.sink.notified)
}

func TestAddressNotFoundReprompts(t *testing.T) {
	for name, geocodeErr := range map[string]error{
		"not found": geo.ErrNotFound,
		"transport": &geo.GeocodeError{Status: 502, Err: errors.New("bad gateway")},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, config.FrontTelegram, telegramPolicy(), func(string) (geo.Point, error) {
				return geo.Point{}, geocodeErr
			})
			h.seed(WaitingPayment)
			require.NoError(t, h.text(t, "nowhere"))
			assert.Equal(t, render.TextAddressNotFound, h.sink.last().Text)
			assert.Equal(t, "WAITING_PAYMENT", h.store.state(h.key()))
		})
	}
}

func TestOutOfRange(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), func(string) (geo.Point, error) {
		return northOf(25), nil
	})
	h.seed(WaitingPayment)
	require.NoError(t, h.text(t, "far away"))
	assert.Contains(t, h.sink.last().Text, "так далеко")
	assert.Equal(t, "HANDLE_DESCRIPTION", h.store.state(h.key()))
	assert.Empty(t, h.commerce.entries["customer_address"])
}

func TestStoreUnavailableIsFatal(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	h.store.getErr = fmt.Errorf("session get: %w", session.ErrStoreUnavailable)

	err := h.text(t, ResetCommand)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	assert.Zero(t, h.sink.count())
	assert.Zero(t, h.store.sets)
}

func TestHandlerErrorSkipsWrite(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	h.seed(HandleDescription)
	h.commerce.addErr = &commerce.UpstreamError{Op: "add to cart", Status: 500}

	err := h.press(t, "add p1")
	require.Error(t, err)
	var upstream *commerce.UpstreamError
	assert.ErrorAs(t, err, &upstream)
	assert.Zero(t, h.store.sets)
	assert.Zero(t, h.sink.count())
}

func TestSendErrorSkipsWrite(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	h.seed(HandleDescription)
	h.sink.sendErr = errors.New("telegram down")

	require.Error(t, h.press(t, render.VerbCart))
	assert.Equal(t, "HANDLE_DESCRIPTION", h.store.state(h.key()))
	assert.Zero(t, h.store.sets)
}

func TestMalformedEvent(t *testing.T) {
	h := newHarness(t, config.FrontTelegram, telegramPolicy(), nil)
	cases := []Event{
		{Kind: KindText, Text: "hi"},
		{UserID: "42", Kind: KindText},
		{UserID: "42", Kind: KindLocation},
	}
	for _, ev := range cases {
		err := h.machine.Handle(context.Background(), ev)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	}
	assert.Zero(t, h.sink.count())
}
