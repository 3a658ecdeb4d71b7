// Package conversation drives the per-user pizza ordering dialogue.
//
// Every inbound event is handled as: load the stored state, pick a handler by
// state, run it, deliver its effects through the front's Sink and persist the
// next state. The load and the final write are two separate store round trips,
// so two events of one user handled concurrently may both read the same state
// and the later write wins. Fronts deliver one user's events sequentially,
// which keeps the window small; the race is accepted and not locked against.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/session"
	"github.com/m3rciful/pizzabot/shop/commerce"
	"github.com/m3rciful/pizzabot/shop/events"
	"github.com/m3rciful/pizzabot/shop/geo"
	"github.com/m3rciful/pizzabot/shop/payment"
	"github.com/m3rciful/pizzabot/shop/render"
)

// Store persists state tokens by session key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, state string) error
}

// Commerce is the subset of the commerce gateway the dialogue uses.
type Commerce interface {
	Currency() string
	ListProducts(ctx context.Context) ([]commerce.Product, error)
	ListProductsByCategory(ctx context.Context, categoryID string) ([]commerce.Product, error)
	ListCategories(ctx context.Context) (map[string]string, error)
	GetProduct(ctx context.Context, id string) (commerce.Product, error)
	GetPrice(ctx context.Context, id string) (map[string]commerce.Price, error)
	GetStock(ctx context.Context, id string) (int, error)
	GetProductImage(ctx context.Context, id string) (string, error)
	AddToCart(ctx context.Context, ref, productID string, quantity int) error
	RemoveFromCart(ctx context.Context, ref, itemID string) error
	GetCart(ctx context.Context, ref string) (commerce.Cart, error)
	CreateOrFindCustomer(ctx context.Context, name, email string) (commerce.Customer, error)
	CreateEntry(ctx context.Context, flow string, fields map[string]any) (commerce.Entry, error)
	ListEntries(ctx context.Context, flow string) ([]commerce.Entry, error)
}

// Geocoder resolves free-form addresses.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (geo.Point, error)
}

// Payments issues invoices.
type Payments interface {
	NewInvoice(amountMinor int64) (payment.Invoice, error)
}

// Scheduler runs delayed tasks keyed by user.
type Scheduler interface {
	Schedule(key string, delay time.Duration, fn func(ctx context.Context)) string
}

// Deps are the collaborators of a Machine. Geocoder, Payments, Scheduler and
// Publisher are only needed by the delivery checkout.
type Deps struct {
	Store     Store
	Commerce  Commerce
	Geocoder  Geocoder
	Payments  Payments
	Scheduler Scheduler
	Publisher events.Publisher
	Sink      Sink
}

// Options configure a Machine for one front.
type Options struct {
	Front            string
	Policy           config.FrontPolicy
	MainCategory     string
	HiddenCategories []string
	PizzeriaFlow     string
	AddressFlow      string
	Assets           render.Assets
	ReminderDelay    time.Duration
	Now              func() time.Time
}

// Machine handles events of one front.
type Machine struct {
	deps      Deps
	opts      Options
	startNext State
}

// New builds a Machine. Missing optional deps fall back to no-ops.
func New(deps Deps, opts Options) *Machine {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReminderDelay <= 0 {
		opts.ReminderDelay = time.Hour
	}
	next, ok := ParseState(opts.Policy.StartNext)
	if !ok || (next != HandleMenu && next != HandleDescription) {
		next = HandleDescription
	}
	return &Machine{deps: deps, opts: opts, startNext: next}
}

// Front returns the front this machine serves.
func (m *Machine) Front() string { return m.opts.Front }

// Handle processes one event. Errors are returned after logging; the caller
// sends nothing to the user in that case.
func (m *Machine) Handle(ctx context.Context, ev Event) error {
	start := time.Now()
	if ev.Front == "" {
		ev.Front = m.opts.Front
	}
	if err := ev.validate(); err != nil {
		logger.Warn(ctx, logger.CompFSM, "event.drop",
			slog.String("status", "fail"),
			slog.String("kind", ev.Kind.String()),
			slog.String("err", err.Error()),
			slog.String("err_code", logger.ErrorCode(err)),
		)
		return err
	}

	key := session.Key(ev.Front, ev.UserID)
	state, err := m.resolveState(ctx, key, ev)
	if err != nil {
		m.logFailure(ctx, "session.load", err, start)
		return err
	}
	if state == nil {
		return nil
	}
	ctx = logger.WithState(ctx, state.String())

	var (
		eff  Effects
		next State
	)
	if isReset(ev) {
		eff, next, err = m.handleReset(ctx, ev)
	} else {
		eff, next, err = m.dispatch(ctx, *state, ev, key)
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", state, err)
		m.logFailure(ctx, "handle", err, start)
		return err
	}

	if err := m.apply(ctx, ev, key, eff); err != nil {
		m.logFailure(ctx, "deliver", err, start)
		return err
	}

	if err := m.deps.Store.Set(ctx, key, next.String()); err != nil {
		m.logFailure(ctx, "session.save", err, start)
		return err
	}

	verb, _ := render.Parse(ev.Text)
	logger.Info(ctx, logger.CompFSM, "transition",
		slog.String("status", "ok"),
		slog.String("next_state", next.String()),
		slog.String("verb", verb),
		slog.String("kind", ev.Kind.String()),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// resolveState returns nil when the event must be ignored.
func (m *Machine) resolveState(ctx context.Context, key string, ev Event) (*State, error) {
	stored, found, err := m.deps.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if isReset(ev) {
		s := Start
		return &s, nil
	}
	state, known := ParseState(stored)
	if found && known {
		return &state, nil
	}
	if m.opts.Policy.UnknownSession == config.UnknownReject {
		logger.Info(ctx, logger.CompFSM, "session.unknown",
			slog.String("status", "skip"),
			slog.Bool("found", found),
		)
		if err := m.deps.Sink.Send(ctx, ev.UserID, []render.Message{render.Text(render.TextUnknownSession)}); err != nil {
			return nil, fmt.Errorf("send unknown session hint: %w", err)
		}
		return nil, nil
	}
	s := Start
	return &s, nil
}

func isReset(ev Event) bool {
	return ev.Kind != KindLocation && strings.TrimSpace(ev.Text) == ResetCommand
}

func (m *Machine) dispatch(ctx context.Context, state State, ev Event, key string) (Effects, State, error) {
	switch state {
	case Start:
		return m.handleStart(ctx, ev, key)
	case HandleMenu, HandleDescription:
		return m.handleBrowse(ctx, state, ev, key)
	case HandleCart:
		return m.handleCart(ctx, ev, key)
	case WaitingEmail:
		return m.handleEmail(ctx, ev)
	case WaitingPayment:
		return m.handleAddress(ctx, ev, key)
	case WaitingDelivery:
		return m.handleDelivery(ctx, ev, key)
	case WaitingTransaction:
		return m.handleTransaction(ctx, ev, key)
	default:
		return m.handleStart(ctx, ev, key)
	}
}

// apply delivers replies, courier notification, invoice, reminder and order event.
// Replies and invoices must succeed; the rest is best-effort.
func (m *Machine) apply(ctx context.Context, ev Event, key string, eff Effects) error {
	if len(eff.Replies) > 0 {
		if err := m.deps.Sink.Send(ctx, ev.UserID, eff.Replies); err != nil {
			return fmt.Errorf("send replies: %w", err)
		}
	}
	if eff.Invoice != nil {
		if err := m.deps.Sink.Invoice(ctx, ev.UserID, *eff.Invoice); err != nil {
			return fmt.Errorf("send invoice: %w", err)
		}
	}
	if eff.Notify != nil {
		if err := m.deps.Sink.Notify(ctx, *eff.Notify); err != nil {
			logger.Error(ctx, logger.CompFSM, "courier.notify",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
				slog.String("err_code", logger.ErrorCode(err)),
			)
		}
	}
	if eff.Reminder && m.deps.Scheduler != nil {
		userID := ev.UserID
		id := m.deps.Scheduler.Schedule(key, m.opts.ReminderDelay, func(rctx context.Context) {
			rctx = logger.WithEventMeta(rctx, ev.Front, 0, userID)
			if err := m.deps.Sink.Send(rctx, userID, []render.Message{render.Text(render.TextReminder)}); err != nil {
				logger.Error(rctx, logger.CompReminder, "send",
					slog.String("status", "fail"),
					slog.String("err", err.Error()),
				)
			}
		})
		logger.Debug(ctx, logger.CompReminder, "schedule",
			slog.String("reminder_id", id),
			slog.Duration("delay", m.opts.ReminderDelay),
		)
	}
	if eff.Order != nil {
		if err := m.deps.Publisher.PublishOrder(ctx, *eff.Order); err != nil {
			logger.Error(ctx, logger.CompEvents, "publish",
				slog.String("status", "fail"),
				slog.String("order_id", eff.Order.ID),
				slog.String("err", err.Error()),
			)
		}
	}
	return nil
}

func (m *Machine) logFailure(ctx context.Context, op string, err error, start time.Time) {
	logger.Error(ctx, logger.CompFSM, "handle",
		slog.String("status", "fail"),
		slog.String("op", op),
		slog.String("err", err.Error()),
		slog.String("err_code", logger.ErrorCode(err)),
		slog.Duration("duration", logger.Took(start)),
	)
}
