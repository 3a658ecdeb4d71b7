package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/m3rciful/pizzabot/shop/events"
	"github.com/m3rciful/pizzabot/shop/geo"
	"github.com/m3rciful/pizzabot/shop/payment"
	"github.com/m3rciful/pizzabot/shop/render"
)

// State is a persisted conversation step.
type State int

const (
	Start State = iota
	HandleMenu
	HandleDescription
	HandleCart
	WaitingEmail
	WaitingPayment
	WaitingDelivery
	WaitingTransaction
)

var stateNames = [...]string{
	Start:              "START",
	HandleMenu:         "HANDLE_MENU",
	HandleDescription:  "HANDLE_DESCRIPTION",
	HandleCart:         "HANDLE_CART",
	WaitingEmail:       "WAITING_EMAIL",
	WaitingPayment:     "WAITING_PAYMENT",
	WaitingDelivery:    "WAITING_DELIVERY",
	WaitingTransaction: "WAITING_TRANSACTION",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// ParseState maps a stored token back to a State.
func ParseState(token string) (State, bool) {
	token = strings.TrimSpace(token)
	for i, name := range stateNames {
		if name == token {
			return State(i), true
		}
	}
	return Start, false
}

// ResetCommand forces the conversation back to Start from any state.
const ResetCommand = "/start"

// Kind tells how the user produced an event.
type Kind int

const (
	KindText Kind = iota
	KindPostback
	KindLocation
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPostback:
		return "postback"
	case KindLocation:
		return "location"
	default:
		return "unknown"
	}
}

// Event is one normalized inbound user action.
type Event struct {
	Front    string
	UserID   string
	Username string
	UpdateID int64
	Kind     Kind
	// Text is the message text or the button payload.
	Text     string
	Location *geo.Point
}

// ErrMalformedEvent marks inbound events that miss required fields.
var ErrMalformedEvent = errors.New("conversation: malformed event")

type malformedError struct{ reason string }

func (e *malformedError) Error() string        { return "conversation: malformed event: " + e.reason }
func (e *malformedError) Is(target error) bool { return target == ErrMalformedEvent }
func (e *malformedError) Code() string         { return "MALFORMED_EVENT" }

func (ev Event) validate() error {
	switch {
	case strings.TrimSpace(ev.Front) == "":
		return &malformedError{reason: "missing front"}
	case strings.TrimSpace(ev.UserID) == "":
		return &malformedError{reason: "missing sender"}
	case ev.Kind == KindLocation && ev.Location == nil:
		return &malformedError{reason: "location without coordinates"}
	case ev.Kind != KindLocation && strings.TrimSpace(ev.Text) == "":
		return &malformedError{reason: "empty text"}
	}
	return nil
}

// Notification is a message for someone other than the sender, e.g. a courier.
type Notification struct {
	RecipientID string
	Text        string
	Location    *geo.Point
}

// Effects is what a state handler asks the machine to carry out.
type Effects struct {
	Replies  []render.Message
	Notify   *Notification
	Invoice  *payment.Invoice
	Reminder bool
	Order    *events.OrderPlaced
}

func (e *Effects) reply(msgs ...render.Message) {
	e.Replies = append(e.Replies, msgs...)
}

// Sink delivers effects through a chat front.
type Sink interface {
	Send(ctx context.Context, userID string, msgs []render.Message) error
	Notify(ctx context.Context, n Notification) error
	Invoice(ctx context.Context, userID string, inv payment.Invoice) error
}
