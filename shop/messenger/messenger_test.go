package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m3rciful/pizzabot/shop/conversation"
	"github.com/m3rciful/pizzabot/shop/payment"
	"github.com/m3rciful/pizzabot/shop/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConv struct {
	events []conversation.Event
	err    error
}

func (r *recordingConv) Handle(_ context.Context, ev conversation.Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestVerify(t *testing.T) {
	h := NewHandler(&recordingConv{}, "s3cret").Router()

	rec := get(t, h, "/?hub.mode=subscribe&hub.challenge=12345&hub.verify_token=s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	rec = get(t, h, "/?hub.mode=subscribe&hub.challenge=12345&hub.verify_token=wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Verification token mismatch", rec.Body.String())

	rec = get(t, h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello world!!", rec.Body.String())

	rec = get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReceiveMapsEventsAndSkipsMalformed(t *testing.T) {
	conv := &recordingConv{err: errors.New("commerce down")}
	h := NewHandler(conv, "s3cret").Router()

	body := `{
	  "object": "page",
	  "entry": [{
	    "id": "page-1",
	    "messaging": [
	      {"sender": {"id": "u1"}, "timestamp": 100, "message": {"text": "hi"}},
	      {"sender": {"id": "u1"}, "timestamp": 101, "postback": {"payload": "add p1"}},
	      {"sender": {"id": "u1"}, "timestamp": 102, "message": {"text": "echo", "is_echo": true}},
	      {"timestamp": 103, "message": {"text": "no sender"}},
	      {"sender": {"id": "u2"}, "timestamp": 104, "message": {"attachments": []}},
	      {"sender": {"id": "u2"}, "timestamp": 105, "message": {"text": "x", "quick_reply": {"payload": "cart"}}}
	    ]
	  }]
	}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	require.Len(t, conv.events, 3)
	assert.Equal(t, conversation.Event{Front: "facebook", UserID: "u1", UpdateID: 100, Kind: conversation.KindText, Text: "hi"}, conv.events[0])
	assert.Equal(t, conversation.KindPostback, conv.events[1].Kind)
	assert.Equal(t, "add p1", conv.events[1].Text)
	assert.Equal(t, "cart", conv.events[2].Text)
}

func TestReceiveRejectsInvalidJSON(t *testing.T) {
	conv := &recordingConv{}
	h := NewHandler(conv, "s3cret").Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"object":"user","entry":[]}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, conv.events)
}

type captured struct {
	query string
	body  map[string]any
}

func graphServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var calls []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/messages", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		calls = append(calls, captured{query: r.URL.Query().Get("access_token"), body: body})
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"message":"bad"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGraphSendShapes(t *testing.T) {
	srv, calls := graphServer(t, http.StatusOK)
	g := NewGraph(srv.URL+"/", "page-token", srv.Client())
	ctx := context.Background()

	require.NoError(t, g.SendText(ctx, "u1", "hello"))
	require.NoError(t, g.SendGeneric(ctx, "u1", []Element{{Title: "Pizza", Buttons: []Button{{Type: "postback", Title: "Add", Payload: "add p1"}}}}))
	require.NoError(t, g.SendButtons(ctx, "u1", "pick", []Button{{Type: "postback", Title: "Cart", Payload: "cart"}}))

	require.Len(t, *calls, 3)
	first := (*calls)[0]
	assert.Equal(t, "page-token", first.query)
	assert.Equal(t, map[string]any{"id": "u1"}, first.body["recipient"])
	assert.Equal(t, "hello", first.body["message"].(map[string]any)["text"])

	payload := (*calls)[1].body["message"].(map[string]any)["attachment"].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, "generic", payload["template_type"])
	assert.Len(t, payload["elements"], 1)

	payload = (*calls)[2].body["message"].(map[string]any)["attachment"].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, "button", payload["template_type"])
	assert.Equal(t, "pick", payload["text"])
}

func TestGraphLimitsAndErrors(t *testing.T) {
	srv, calls := graphServer(t, http.StatusBadRequest)
	g := NewGraph(srv.URL, "page-token", srv.Client())
	ctx := context.Background()

	require.Error(t, g.SendGeneric(ctx, "u1", make([]Element, 11)))
	require.Error(t, g.SendButtons(ctx, "u1", "x", make([]Button, 4)))
	assert.Empty(t, *calls)

	err := g.SendText(ctx, "u1", "hello")
	var gerr *GraphError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, http.StatusBadRequest, gerr.Status)
	assert.Equal(t, "GRAPH_ERROR", gerr.Code())
}

type fakeSender struct {
	texts    []string
	images   []string
	generics [][]Element
	buttons  [][]Button
	heads    []string
}

func (f *fakeSender) SendText(_ context.Context, _, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) SendImage(_ context.Context, _, url string) error {
	f.images = append(f.images, url)
	return nil
}

func (f *fakeSender) SendGeneric(_ context.Context, _ string, els []Element) error {
	f.generics = append(f.generics, els)
	return nil
}

func (f *fakeSender) SendButtons(_ context.Context, _, text string, btns []Button) error {
	f.heads = append(f.heads, text)
	f.buttons = append(f.buttons, btns)
	return nil
}

func TestSinkRendersCardsAndKeyboards(t *testing.T) {
	api := &fakeSender{}
	sink := NewSink(api)

	cards := make([]render.Card, 12)
	for i := range cards {
		cards[i] = render.Card{Title: "c", Buttons: []render.Button{{Label: "a", Payload: "a"}}}
	}
	err := sink.Send(context.Background(), "u1", []render.Message{
		{Cards: cards},
		render.Text("plain"),
		{
			Text:     "cart",
			ImageURL: "https://img/x.png",
			Keyboard: [][]render.Button{
				{{Label: "1", Payload: "remove 1"}}, {{Label: "2", Payload: "remove 2"}},
				{{Label: "3", Payload: "checkout"}}, {{Label: "4", Payload: "menu"}},
			},
		},
	})
	require.NoError(t, err)

	require.Len(t, api.generics, 2)
	assert.Len(t, api.generics[0], 10)
	assert.Len(t, api.generics[1], 2)
	assert.Equal(t, []string{"plain"}, api.texts)
	assert.Equal(t, []string{"https://img/x.png"}, api.images)
	require.Len(t, api.buttons, 2)
	assert.Len(t, api.buttons[0], 3)
	assert.Equal(t, "cart", api.heads[0])
	assert.Equal(t, "menu", api.buttons[1][0].Payload)
}

func TestSinkUnsupportedEffects(t *testing.T) {
	sink := NewSink(&fakeSender{})
	assert.ErrorIs(t, sink.Notify(context.Background(), conversation.Notification{}), ErrUnsupported)
	assert.ErrorIs(t, sink.Invoice(context.Background(), "u1", payment.Invoice{}), ErrUnsupported)
}
