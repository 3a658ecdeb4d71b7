package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
)

// Platform limits of the send API templates.
const (
	MaxGenericElements = 10
	MaxTemplateButtons = 3
)

// Button is a postback button.
type Button struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload,omitempty"`
}

// Element is one generic template card.
type Element struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

type recipient struct {
	ID string `json:"id"`
}

type attachment struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type outMessage struct {
	Text       string      `json:"text,omitempty"`
	Attachment *attachment `json:"attachment,omitempty"`
}

type sendRequest struct {
	Recipient     recipient  `json:"recipient"`
	MessagingType string     `json:"messaging_type"`
	Message       outMessage `json:"message"`
}

// GraphError is a non-success answer of the send API.
type GraphError struct {
	Status int
	Body   string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("messenger: send api status %d: %s", e.Status, e.Body)
}

// Code reports the stable error code used in logs.
func (e *GraphError) Code() string { return "GRAPH_ERROR" }

// Graph posts messages to the page send API. Every call is attempted once.
type Graph struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewGraph builds a send API client.
func NewGraph(baseURL, pageToken string, hc *http.Client) *Graph {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Graph{baseURL: strings.TrimRight(baseURL, "/"), token: pageToken, httpClient: hc}
}

// SendText sends a plain text message.
func (g *Graph) SendText(ctx context.Context, to, text string) error {
	return g.send(ctx, "text", to, outMessage{Text: text})
}

// SendImage sends an image by URL.
func (g *Graph) SendImage(ctx context.Context, to, imageURL string) error {
	return g.send(ctx, "image", to, outMessage{Attachment: &attachment{
		Type:    "image",
		Payload: map[string]any{"url": imageURL, "is_reusable": true},
	}})
}

// SendGeneric sends a carousel of up to MaxGenericElements cards.
func (g *Graph) SendGeneric(ctx context.Context, to string, elements []Element) error {
	if len(elements) == 0 || len(elements) > MaxGenericElements {
		return fmt.Errorf("messenger: generic template takes 1..%d elements, got %d", MaxGenericElements, len(elements))
	}
	return g.send(ctx, "generic", to, outMessage{Attachment: &attachment{
		Type: "template",
		Payload: map[string]any{
			"template_type": "generic",
			"elements":      elements,
		},
	}})
}

// SendButtons sends text with up to MaxTemplateButtons buttons.
func (g *Graph) SendButtons(ctx context.Context, to, text string, buttons []Button) error {
	if len(buttons) == 0 || len(buttons) > MaxTemplateButtons {
		return fmt.Errorf("messenger: button template takes 1..%d buttons, got %d", MaxTemplateButtons, len(buttons))
	}
	return g.send(ctx, "buttons", to, outMessage{Attachment: &attachment{
		Type: "template",
		Payload: map[string]any{
			"template_type": "button",
			"text":          text,
			"buttons":       buttons,
		},
	}})
}

func (g *Graph) send(ctx context.Context, kind, to string, msg outMessage) error {
	body, err := json.Marshal(sendRequest{
		Recipient:     recipient{ID: to},
		MessagingType: "RESPONSE",
		Message:       msg,
	})
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	endpoint := g.baseURL + "/me/messages?" + url.Values{"access_token": {g.token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		// url.Error carries the request URL, which holds the page token.
		return fmt.Errorf("messenger: send %s: %s", kind, redact(err.Error(), g.token))
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return &GraphError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if logger.ShouldSampleDebug("fb.send") {
		logger.Debug(ctx, logger.CompMessenger, "send",
			slog.String("status", "ok"),
			slog.String("kind", kind),
			slog.Int("http_code", resp.StatusCode),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	return nil
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(secret), "<redacted>")
	return strings.ReplaceAll(s, secret, "<redacted>")
}
