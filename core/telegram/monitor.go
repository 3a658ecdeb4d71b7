package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/netutil"
	tghelpers "github.com/m3rciful/pizzabot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// AlertSender delivers one message to a chat.
type AlertSender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// Monitor forwards ERROR log summaries to the operator chat.
type Monitor struct {
	sender  AlertSender
	adminID int64
	dropped atomic.Uint64
}

// NewMonitor returns a monitor sending through s, or nil when no admin chat is configured.
func NewMonitor(s AlertSender, adminID int64) *Monitor {
	if s == nil || adminID == 0 {
		return nil
	}
	return &Monitor{sender: s, adminID: adminID}
}

// NewMonitorBot builds an offline bot used only for outbound alerts.
func NewMonitorBot(token string) (*tele.Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram: monitor token is empty")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client: netutil.NewHTTPClient(netutil.ClientOptions{
			Timeout: 15 * time.Second,
			Retries: 2,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: monitor bot init failed: %w", err)
	}
	return bot, nil
}

// Alert queues summary for the admin chat. It runs inside the log handler, so
// an alert is dropped rather than sent inline when the queue cannot take it.
func (m *Monitor) Alert(ctx context.Context, summary string) {
	if m == nil || summary == "" {
		return
	}
	ok := tghelpers.TryEnqueue(ctx, logger.ActionAlertSend, "sendMessage", func() error {
		_, err := m.sender.Send(tele.ChatID(m.adminID), summary, &tele.SendOptions{DisableWebPagePreview: true})
		return err
	})
	if !ok {
		m.dropped.Add(1)
	}
}

// Dropped returns the number of alerts the queue could not take.
func (m *Monitor) Dropped() uint64 {
	if m == nil {
		return 0
	}
	return m.dropped.Load()
}

// Install routes ERROR records to the monitor. A nil monitor clears the hook.
func (m *Monitor) Install() {
	if m == nil {
		logger.SetAlertHook(nil)
		return
	}
	logger.SetAlertHook(m.Alert)
}
