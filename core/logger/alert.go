package logger

import (
	"context"
	"sync"
)

// AlertHook receives a one-line summary of every ERROR record.
type AlertHook func(ctx context.Context, summary string)

// ActionAlertSend marks records produced while delivering an alert; they are never forwarded.
const ActionAlertSend = "alert.send"

const maxAlertLen = 3500

var (
	alertMu   sync.RWMutex
	alertHook AlertHook
)

// SetAlertHook installs the operator alert hook. A nil hook disables forwarding.
func SetAlertHook(hook AlertHook) {
	alertMu.Lock()
	alertHook = hook
	alertMu.Unlock()
}

func currentAlertHook() AlertHook {
	alertMu.RLock()
	defer alertMu.RUnlock()
	return alertHook
}

func forwardAlert(ctx context.Context, fields map[string]any, line []byte) {
	hook := currentAlertHook()
	if hook == nil {
		return
	}
	if action, ok := stringField(fields, "action"); ok && action == ActionAlertSend {
		return
	}
	summary := SanitizeLimit(string(line), maxAlertLen)
	if ctx == nil {
		ctx = context.Background()
	}
	hook(context.WithoutCancel(ctx), summary)
}
