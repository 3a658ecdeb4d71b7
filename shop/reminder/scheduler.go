// Package reminder runs cancellable delayed callbacks keyed by user identity.
package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/pizzabot/core/logger"
)

type task struct {
	id    string
	timer *time.Timer
}

// Scheduler holds at most one pending task per key.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]task
	stopped bool
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]task)}
}

// Schedule runs fn after delay, replacing any task pending under key. It returns the task id.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func(ctx context.Context)) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ""
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}
	timer := time.AfterFunc(delay, func() {
		if !s.finish(key, id) {
			return
		}
		ctx := logger.WithHandler(context.Background(), "reminder")
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, logger.CompReminder, "fire",
					slog.String("status", "fail"),
					slog.String("reminder_id", id),
					slog.Any("panic", r),
				)
			}
		}()
		fn(ctx)
		logger.Info(ctx, logger.CompReminder, "fire",
			slog.String("status", "ok"),
			slog.String("reminder_id", id),
		)
	})
	s.tasks[key] = task{id: id, timer: timer}
	return id
}

// finish removes the task if it is still the current one for key.
func (s *Scheduler) finish(key, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[key]
	if !ok || cur.id != id {
		return false
	}
	delete(s.tasks, key)
	return true
}

// Cancel stops the task pending under key and reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports whether a task is waiting under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Stop cancels every pending task and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
	s.stopped = true
}
