// Package app wires configuration, backends and fronts into runnable processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/netutil"
	"github.com/m3rciful/pizzabot/core/session"
	"github.com/m3rciful/pizzabot/shop/commerce"
	"github.com/m3rciful/pizzabot/shop/conversation"
	"github.com/m3rciful/pizzabot/shop/events"
	"github.com/m3rciful/pizzabot/shop/geo"
	"github.com/m3rciful/pizzabot/shop/payment"
	"github.com/m3rciful/pizzabot/shop/reminder"
	"github.com/m3rciful/pizzabot/shop/render"
)

// Services are the backends shared by every front of one process.
type Services struct {
	Config    *config.Config
	Sessions  session.Store
	Commerce  *commerce.Client
	Geocoder  *geo.Yandex
	Payments  *payment.Initiator
	Reminders *reminder.Scheduler
	Publisher events.Publisher
}

// NewServices builds the backend clients. Upstream HTTP clients never retry.
func NewServices(cfg *config.Config, sessions session.Store) (*Services, error) {
	if cfg == nil || sessions == nil {
		return nil, errors.New("app: config and session store are required")
	}
	publisher, err := openPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}
	return &Services{
		Config:   cfg,
		Sessions: sessions,
		Commerce: commerce.New(commerce.Config{
			BaseURL:      cfg.Commerce.BaseURL,
			ClientID:     cfg.Commerce.ClientID,
			ClientSecret: cfg.Commerce.ClientSecret,
			Currency:     cfg.Commerce.Currency,
			HTTPClient: netutil.NewHTTPClient(netutil.ClientOptions{
				Timeout: time.Duration(cfg.Commerce.TimeoutSeconds) * time.Second,
			}),
		}),
		Geocoder: geo.NewYandex(cfg.Geocoder.BaseURL, cfg.Geocoder.APIKey,
			netutil.NewHTTPClient(netutil.ClientOptions{Timeout: 10 * time.Second})),
		Payments: payment.New(payment.Config{
			ProviderToken:  cfg.Payment.ProviderToken,
			PayloadWord:    cfg.Payment.PayloadWord,
			Currency:       cfg.Payment.Currency,
			Title:          cfg.Payment.Title,
			Description:    cfg.Payment.Description,
			StartParameter: cfg.Payment.StartParameter,
			PriceLabel:     cfg.Payment.PriceLabel,
		}),
		Reminders: reminder.New(),
		Publisher: publisher,
	}, nil
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		return events.Nop{}, nil
	}
	p, err := events.DialAMQP(cfg.AMQPURL, cfg.Exchange, cfg.RoutingKey)
	if err != nil {
		return nil, fmt.Errorf("app: order events: %w", err)
	}
	logger.Info(logger.Background(), logger.CompEvents, "connect",
		slog.String("status", "ok"),
		slog.String("exchange", cfg.Exchange),
	)
	return p, nil
}

// Machine builds the conversation of one front.
func (s *Services) Machine(front string, sink conversation.Sink) *conversation.Machine {
	cfg := s.Config
	return conversation.New(conversation.Deps{
		Store:     s.Sessions,
		Commerce:  s.Commerce,
		Geocoder:  s.Geocoder,
		Payments:  s.Payments,
		Scheduler: s.Reminders,
		Publisher: s.Publisher,
		Sink:      sink,
	}, conversation.Options{
		Front:            front,
		Policy:           cfg.Policy(front),
		MainCategory:     cfg.Commerce.MainCategory,
		HiddenCategories: cfg.Commerce.HiddenCategories,
		PizzeriaFlow:     cfg.Commerce.PizzeriaFlow,
		AddressFlow:      cfg.Commerce.AddressFlow,
		Assets: render.Assets{
			MenuImageURL:       cfg.Assets.MenuImageURL,
			CategoriesImageURL: cfg.Assets.CategoriesImageURL,
		},
		ReminderDelay: time.Duration(cfg.Reminder.DelaySeconds) * time.Second,
	})
}

// Close stops pending reminders and releases the publisher and session store.
func (s *Services) Close(ctx context.Context) error {
	s.Reminders.Stop()
	errs := []error{s.Publisher.Close(), s.Sessions.Close()}
	err := errors.Join(errs...)
	if err != nil {
		logger.Warn(ctx, logger.CompApp, "close",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	return err
}
