package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: yaml-token
  admin_id: 42
commerce:
  client_id: id
  client_secret: secret
session:
  backend: memory
conversation:
  messenger:
    carousel_cap: 3
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndEnvOverlay(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("PAYMENT_PAYLOAD_WORD", "secret-word")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, int64(42), cfg.Telegram.AdminID)
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, "secret-word", cfg.Payment.PayloadWord)
	assert.Equal(t, "Pizza", cfg.Payment.PriceLabel)
	assert.Equal(t, "https://api.moltin.com", cfg.Commerce.BaseURL)
	assert.Equal(t, 3600, cfg.Reminder.DelaySeconds)

	tg := cfg.Policy(FrontTelegram)
	assert.Equal(t, "HANDLE_DESCRIPTION", tg.StartNext)
	assert.Equal(t, CheckoutDelivery, tg.Checkout)
	assert.Equal(t, UnknownReject, tg.UnknownSession)
	assert.Zero(t, tg.CarouselCap)

	fb := cfg.Policy(FrontMessenger)
	assert.Equal(t, "HANDLE_MENU", fb.StartNext)
	assert.Equal(t, UnknownStart, fb.UnknownSession)
	assert.Equal(t, 3, fb.CarouselCap)
	assert.Equal(t, LayoutCarousel, fb.Layout)
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	t.Setenv("COMMERCE_CLIENT_ID", "id")
	t.Setenv("COMMERCE_CLIENT_SECRET", "secret")
	t.Setenv("SESSION_BACKEND", "sqlite")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Session.Backend)
	assert.Equal(t, "data/sessions.db", cfg.Session.SQLitePath)
}

func TestNormalizeRejectsInvalidValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Commerce: CommerceConfig{ClientID: "id", ClientSecret: "secret"},
			Session:  SessionConfig{Backend: BackendMemory},
		}
	}

	cases := map[string]func(*Config){
		"run mode":        func(c *Config) { c.Telegram.RunMode = "push" },
		"backend":         func(c *Config) { c.Session.Backend = "etcd" },
		"redis url":       func(c *Config) { c.Session.Backend = BackendRedis },
		"credentials":     func(c *Config) { c.Commerce.ClientSecret = "" },
		"rate limit kind": func(c *Config) { c.RateLimit.ExcludeUpdates = []string{"inline_query"} },
		"messenger delivery": func(c *Config) {
			c.Conversation.Messenger.Checkout = CheckoutDelivery
		},
		"unknown policy": func(c *Config) { c.Conversation.Telegram.UnknownSession = "ignore" },
		"start next":     func(c *Config) { c.Conversation.Telegram.StartNext = "HANDLE_CART" },
		"negative cap": func(c *Config) {
			negative := -1
			c.Conversation.Messenger.CarouselCapSetting = &negative
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, Normalize(cfg))
		})
	}
}

func TestCarouselCapZeroDisablesLimit(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
commerce:
  client_id: id
  client_secret: secret
session:
  backend: memory
conversation:
  messenger:
    carousel_cap: 0
`))
	require.NoError(t, err)
	assert.Zero(t, cfg.Policy(FrontMessenger).CarouselCap)

	cfg, err = Load(writeConfig(t, `
commerce:
  client_id: id
  client_secret: secret
session:
  backend: memory
`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Policy(FrontMessenger).CarouselCap)
}

func TestRequireFront(t *testing.T) {
	cfg := &Config{
		Commerce: CommerceConfig{ClientID: "id", ClientSecret: "secret"},
		Session:  SessionConfig{Backend: BackendMemory},
	}
	require.NoError(t, Normalize(cfg))

	assert.Error(t, RequireFront(cfg, FrontTelegram))
	cfg.Telegram.Token = "token"
	assert.Error(t, RequireFront(cfg, FrontTelegram), "delivery checkout needs geocoder and payment settings")
	cfg.Geocoder.APIKey = "geo"
	cfg.Payment.ProviderToken = "provider"
	cfg.Payment.PayloadWord = "word"
	assert.NoError(t, RequireFront(cfg, FrontTelegram))

	assert.Error(t, RequireFront(cfg, FrontMessenger))
	cfg.Messenger.PageToken = "page"
	cfg.Messenger.VerifyToken = "verify"
	assert.NoError(t, RequireFront(cfg, FrontMessenger))

	assert.Error(t, RequireFront(cfg, "irc"))
}
