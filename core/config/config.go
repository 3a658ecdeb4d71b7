package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds settings of the Telegram front and the operator monitor bot.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// MonitorToken belongs to a separate bot that forwards error summaries to AdminID.
	MonitorToken string `yaml:"monitor_token" envconfig:"TELEGRAM_MONITOR_TOKEN"`
}

// WebhookConfig specifies Telegram webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	ErrorsFile  string `yaml:"errors_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// MessengerConfig configures the Facebook Messenger webhook front.
type MessengerConfig struct {
	PageToken   string `yaml:"page_token" envconfig:"FACEBOOK_TOKEN"`
	VerifyToken string `yaml:"verify_token" envconfig:"VERIFY_TOKEN"`
	Listen      string `yaml:"listen" envconfig:"MESSENGER_LISTEN"`
	GraphURL    string `yaml:"graph_url" envconfig:"MESSENGER_GRAPH_URL"`
}

// CommerceConfig configures the commerce backend gateway.
type CommerceConfig struct {
	BaseURL        string `yaml:"base_url" envconfig:"COMMERCE_BASE_URL"`
	ClientID       string `yaml:"client_id" envconfig:"COMMERCE_CLIENT_ID"`
	ClientSecret   string `yaml:"client_secret" envconfig:"COMMERCE_CLIENT_SECRET"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"COMMERCE_TIMEOUT_SECONDS"`
	// Currency selects the price column shown to users.
	Currency     string `yaml:"currency" envconfig:"COMMERCE_CURRENCY"`
	MainCategory string `yaml:"main_category" envconfig:"COMMERCE_MAIN_CATEGORY"`
	// HiddenCategories are never offered as category buttons.
	HiddenCategories []string `yaml:"hidden_categories" envconfig:"COMMERCE_HIDDEN_CATEGORIES"`
	PizzeriaFlow     string   `yaml:"pizzeria_flow" envconfig:"COMMERCE_PIZZERIA_FLOW"`
	AddressFlow      string   `yaml:"address_flow" envconfig:"COMMERCE_ADDRESS_FLOW"`
}

// GeocoderConfig configures the address geocoder.
type GeocoderConfig struct {
	APIKey  string `yaml:"api_key" envconfig:"YANDEX_GEOCODER_KEY"`
	BaseURL string `yaml:"base_url" envconfig:"GEOCODER_BASE_URL"`
}

// PaymentConfig configures invoices issued through the Telegram payment provider.
type PaymentConfig struct {
	ProviderToken  string `yaml:"provider_token" envconfig:"PAYMENT_PROVIDER_TOKEN"`
	PayloadWord    string `yaml:"payload_word" envconfig:"PAYMENT_PAYLOAD_WORD"`
	Currency       string `yaml:"currency" envconfig:"PAYMENT_CURRENCY"`
	Title          string `yaml:"title"`
	Description    string `yaml:"description"`
	StartParameter string `yaml:"start_parameter"`
	// PriceLabel names the single invoice line.
	PriceLabel string `yaml:"price_label"`
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	Backend    string `yaml:"backend" envconfig:"SESSION_BACKEND"`
	RedisURL   string `yaml:"redis_url" envconfig:"REDIS_URL"`
	SQLitePath string `yaml:"sqlite_path" envconfig:"SESSION_SQLITE_PATH"`
}

// DatabaseConfig holds Postgres connection settings used by the postgres session backend.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// AssetsConfig lists image URLs used by the menu carousel.
type AssetsConfig struct {
	MenuImageURL       string `yaml:"menu_image_url" envconfig:"MENU_IMAGE_URL"`
	CategoriesImageURL string `yaml:"categories_image_url" envconfig:"CATEGORIES_IMAGE_URL"`
}

// FrontPolicy describes how one chat front drives the conversation.
type FrontPolicy struct {
	// StartNext is the state entered after the top-level menu is shown.
	StartNext string `yaml:"start_next"`
	// Checkout is either "email" or "delivery".
	Checkout string `yaml:"checkout"`
	// UnknownSession is either "start" or "reject".
	UnknownSession string `yaml:"unknown_session"`
	// CarouselCap limits catalog cards per menu page; 0 disables the cap.
	// It is resolved by Normalize from CarouselCapSetting.
	CarouselCap int `yaml:"-"`
	// CarouselCapSetting is the raw carousel_cap key; nil means the front default.
	CarouselCapSetting *int   `yaml:"carousel_cap"`
	Layout             string `yaml:"layout"`
}

// ConversationConfig keeps a policy per front.
type ConversationConfig struct {
	Telegram  FrontPolicy `yaml:"telegram"`
	Messenger FrontPolicy `yaml:"messenger"`
}

// EventsConfig configures the order events publisher; empty URL disables it.
type EventsConfig struct {
	AMQPURL    string `yaml:"amqp_url" envconfig:"AMQP_URL"`
	Exchange   string `yaml:"exchange" envconfig:"AMQP_EXCHANGE"`
	RoutingKey string `yaml:"routing_key" envconfig:"AMQP_ROUTING_KEY"`
}

// ReminderConfig configures the post-delivery reminder.
type ReminderConfig struct {
	DelaySeconds int `yaml:"delay_seconds" envconfig:"REMINDER_DELAY_SECONDS"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// Front names used for session keys and logs.
const (
	FrontTelegram  = "telegram"
	FrontMessenger = "facebook"
)

// Session backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Checkout flows and unknown-session policies.
const (
	CheckoutEmail    = "email"
	CheckoutDelivery = "delivery"

	UnknownStart  = "start"
	UnknownReject = "reject"

	LayoutKeyboard = "keyboard"
	LayoutCarousel = "carousel"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": text and location messages
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the whole bot configuration.
type Config struct {
	Telegram     TelegramConfig     `yaml:"telegram"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Logging      LoggingConfig      `yaml:"logging"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Messenger    MessengerConfig    `yaml:"messenger"`
	Commerce     CommerceConfig     `yaml:"commerce"`
	Geocoder     GeocoderConfig     `yaml:"geocoder"`
	Payment      PaymentConfig      `yaml:"payment"`
	Session      SessionConfig      `yaml:"session"`
	Database     DatabaseConfig     `yaml:"database"`
	Assets       AssetsConfig       `yaml:"assets"`
	Conversation ConversationConfig `yaml:"conversation"`
	Events       EventsConfig       `yaml:"events"`
	Reminder     ReminderConfig     `yaml:"reminder"`
}

// Load reads configuration from a YAML file and environment variables.
// A missing file is tolerated so that environment-only deployments work.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs validation shared by every process and fills defaults.
// Front-specific requirements are checked by RequireFront.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook, RunModeLongpoll:
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	if cfg.Telegram.LongPollTimeoutSeconds < 0 {
		return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
	}

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	if strings.TrimSpace(cfg.Commerce.ClientID) == "" || strings.TrimSpace(cfg.Commerce.ClientSecret) == "" {
		return fmt.Errorf("commerce.client_id and commerce.client_secret are required")
	}
	setDefault(&cfg.Commerce.BaseURL, "https://api.moltin.com")
	setDefault(&cfg.Commerce.Currency, "RUB")
	setDefault(&cfg.Commerce.PizzeriaFlow, "Pizzeria")
	setDefault(&cfg.Commerce.AddressFlow, "customer_address")
	if cfg.Commerce.TimeoutSeconds <= 0 {
		cfg.Commerce.TimeoutSeconds = 15
	}
	setDefault(&cfg.Geocoder.BaseURL, "https://geocode-maps.yandex.ru/1.x")
	setDefault(&cfg.Messenger.GraphURL, "https://graph.facebook.com/v2.6")
	setDefault(&cfg.Messenger.Listen, ":5000")

	setDefault(&cfg.Payment.Currency, "RUB")
	setDefault(&cfg.Payment.Title, "Pizzeria")
	setDefault(&cfg.Payment.Description, "Payment for pizza")
	setDefault(&cfg.Payment.StartParameter, "test-payment")
	setDefault(&cfg.Payment.PriceLabel, "Pizza")

	if cfg.Reminder.DelaySeconds <= 0 {
		cfg.Reminder.DelaySeconds = 3600
	}
	setDefault(&cfg.Events.Exchange, "pizzabot.orders")
	setDefault(&cfg.Events.RoutingKey, "order.placed")

	backend := strings.ToLower(strings.TrimSpace(cfg.Session.Backend))
	if backend == "" {
		backend = BackendRedis
	}
	switch backend {
	case BackendRedis:
		if strings.TrimSpace(cfg.Session.RedisURL) == "" {
			return fmt.Errorf("session.redis_url is required for the redis backend")
		}
	case BackendSQLite:
		setDefault(&cfg.Session.SQLitePath, "data/sessions.db")
	case BackendPostgres:
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required for the postgres backend")
		}
		setDefault(&cfg.Database.Port, "5432")
		setDefault(&cfg.Database.SSLMode, "disable")
		setDefault(&cfg.Database.MigrationsDir, "migrations")
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 5
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid session.backend %q; allowed: redis, postgres, sqlite, memory", cfg.Session.Backend)
	}
	cfg.Session.Backend = backend

	if err := normalizePolicy(&cfg.Conversation.Telegram, FrontPolicy{
		StartNext:      "HANDLE_DESCRIPTION",
		Checkout:       CheckoutDelivery,
		UnknownSession: UnknownReject,
		Layout:         LayoutKeyboard,
	}); err != nil {
		return fmt.Errorf("conversation.telegram: %w", err)
	}
	if err := normalizePolicy(&cfg.Conversation.Messenger, FrontPolicy{
		StartNext:      "HANDLE_MENU",
		Checkout:       CheckoutEmail,
		UnknownSession: UnknownStart,
		CarouselCap:    5,
		Layout:         LayoutCarousel,
	}); err != nil {
		return fmt.Errorf("conversation.messenger: %w", err)
	}
	if cfg.Conversation.Messenger.Checkout == CheckoutDelivery {
		return fmt.Errorf("conversation.messenger: delivery checkout needs invoices and locations, which messenger does not support")
	}
	if cfg.Conversation.Telegram.Layout == LayoutCarousel || cfg.Conversation.Messenger.Layout == LayoutKeyboard {
		return fmt.Errorf("conversation layout: telegram renders keyboards, messenger renders carousels")
	}
	return nil
}

// RequireFront checks the settings that only the given front needs.
func RequireFront(cfg *Config, front string) error {
	switch front {
	case FrontTelegram:
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram token is required")
		}
		if cfg.Telegram.RunMode == RunModeWebhook {
			if strings.TrimSpace(cfg.Webhook.URL) == "" {
				return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
			}
			if strings.TrimSpace(cfg.Webhook.Listen) == "" {
				return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
			}
			if cfg.Webhook.Port <= 0 {
				return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
			}
		}
		if cfg.Conversation.Telegram.Checkout == CheckoutDelivery {
			if strings.TrimSpace(cfg.Geocoder.APIKey) == "" {
				return fmt.Errorf("geocoder.api_key is required for delivery checkout")
			}
			if strings.TrimSpace(cfg.Payment.ProviderToken) == "" || strings.TrimSpace(cfg.Payment.PayloadWord) == "" {
				return fmt.Errorf("payment.provider_token and payment.payload_word are required for delivery checkout")
			}
		}
	case FrontMessenger:
		if strings.TrimSpace(cfg.Messenger.PageToken) == "" {
			return fmt.Errorf("messenger.page_token is required")
		}
		if strings.TrimSpace(cfg.Messenger.VerifyToken) == "" {
			return fmt.Errorf("messenger.verify_token is required")
		}
	default:
		return fmt.Errorf("unknown front %q", front)
	}
	return nil
}

// Policy returns the conversation policy of the given front.
func (c *Config) Policy(front string) FrontPolicy {
	if front == FrontMessenger {
		return c.Conversation.Messenger
	}
	return c.Conversation.Telegram
}

func normalizePolicy(p *FrontPolicy, def FrontPolicy) error {
	p.StartNext = strings.ToUpper(strings.TrimSpace(p.StartNext))
	setDefault(&p.StartNext, def.StartNext)
	if p.StartNext != "HANDLE_DESCRIPTION" && p.StartNext != "HANDLE_MENU" {
		return fmt.Errorf("invalid start_next %q; allowed: HANDLE_DESCRIPTION, HANDLE_MENU", p.StartNext)
	}

	p.Checkout = strings.ToLower(strings.TrimSpace(p.Checkout))
	setDefault(&p.Checkout, def.Checkout)
	if p.Checkout != CheckoutEmail && p.Checkout != CheckoutDelivery {
		return fmt.Errorf("invalid checkout %q; allowed: email, delivery", p.Checkout)
	}

	p.UnknownSession = strings.ToLower(strings.TrimSpace(p.UnknownSession))
	setDefault(&p.UnknownSession, def.UnknownSession)
	if p.UnknownSession != UnknownStart && p.UnknownSession != UnknownReject {
		return fmt.Errorf("invalid unknown_session %q; allowed: start, reject", p.UnknownSession)
	}

	p.Layout = strings.ToLower(strings.TrimSpace(p.Layout))
	setDefault(&p.Layout, def.Layout)

	switch {
	case p.CarouselCapSetting != nil:
		p.CarouselCap = *p.CarouselCapSetting
	case p.CarouselCap == 0:
		p.CarouselCap = def.CarouselCap
	}
	if p.CarouselCap < 0 {
		return fmt.Errorf("carousel_cap must be >= 0")
	}
	return nil
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}
