package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	coreconfig "github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
)

// App is a front process. Run blocks until ctx is done and calls ready once it serves traffic.
type App interface {
	Run(ctx context.Context, ready func()) error
}

// Options describe how to load configuration, bootstrap the app, and run it.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string
	// EnvFile is loaded into the environment before the config when present.
	EnvFile string
	// Front, when set, is checked with coreconfig.RequireFront.
	Front string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (App, error)

	ShutdownLogger func() error
}

// Run loads configuration, bootstraps the app, and serves until SIGINT or SIGTERM.
func Run(opts Options) error {
	if opts.Bootstrap == nil {
		return fmt.Errorf("cmd: Bootstrap is required")
	}
	loadConfig := opts.LoadConfig
	if loadConfig == nil {
		loadConfig = coreconfig.Load
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("env file %s ignored: %v", envFile, err)
	}

	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := os.Getenv(env)
	if cfgPath == "" {
		cfgPath = opts.DefaultConfigPath
	}
	if cfgPath == "" {
		return fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", env)
	}

	log.Printf("loading config: %s", cfgPath)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}
	if opts.Front != "" {
		if err := coreconfig.RequireFront(cfg, opts.Front); err != nil {
			return fmt.Errorf("cmd: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startedAt := time.Now()
	application, err := opts.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	ready := func() {
		logger.Info(ctx, logger.CompApp, "ready",
			slog.String("front", opts.Front),
			slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
		)
	}

	err = application.Run(ctx, ready)
	logger.Info(context.WithoutCancel(ctx), logger.CompApp, "shutdown",
		slog.String("front", opts.Front),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
