// Command catalogctl seeds the commerce backend: the pizzeria flow, pizzeria
// entries and menu products.
//
//	catalogctl flow      [-name Pizzeria]
//	catalogctl pizzerias -file addresses.json [-flow Pizzeria]
//	catalogctl menu      -file menu.json
//	catalogctl categories
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/netutil"
	"github.com/m3rciful/pizzabot/shop/catalog"
	"github.com/m3rciful/pizzabot/shop/commerce"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return errors.New("usage: catalogctl <flow|pizzerias|menu|categories> [flags]")
}

func run(args []string) error {
	if len(args) == 0 {
		return usage()
	}
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.InitLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = logger.Shutdown() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := commerce.New(commerce.Config{
		BaseURL:      cfg.Commerce.BaseURL,
		ClientID:     cfg.Commerce.ClientID,
		ClientSecret: cfg.Commerce.ClientSecret,
		Currency:     cfg.Commerce.Currency,
		HTTPClient:   netutil.NewHTTPClient(netutil.ClientOptions{Timeout: 60 * time.Second}),
	})

	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	switch cmd {
	case "flow":
		name := fs.String("name", cfg.Commerce.PizzeriaFlow, "flow name")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		id, err := catalog.CreatePizzeriaFlow(ctx, client, *name)
		if err != nil {
			return fmt.Errorf("create flow: %w", err)
		}
		fmt.Println(id)
		return nil

	case "pizzerias":
		file := fs.String("file", "addresses.json", "pizzeria addresses JSON")
		flow := fs.String("flow", cfg.Commerce.PizzeriaFlow, "flow slug")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		items, err := catalog.ParsePizzerias(f)
		if err != nil {
			return err
		}
		return report(catalog.ImportPizzerias(ctx, client, *flow, items))

	case "menu":
		file := fs.String("file", "menu.json", "menu JSON")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		items, err := catalog.ParseMenu(f)
		if err != nil {
			return err
		}
		return report(catalog.ImportMenu(ctx, client, items))

	case "categories":
		cats, err := client.Categories(ctx)
		if err != nil {
			return err
		}
		for _, c := range cats {
			fmt.Printf("%s\t%s\t%s\n", c.ID, c.Slug, c.Name)
		}
		return nil
	}
	return usage()
}

func report(res catalog.Result) error {
	fmt.Printf("created: %d, failed: %d\n", res.Created, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d items failed", res.Failed)
	}
	return nil
}
