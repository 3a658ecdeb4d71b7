package database

import (
	"fmt"
	"net/url"

	coreconfig "github.com/m3rciful/pizzabot/core/config"
)

// DSN renders libpq keyword/value connection settings.
func DSN(cfg coreconfig.DatabaseConfig) string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
	)
}

// URL renders the postgres:// form expected by the migration driver.
func URL(cfg coreconfig.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.SSLMode),
	}
	return u.String()
}
