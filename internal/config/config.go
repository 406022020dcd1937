// Package config содержит логику чтения конфигурации сервиса витрины.
package config

import (
	"encoding/json"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/storefront-system/internal/model"
)

// Config содержит параметры конфигурации сервиса витрины.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	BaseURL       string `env:"BASE_URL"`
	BotToken      string `env:"BOT_TOKEN"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	GroupsJSON    string `env:"GROUPS_JSON"`
	UniformPrice  int64  `env:"UNIFORM_PRICE"`
	MinAmount     int64  `env:"MIN_AMOUNT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBaseURL := cfg.BaseURL
	envBotToken := cfg.BotToken
	envWebhookSecret := cfg.WebhookSecret
	envGroupsJSON := cfg.GroupsJSON
	envUniformPrice := cfg.UniformPrice
	envMinAmount := cfg.MinAmount

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BaseURL, "b", "", "public base URL of the service")
	flag.StringVar(&cfg.BotToken, "t", "", "telegram bot token for invite delivery")
	flag.StringVar(&cfg.WebhookSecret, "s", "", "payment webhook signature secret")
	flag.StringVar(&cfg.GroupsJSON, "g", "[]", "catalog groups as JSON list")
	flag.Int64Var(&cfg.UniformPrice, "p", 25000, "uniform price per group in minor currency units")
	flag.Int64Var(&cfg.MinAmount, "m", 1, "minimal invoice amount in minor currency units")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBaseURL != "" {
		cfg.BaseURL = envBaseURL
	}
	if envBotToken != "" {
		cfg.BotToken = envBotToken
	}
	if envWebhookSecret != "" {
		cfg.WebhookSecret = envWebhookSecret
	}
	if envGroupsJSON != "" {
		cfg.GroupsJSON = envGroupsJSON
	}
	if envUniformPrice != 0 {
		cfg.UniformPrice = envUniformPrice
	}
	if envMinAmount != 0 {
		cfg.MinAmount = envMinAmount
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.UniformPrice <= 0 {
		cfg.UniformPrice = 25000
	}
	if cfg.MinAmount <= 0 {
		cfg.MinAmount = 1
	}

	return cfg, nil
}

// Catalog разбирает список групп каталога из GroupsJSON.
func (c *Config) Catalog() ([]model.CatalogItem, error) {
	var items []model.CatalogItem
	if err := json.Unmarshal([]byte(c.GroupsJSON), &items); err != nil {
		return nil, fmt.Errorf("parse groups json: %w", err)
	}
	return items, nil
}
