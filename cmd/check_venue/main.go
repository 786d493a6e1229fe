package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vitos/token_snipe_bot/internal/infrastructure/venue"
)

type Config struct {
	Venue struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"venue"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	_ = godotenv.Load()

	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Println("Usage: check_venue <mint>")
		os.Exit(1)
	}
	mint := os.Args[1]

	fmt.Printf("Testing venue interaction...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Venue.RESTEndpoint)

	adapter := venue.NewDexAdapter(
		os.Getenv("VENUE_API_KEY"),
		os.Getenv("WALLET_ADDRESS"),
		cfg.Venue.RESTEndpoint,
		cfg.Venue.WSEndpoint,
	)
	ctx := context.Background()

	// 2. Quote
	price, err := adapter.GetPrice(ctx, mint)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
	} else if price == 0 {
		fmt.Printf("⚠️  No price for %s\n", mint)
	} else {
		fmt.Printf("✅ Current Price (%s): %.12f\n", mint, price)
	}

	// 3. Readiness
	if adapter.IsReady(ctx, mint) {
		fmt.Printf("✅ Route exists, token is tradable\n")
	} else {
		fmt.Printf("⚠️  No route, token not tradable yet\n")
	}

	// 4. Wallet balance (requires WALLET_ADDRESS)
	if os.Getenv("WALLET_ADDRESS") != "" {
		balance, err := adapter.GetBalance(ctx)
		if err != nil {
			fmt.Printf("❌ Failed to get balance: %v\n", err)
		} else {
			fmt.Printf("✅ Wallet balance: %s\n", balance)
		}
	}
}
