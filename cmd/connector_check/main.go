// Package main runs one platform connector against a credential file and
// prints what it would store and how the prompt section would read.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/funnel-metrics/internal/config"
	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/service"
	"github.com/funnel-metrics/internal/types"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: connector_check <platform> <credential.json>")
		fmt.Println("Platforms: email_marketing, storefront, web_analytics, paid_ads")
		os.Exit(2)
	}

	platform, ok := types.ParsePlatform(os.Args[1])
	if !ok {
		fmt.Printf("Error: unknown platform %q\n", os.Args[1])
		os.Exit(2)
	}

	raw, err := os.ReadFile(os.Args[2])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	cred, err := types.DecodeCredential(platform, raw)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.FormatText)

	registry := service.NewRegistry(service.NewConnectors(cfg.Connectors))
	aggregator := service.NewAggregator(registry, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	fmt.Printf("Fetching %s metrics...\n\n", platform.DisplayName())

	start := time.Now()
	m, err := aggregator.ConnectAndTest(ctx, cred)
	if err != nil {
		fmt.Printf("Error: %v\n", errors.NewPlatformOperationError(platform, "connect", err))
		os.Exit(1)
	}

	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fmt.Printf("Error encoding metrics: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("=== Normalized metrics (%v) ===\n", time.Since(start).Round(time.Millisecond))
	fmt.Println(string(out))

	stored := &types.StoredMetrics{}
	stored.Set(m)

	fmt.Printf("\n=== Card preview ===\n")
	creds := &types.StoredCredentials{}
	creds.Set(cred)
	for _, item := range registry.BuildStatuses(creds, stored)[platform].Preview {
		fmt.Printf("%-20s %s\n", item.Label+":", item.Value)
	}

	fmt.Printf("\n=== Prompt section ===\n")
	fmt.Print(registry.Summarize(stored))
}
