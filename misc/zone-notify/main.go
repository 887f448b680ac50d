package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"storefront-delivery/internal/config"
	"storefront-delivery/internal/database"
	"storefront-delivery/internal/modules/zones"

	"github.com/nats-io/nats.go"
)

func main() {
	// Check if a merchant id was provided as a command-line argument.
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run main.go <merchant-id>")
	}
	merchantID := os.Args[1]

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()
	repo := zones.NewRepository(pool)

	// Postgres listeners reload on their own; NATS subscribers need the full
	// snapshot.
	if cfg.ZoneSource != "nats" {
		if err := repo.NotifyZoneChange(ctx, merchantID); err != nil {
			log.Fatalf("Failed to notify: %v", err)
		}
		fmt.Printf("notified %s on %s\n", merchantID, zones.ZoneChangeChannel)
		return
	}

	table, err := repo.LoadZones(ctx, merchantID)
	if err != nil {
		log.Fatalf("Failed to load zones: %v", err)
	}
	for _, w := range zones.Warnings(table) {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("zone-notify"))
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()
	if err := zones.PublishSnapshot(nc, table); err != nil {
		log.Fatalf("Failed to publish: %v", err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		log.Fatalf("Failed to flush: %v", err)
	}
	fmt.Printf("published %d zones (version %d) on %s\n", table.Len(), table.Version(), zones.Subject(merchantID))
}
