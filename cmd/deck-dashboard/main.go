package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"agentdeck.local/projects/deck-dashboard/internal/archive"
	"agentdeck.local/projects/deck-dashboard/internal/config"
	"agentdeck.local/projects/deck-dashboard/internal/dashboard"
	"agentdeck.local/projects/deck-dashboard/internal/subscribers"
	"agentdeck.local/projects/deck-dashboard/internal/subscribers/discord"
	"agentdeck.local/projects/deck-dashboard/internal/subscribers/logging"
	"agentdeck.local/projects/deck-dashboard/internal/subscribers/webhook"
	"agentdeck.local/projects/deck-dashboard/internal/tui"
)

func main() {
	logger := log.New(os.Stderr, "deck ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	subs := []subscribers.Subscriber{logging.New(logger)}
	for idx, webhookURL := range cfg.WebhookURLs {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL, logger))
	}
	if cfg.ArchiveEnabled() {
		store, err := archive.NewGormStore(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			logger.Fatalf("failed to initialize event archive: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Printf("archive close error: %v", err)
			}
		}()
		subs = append(subs, archive.NewSubscriber(store))
	}
	if cfg.DiscordEnabled() {
		sender, err := discord.NewDiscordSender(cfg.DiscordBotToken)
		if err != nil {
			logger.Fatalf("failed to initialize discord sender: %v", err)
		}
		subs = append(subs, discord.New(cfg.DiscordChannelID, sender, logger))
	}

	client, err := dashboard.New(dashboard.Config{
		Endpoint:             cfg.Endpoint,
		APIKey:               cfg.APIKey,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}, logger, subs...)
	if err != nil {
		logger.Fatalf("failed to initialize dashboard client: %v", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Printf("starting dashboard endpoint=%s sinks=%d", cfg.Endpoint, len(subs))
	if err := tui.Run(ctx, client); err != nil {
		logger.Fatalf("dashboard exited with error: %v", err)
	}
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		host := strings.TrimSpace(parsed.Host)
		if host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}
