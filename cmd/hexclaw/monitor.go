package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hexclaw/hexclaw/pkg/cache"
	"github.com/hexclaw/hexclaw/pkg/channel"
	"github.com/hexclaw/hexclaw/pkg/config"
	"github.com/hexclaw/hexclaw/pkg/monitor"
	"github.com/hexclaw/hexclaw/pkg/router"
	"github.com/hexclaw/hexclaw/pkg/storage"
)

// runMonitor assembles just the monitor's dependencies, without the queue
// or dispatcher, and runs it until signalled (or once).
func runMonitor(cfg *config.Config, once, dryRun, testAlert bool) error {
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	kv, err := storage.OpenBoltKV(cfg.LocalKVPath())
	if err != nil {
		return fmt.Errorf("open local kv: %w", err)
	}
	defer kv.Close()

	var seen storage.SeenStore = kv
	if cfg.Cache.RedisURL != "" {
		if rs, err := storage.NewRedisSeen(cfg.Cache.RedisURL); err == nil {
			seen = rs
			defer rs.Close()
		}
	}

	var transport channel.Transport
	if cfg.Telegram.BotToken != "" && !dryRun {
		tg, err := channel.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		transport = tg
	}

	r := router.New(router.Options{
		AnthropicKey:  cfg.Models.AnthropicKey,
		OpenAIKey:     cfg.Models.OpenAIKey,
		OpenRouterKey: cfg.Models.OpenRouterKey,
		TierFree:      cfg.Models.TierFree,
		Cache: cache.New(cache.Options{
			RedisURL:    cfg.Cache.RedisURL,
			Embedder:    cache.NewTrigramEmbedder(),
			ExactTTL:    time.Duration(cfg.Cache.ExactTTLSec) * time.Second,
			SemanticTTL: time.Duration(cfg.Cache.SemanticTTLSec) * time.Second,
			Threshold:   cfg.Cache.SemanticThreshold,
			MaxEntries:  cfg.Cache.SemanticMax,
		}),
	})

	m := monitor.New(monitor.Options{
		Feeds:       cfg.Monitor.Feeds,
		MinSeverity: cfg.Monitor.MinSeverity,
		Interval:    time.Duration(cfg.Monitor.IntervalSec) * time.Second,
		Seen:        seen,
		FeedState:   kv,
		Notifier:    channel.NewNotifier(transport),
		Router:      r,
		ShodanKey:   cfg.Monitor.ShodanKey,
		WatchHosts:  cfg.Monitor.WatchHosts,
		DryRun:      dryRun,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if testAlert {
		m.TestAlert(ctx)
	}
	if once {
		stats := m.RunOnce(ctx)
		fmt.Printf("fetched=%d delivered=%d deduped=%d gated=%d\n",
			stats.Fetched, stats.Delivered, stats.Deduped, stats.Gated)
		return nil
	}

	m.Start(ctx)
	<-ctx.Done()
	m.Stop()
	return nil
}
