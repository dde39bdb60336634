package cmd

import (
	"context"
	"fmt"
	"log"
	"net/url"

	"golang.org/x/time/rate"

	"kufar_watch/httputil"
	"kufar_watch/identity"
	"kufar_watch/notify"
	"kufar_watch/risk"
	"kufar_watch/scraper"
	"kufar_watch/services"
	"kufar_watch/storage"
)

// app holds the wired pipeline for one command invocation.
type app struct {
	store         storage.Store
	orchestrator  *scraper.Orchestrator
	subscriptions *services.SubscriptionService
	sender        *notify.Sender
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Printf("[warn] close store: %v", err)
	}
}

// openStore picks Postgres when a connection string is configured and
// SQLite otherwise.
func openStore(ctx context.Context) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
		return pg, nil
	}

	sqlite, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	log.Printf("SQLite database: %s", cfg.DBPath)
	return sqlite, nil
}

// buildApp wires transport, extraction, storage and dispatch from cfg.
// withDispatch=false swaps the Telegram bot for the log dispatcher.
func buildApp(ctx context.Context, withDispatch bool) (*app, error) {
	clients, err := httputil.NewClients(&cfg.Proxy, cfg.Fetch.Timeout)
	if err != nil {
		return nil, err
	}
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Fetch.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Fetch.RatePerSecond), max(cfg.Fetch.RateBurst, 1))
	}
	fetcher := scraper.NewFetcher(clients.Scraping, identity.NewPool(), scraper.FetcherOptions{
		Delay:   scraper.Jitter{Min: cfg.Fetch.MinDelay, Max: cfg.Fetch.MaxDelay},
		Limiter: limiter,
		Robots:  httputil.NewRobotsChecker(clients.Scraping, cfg.Fetch.RespectRobots),
	})
	extractor := scraper.NewExtractor(risk.NewClassifier(cfg.Phrases))

	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	if withDispatch && cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramDispatcher(cfg.Telegram.Token, clients.API)
		if err != nil {
			store.Close()
			return nil, err
		}
		dispatcher = tg
	} else if withDispatch {
		log.Println("[warn] BOT_TOKEN not set, messages go to the log only")
	}

	batcher := notify.NewBatcher(cfg.Notify.MaxItemsPerMessage, cfg.Notify.Currency)
	sender := notify.NewSender(dispatcher, cfg.Notify.DispatchDelay)

	orch := scraper.NewOrchestrator(store, fetcher, extractor, batcher, sender)
	orch.SetConcurrency(cfg.Scheduler.Concurrency)

	if cfg.Archive.Bucket != "" {
		archive, err := storage.NewPageArchive(ctx, storage.S3Config{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			log.Printf("[warn] page archive disabled: %v", err)
		} else {
			orch.SetArchive(archive)
			log.Printf("Archiving unparseable pages to bucket %s", cfg.Archive.Bucket)
		}
	}

	return &app{
		store:         store,
		orchestrator:  orch,
		subscriptions: services.NewSubscriptionService(store, orch, batcher, cfg.AllowedHosts),
		sender:        sender,
	}, nil
}

// maskConnectionString hides the password part of a URL for logging.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
