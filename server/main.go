package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/openkokkai/billtracker/cache"
	"github.com/openkokkai/billtracker/fetcher"
	"github.com/openkokkai/billtracker/middleware"
	"github.com/openkokkai/billtracker/monitor"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/taskqueue"
)

const queueWorkers = 4

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()

	var st store.Store
	if strings.HasPrefix(cfg.RecordStoreURL, "postgres://") ||
		strings.HasPrefix(cfg.RecordStoreURL, "postgresql://") {
		pg, err := store.NewPostgresStore(ctx, cfg.RecordStoreURL)
		if err != nil {
			log.Fatalf("connect record store: %v", err)
		}
		log.Printf("using postgres record store")
		st = pg
	} else {
		log.Printf("RECORD_STORE_URL not set, using in-memory record store")
		st = store.NewMemoryStore()
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.CacheURL)})
	redisCache := cache.New(rdb)

	queue := taskqueue.New(queueWorkers)
	queue.Start()
	defer queue.Stop()
	go queue.RunJanitor(ctx, time.Hour, 24*time.Hour)

	members := cache.NewMemberCache(redisCache, st, queue)

	dedup, err := fetcher.NewContentCache(cfg.FetchCacheDir, 24*time.Hour)
	if err != nil {
		log.Fatalf("open fetch cache: %v", err)
	}
	ingestor := NewIngestor(fetcher.New(fetcher.DefaultConfig(), dedup))
	pipeline := NewPipeline(st, ingestor, cfg.ReportsDir)

	health := monitor.NewHealthChecker()
	health.Register("store", func(ctx context.Context) error {
		_, err := st.ListBills(ctx, nil, 1)
		return err
	}, 5*time.Second)
	health.Register("cache", redisCache.Ping, 5*time.Second)

	agg := buildAggregator(st, queue, members, health, pipeline)

	notifiers := []monitor.Notifier{monitor.LogNotifier{}}
	if cfg.SMTPServer != "" && len(cfg.AlertEmails) > 0 {
		notifiers = append(notifiers, monitor.EmailNotifier{
			Host:     cfg.SMTPServer,
			Port:     cfg.SMTPPort,
			From:     cfg.FromEmail,
			To:       cfg.AlertEmails,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		})
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, monitor.WebhookNotifier{URL: cfg.WebhookURL})
	}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, monitor.SlackNotifier{WebhookURL: cfg.SlackWebhookURL})
	}

	engine := monitor.NewEngine(agg.Snapshot, notifiers...)
	for _, rule := range defaultAlertRules() {
		engine.AddRule(rule)
	}

	// Short intervals outside production so problems surface fast during
	// certification runs.
	if !cfg.ProductionMode {
		engine.Interval = 30 * time.Second
		health.Interval = 15 * time.Second
	}
	log.Printf("evaluation interval %s (PRODUCTION_MODE=%t)", engine.Interval, cfg.ProductionMode)

	var stance StanceProvider
	if cfg.MockAnalytics {
		log.Printf("MOCK_ANALYTICS enabled, serving deterministic stance data")
		stance = newMockStanceProvider(st)
	}

	api := NewAPI(cfg, st, members, queue, engine, health, agg, stance, pipeline)

	go engine.Run(ctx)
	go health.Run(ctx)
	go api.wsHub.Run(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: middleware.CORS(cfg.AllowedHosts)(api.routes(promhttp.Handler())),
	}

	go func() {
		log.Printf("bill tracker listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
