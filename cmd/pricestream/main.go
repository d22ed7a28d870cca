package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"pricestream/internal/adapter/archive"
	"pricestream/internal/adapter/generator"
	"pricestream/internal/adapter/handler"
	"pricestream/internal/adapter/snapshot"
	"pricestream/internal/adapter/transport"
	"pricestream/internal/application/service"
	"pricestream/internal/application/stream"
	"pricestream/internal/application/usecase"
	"pricestream/internal/concurrency/fanin"
	"pricestream/internal/concurrency/worker"
	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
	"pricestream/internal/infrastructure/config"
	"pricestream/internal/infrastructure/logger"
	"pricestream/internal/infrastructure/server"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to config file")
	portFlag   = flag.Int("port", 0, "Port number")
	helpFlag   = flag.Bool("help", false, "Show help")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printUsage()
		os.Exit(0)
	}

	// .env is optional; env vars override file config either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *portFlag != 0 {
		cfg.Server.Port = *portFlag
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting pricestream", "version", "1.0.0", "feeds", len(cfg.Feeds))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	cancelPing()
	defer rdb.Close()

	var quoteArchive port.Archive
	if cfg.Archive.Enabled {
		pg, err := archive.NewPostgresArchive(cfg.PostgresDSN())
		if err != nil {
			log.Error("failed to initialize postgres archive", "error", err)
			os.Exit(1)
		}
		if err := pg.InitSchema(context.Background()); err != nil {
			log.Error("failed to initialize archive schema", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		quoteArchive = pg
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients := make(map[string]*stream.Client)
	var batchChans []chan model.FeedBatch
	var faninInputs []<-chan model.FeedBatch

	for _, f := range cfg.Feeds {
		if !f.Enabled {
			continue
		}

		tr := buildTransport(f, log)
		store := snapshot.NewRedisStoreWithClient(rdb, "pricestream:"+f.Name)

		streamCfg := stream.Config{
			Feed:                 f.Name,
			Enabled:              f.Enabled,
			AssetIDs:             f.AssetIDs,
			ReconnectDelay:       f.ReconnectDelay,
			MaxReconnectAttempts: f.MaxReconnectAttempts,
		}

		if quoteArchive != nil {
			ch := make(chan model.FeedBatch, 64)
			batchChans = append(batchChans, ch)
			faninInputs = append(faninInputs, ch)
			feedName := f.Name
			streamCfg.OnPrices = func(batch []model.PriceQuote) {
				select {
				case ch <- model.FeedBatch{Feed: feedName, Quotes: batch}:
				default:
					log.Warn("archive queue full, dropping batch", "feed", feedName, "quotes", len(batch))
				}
			}
		}

		client := stream.NewClient(streamCfg, tr, store, log)
		clients[f.Name] = client
		client.Start(ctx)
	}

	if len(clients) == 0 {
		log.Error("no feeds enabled")
		os.Exit(1)
	}

	var retention *service.RetentionService
	if quoteArchive != nil {
		merged := fanin.FanIn(faninInputs...)
		pool := worker.NewPool(cfg.Archive.Workers, quoteArchive, log)
		processed := pool.Start(ctx, merged)
		go func() {
			for range processed {
			}
		}()

		retention = service.NewRetentionService(quoteArchive, cfg.Archive.Retention, log)
		retention.Start(ctx, cfg.Archive.PruneInterval)
		defer retention.Stop()

		log.Info("archive pipeline started", "workers", cfg.Archive.Workers, "retention", cfg.Archive.Retention)
	}

	quoteUC := usecase.NewQuoteUseCase(clients, quoteArchive)
	priceHandler := handler.NewPriceHandler(quoteUC, log)
	streamHandler := handler.NewStreamHandler(quoteUC, log)
	healthHandler := handler.NewHealthHandler(snapshot.NewRedisStoreWithClient(rdb, "pricestream"), quoteArchive, quoteUC, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/quotes/latest/", priceHandler.GetLatestQuote)
	mux.HandleFunc("/quotes/snapshot/", priceHandler.GetSnapshot)
	mux.HandleFunc("/quotes/highest/", priceHandler.GetHighestPrice)
	mux.HandleFunc("/quotes/lowest/", priceHandler.GetLowestPrice)
	mux.HandleFunc("/quotes/average/", priceHandler.GetAveragePrice)
	mux.HandleFunc("GET /streams", streamHandler.ListStates)
	mux.HandleFunc("POST /streams/{feed}/reconnect", streamHandler.Reconnect)
	mux.HandleFunc("DELETE /streams/{feed}/cache", streamHandler.ClearCache)
	mux.HandleFunc("PUT /streams/{feed}/subscription", streamHandler.UpdateSubscription)
	mux.HandleFunc("GET /health", healthHandler.Check)

	srv := server.NewServer(cfg.Server.Port, mux, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, log)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down gracefully")

	for _, client := range clients {
		client.Stop()
	}
	cancel()
	for _, ch := range batchChans {
		close(ch)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("shutdown complete")
}

func buildTransport(f config.FeedConfig, log *slog.Logger) port.StreamTransport {
	switch f.Transport {
	case "ws":
		return transport.NewWebSocket(f.Name, f.URL, log)
	case "sim":
		return generator.NewSim(f.Name, f.AssetIDs, f.SimInterval, log)
	default:
		return transport.NewSSE(f.Name, f.URL, log)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  pricestream [--config <path>] [--port <N>]")
	fmt.Println("  pricestream --help")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config PATH  Path to YAML config (default configs/config.yaml)")
	fmt.Println("  --port N       Override HTTP port")
}
