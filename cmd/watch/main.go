// Package main runs the deployment watcher: mempool discovery, receipt
// verification and liquidity monitoring over one WebSocket connection,
// with PostgreSQL persistence, a change-notification feed and an
// optional ClickHouse archive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deploywatch/internal/domain"
	"deploywatch/internal/ethereum"
	"deploywatch/internal/liquidity"
	"deploywatch/internal/observability"
	"deploywatch/internal/pipeline"
	"deploywatch/internal/settings"
	"deploywatch/internal/storage"
	chstore "deploywatch/internal/storage/clickhouse"
	"deploywatch/internal/storage/memory"
	"deploywatch/internal/storage/migrations"
	pgstore "deploywatch/internal/storage/postgres"
)

// Server holds the wired components of the watcher process.
type Server struct {
	pipe    *pipeline.Pipeline
	stream  *ethereum.WSClient
	feed    storage.ChangeFeed
	ring    *ethereum.TrafficRing
	archive storage.EventArchive
	logger  *log.Logger
	started time.Time
}

type allStores struct {
	candidateStore      storage.CandidateStore
	contractStore       storage.ContractStore
	monitorStore        storage.MonitorStore
	liquidityEventStore storage.LiquidityEventStore
}

func main() {
	loadEnvFile()

	wsEndpoint := flag.String("ws-endpoint", os.Getenv("ETH_WS_ENDPOINT"), "Ethereum WebSocket endpoint")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("ETH_RPC_ENDPOINT"), "Ethereum JSON-RPC HTTP endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the event archive (optional)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")

	monitorMinutes := flag.Int("monitor-minutes", 60, "Liquidity watch window for new monitors, in minutes")
	autoVerify := flag.Bool("auto-verify", true, "Queue detected deployments for verification automatically")
	autoMonitor := flag.Bool("auto-monitor", true, "Start a liquidity monitor for every verified contract")
	queueSize := flag.Int("queue-size", 100, "Verification queue capacity")
	verifyDelay := flag.Duration("verify-delay", 2*time.Second, "Delay between successive verifications")
	checkInterval := flag.Duration("check-interval", 30*time.Second, "Reconciliation sweep interval")

	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lshortfile)

	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required")
	}
	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())

	stores, feed, cleanup, err := createStores(ctx, *postgresDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	var archive storage.EventArchive
	if *clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("Failed to prepare clickhouse: %v", err)
		}
		defer conn.Close()
		archive = chstore.NewArchiveStore(conn)
		logger.Println("ClickHouse archive enabled")
	}

	provider := settings.NewBroadcaster(settings.Settings{
		ActiveMonitorTimeMinutes: *monitorMinutes,
		AutoVerificationEnabled:  *autoVerify,
		AutoMonitorEnabled:       *autoMonitor,
		MaxQueueSize:             *queueSize,
		VerificationDelay:        *verifyDelay,
		PeriodicCheckInterval:    *checkInterval,
	}.Clamp())

	ring := ethereum.NewTrafficRing(256)
	stream := ethereum.NewWSClient(*wsEndpoint, nil, logger, ring)
	rpc := ethereum.NewHTTPClient(*rpcEndpoint, ethereum.WithTrafficRing(ring))

	server := &Server{
		pipe: pipeline.New(pipeline.Options{
			CandidateStore:      stores.candidateStore,
			ContractStore:       stores.contractStore,
			MonitorStore:        stores.monitorStore,
			LiquidityEventStore: stores.liquidityEventStore,
			Archive:             archive,
			Feed:                feed,
			Stream:              stream,
			RPC:                 rpc,
			Settings:            provider,
			Logger:              logger,
		}),
		stream:  stream,
		feed:    feed,
		ring:    ring,
		archive: archive,
		logger:  logger,
		started: time.Now(),
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go server.startHTTPServer(*metricsAddr)
	go server.watchMonitorChanges(ctx)

	err = server.pipe.Run(ctx)
	server.flushTraffic()
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Watcher error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createStores builds the store set and the change feed for the chosen
// backend. PostgreSQL migrations run on boot.
func createStores(ctx context.Context, postgresDSN string, useMemory bool, logger *log.Logger) (*allStores, storage.ChangeFeed, func(), error) {
	if useMemory {
		feed := memory.NewFeed()
		stores := &allStores{
			candidateStore:      memory.NewCandidateStore(feed),
			contractStore:       memory.NewContractStore(feed),
			monitorStore:        memory.NewMonitorStore(feed),
			liquidityEventStore: memory.NewLiquidityEventStore(feed),
		}
		return stores, feed, func() { feed.Close() }, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	feed, err := pgstore.NewChangeFeed(ctx, postgresDSN, logger)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("start change feed: %w", err)
	}

	stores := &allStores{
		candidateStore:      pgstore.NewCandidateStore(pool),
		contractStore:       pgstore.NewContractStore(pool),
		monitorStore:        pgstore.NewMonitorStore(pool),
		liquidityEventStore: pgstore.NewLiquidityEventStore(pool),
	}

	cleanup := func() {
		feed.Close()
		pool.Close()
	}
	return stores, feed, cleanup, nil
}

// watchMonitorChanges reacts to monitor rows deleted outside this process
// by tearing down the corresponding watch. Delivery is best-effort; the
// periodic sweep covers anything missed here.
func (s *Server) watchMonitorChanges(ctx context.Context) {
	ch, cancel, err := s.feed.Subscribe(ctx, "liquidity_monitors")
	if err != nil {
		s.logger.Printf("Change feed subscribe failed: %v", err)
		return
	}
	defer cancel()

	for ev := range ch {
		if ev.Type != storage.ChangeDelete {
			continue
		}
		if !s.pipe.Manager().Watching(ev.Key) {
			continue
		}
		s.logger.Printf("Monitor %s deleted externally, tearing down watch", ev.Key)
		if err := s.pipe.Manager().Delete(ctx, ev.Key); err != nil {
			s.logger.Printf("Teardown after external delete of %s: %v", ev.Key, err)
		}
	}
}

// flushTraffic archives the captured RPC traffic on shutdown for
// post-mortem inspection.
func (s *Server) flushTraffic() {
	if s.archive == nil {
		return
	}
	samples := s.ring.Snapshot()
	if len(samples) == 0 {
		return
	}
	records := make([]storage.TrafficRecord, 0, len(samples))
	for _, sample := range samples {
		records = append(records, storage.TrafficRecord{
			Direction:  string(sample.Direction),
			Method:     sample.Method,
			Payload:    string(sample.Payload),
			CapturedAt: sample.CapturedAt.UnixMilli(),
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.archive.ArchiveTraffic(ctx, records); err != nil {
		s.logger.Printf("Archive traffic snapshot: %v", err)
		return
	}
	s.logger.Printf("Archived %d traffic frames", len(records))
}

// startHTTPServer serves health, metrics and status endpoints.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status           string                         `json:"status"`
	Uptime           string                         `json:"uptime"`
	StreamConnected  bool                           `json:"stream_connected"`
	StreamReconnects uint64                         `json:"stream_reconnects"`
	FeedState        storage.FeedState              `json:"feed_state"`
	ActiveMonitors   int                            `json:"active_monitors"`
	QueueDepth       int                            `json:"queue_depth"`
	InProgress       int                            `json:"in_progress"`
	CandidateCounts  map[domain.CandidateStatus]int `json:"candidate_counts"`
	UniswapFactory   string                         `json:"uniswap_factory"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:           "running",
		Uptime:           time.Since(s.started).String(),
		StreamConnected:  s.stream.Connected(),
		StreamReconnects: s.stream.Reconnects(),
		FeedState:        s.feed.State(),
		ActiveMonitors:   s.pipe.Manager().ActiveCount(),
		UniswapFactory:   liquidity.UniswapV2Factory,
	}

	stats, err := s.pipe.Engine().CollectStats(r.Context())
	if err == nil {
		resp.QueueDepth = stats.QueueDepth
		resp.InProgress = stats.InProgress
		resp.CandidateCounts = stats.Counts
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
