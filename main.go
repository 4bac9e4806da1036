package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"chatrelay/internal/config"
	"chatrelay/internal/http/http_server"
	"chatrelay/internal/redis/redis_client"
	"chatrelay/internal/store"
	"chatrelay/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Open the history store
	st, err := openStore(cfg)
	if err != nil {
		Log.Fatal("Failed to open store", zap.Error(err))
	}
	defer st.Close()

	if err := store.EnsureDefaultRoom(ctx, st, cfg.DefaultRoom); err != nil {
		Log.Fatal("Failed to seed default room", zap.Error(err))
	}

	// 4. WebSockets hub
	hub := ws.NewHub()

	// 5. Optional redis fan-out between relay instances
	var fanout *ws.Fanout
	if cfg.RedisFanout {
		redisClient, err := redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
		if err != nil {
			Log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		fanout = ws.NewFanout(ctx, redisClient, hub)
		Log.Debug("Redis fan-out enabled")
	}

	// 6. Initialize the WS server
	wsSrv := ws.NewWsServer(hub, st, fanout, cfg.HistoryLimit)

	// 7. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, st)
	go func() {
		<-ctx.Done()
		_ = httpServer.Dispose()
	}()
	if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "buntdb":
		return store.NewBuntStore(cfg.BuntDBPath)
	case "postgres":
		return store.OpenPostgres(cfg.PostgresHost, cfg.PostgresPort,
			cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	default:
		return store.NewMemoryStore(), nil
	}
}
