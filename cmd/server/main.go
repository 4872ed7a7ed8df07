// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/checkers/internal/auth"
	"github.com/jason-s-yu/checkers/internal/cache"
	"github.com/jason-s-yu/checkers/internal/config"
	"github.com/jason-s-yu/checkers/internal/database"
	"github.com/jason-s-yu/checkers/internal/game"
	"github.com/jason-s-yu/checkers/internal/handlers"
	"github.com/jason-s-yu/checkers/internal/ratelimit"
	"github.com/jason-s-yu/checkers/internal/room"
	_ "github.com/joho/godotenv/autoload"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func setupIssuer(cfg *config.Config, clock clockwork.Clock) (*auth.Issuer, error) {
	ttl, err := auth.ParseTokenTTL(cfg.Auth.TokenExpireTime)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.PrivateKeyPath == "" {
		return auth.NewIssuer(ttl, clock)
	}
	return auth.LoadIssuer(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath, ttl, clock)
}

type repositories struct {
	games game.Repository
	users handlers.UserStore
	chat  handlers.ChatStore
	close func()
}

// setupRepositories connects to Postgres, or falls back to process memory
// when no database is configured.
func setupRepositories(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repositories, error) {
	connString := cfg.Database.ConnString()
	if connString == "" {
		logger.Warn("no database configured, games and accounts are kept in memory only")
		mem := database.NewMemory()
		return repositories{games: mem, users: mem, chat: mem, close: func() {}}, nil
	}

	pool, err := database.Connect(ctx, connString, logger)
	if err != nil {
		return repositories{}, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return repositories{}, err
	}
	return repositories{
		games: database.NewGameRepository(pool),
		users: database.NewUserRepository(pool),
		chat:  database.NewChatRepository(pool),
		close: pool.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	issuer, err := setupIssuer(cfg, clock)
	if err != nil {
		logger.Fatalf("failed to set up session tokens: %v", err)
	}

	repos, err := setupRepositories(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to set up storage: %v", err)
	}
	defer repos.close()

	storeOpts := []game.Option{game.WithClock(clock), game.WithLogger(logger)}
	roomOpts := []room.Option{room.WithLogger(logger)}
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer rdb.Close()

		mirror := cache.NewPresenceMirror(rdb, cfg.Redis.PresenceKey)
		if err := mirror.Clear(ctx); err != nil {
			logger.WithError(err).Warn("failed to clear stale presence")
		}
		roomOpts = append(roomOpts, room.WithPresenceSink(mirror))
		storeOpts = append(storeOpts, game.WithActionPublisher(cache.NewActionLog(rdb, cfg.Redis.ActionQueue)))
		logger.WithField("addr", cfg.Redis.Addr).Info("connected to redis")
	}

	rooms := room.NewRegistry(roomOpts...)
	storeOpts = append(storeOpts, game.WithCommitListener(rooms.PublishState))
	store := game.NewStore(repos.games, storeOpts...)
	n, err := store.Restore(ctx)
	if err != nil {
		logger.Fatalf("failed to restore games: %v", err)
	}
	logger.Infof("restored %d unfinished games", n)

	gs := &handlers.GameServer{
		Store:   store,
		Rooms:   rooms,
		Limiter: ratelimit.PerMinute(clock, cfg.Gateway.MaxMessagesPerMinute),
		Issuer:  issuer,
		Users:   repos.users,
		Chat:    repos.chat,

		Gateway:        cfg.Gateway,
		ChatMaxLength:  cfg.ChatMaxLength,
		PasswordParams: auth.DefaultParams,

		Clock:  clock,
		Logger: logger,
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           gs.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("shutdown signal received, cleaning up...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("server shutdown error")
		}
	}()

	logger.Infof("Running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
	<-done
}
