// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mailpilot/internal/automation"
	"github.com/xkilldash9x/mailpilot/internal/config"
	"github.com/xkilldash9x/mailpilot/internal/conversation"
	"github.com/xkilldash9x/mailpilot/internal/history"
	"github.com/xkilldash9x/mailpilot/internal/llmclient"
)

// Test seams.
var (
	newGenerationClient = defaultGenerationClient
	newSender           = defaultSender
)

// defaultGenerationClient returns nil when no client can be built; the
// drafter then falls back to template letters.
func defaultGenerationClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) llmclient.Client {
	client, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Generation client unavailable, drafts will use the template letter.", zap.Error(err))
		return nil
	}
	return client
}

func defaultSender(cfg config.Interface, logger *zap.Logger) automation.Sender {
	auto := cfg.Automation()
	opener := automation.BrowserOpener(cfg.Browser(), auto.ElementTimeout, logger)
	return automation.NewGmailSender(auto, opener, logger)
}

// sessionStore builds the configured conversation store. janitor is nil for
// stores that expire entries on their own.
type sessionStore struct {
	store   conversation.Store
	janitor func(ctx context.Context) error
	close   func()
}

func openSessionStore(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*sessionStore, error) {
	sc := cfg.Session()
	switch sc.Store {
	case config.SessionStoreRedis:
		rc := cfg.Redis()
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
		}
		logger.Info("Using redis session store.", zap.String("addr", rc.Addr))
		return &sessionStore{
			store: conversation.NewRedisStore(client, sc.KeyPrefix, sc.TTL),
			close: func() {
				if err := client.Close(); err != nil {
					logger.Warn("Failed to close redis client.", zap.Error(err))
				}
			},
		}, nil
	default:
		mem := conversation.NewMemoryStore(sc.TTL, logger)
		return &sessionStore{
			store:   mem,
			janitor: func(ctx context.Context) error { return mem.Run(ctx, sc.CleanupInterval) },
			close:   func() {},
		}, nil
	}
}

// openHistory connects the send history. It returns a nil store when no
// database is configured.
func openHistory(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*history.Store, func(), error) {
	url := cfg.Database().URL
	if url == "" {
		logger.Warn("Database URL (MAILPILOT_DATABASE_URL) is not set. Proceeding without send history.")
		return nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	store, err := history.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("Database connection established successfully.")
	return store, pool.Close, nil
}
