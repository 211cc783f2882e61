// Command server runs the zutritt authentication service.
//
// Configuration is layered: built-in defaults, then an optional YAML file
// (-config flag, ZUTRITT_CONFIG, ./config.yaml, /etc/zutritt/config.yaml),
// then ZUTRITT_* environment variables. See pkg/config for the full set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/auth"
	"github.com/rhuss/zutritt/pkg/auth/apikey"
	"github.com/rhuss/zutritt/pkg/auth/password"
	"github.com/rhuss/zutritt/pkg/auth/sso"
	"github.com/rhuss/zutritt/pkg/auth/token"
	"github.com/rhuss/zutritt/pkg/config"
	"github.com/rhuss/zutritt/pkg/debug"
	"github.com/rhuss/zutritt/pkg/ratelimit"
	"github.com/rhuss/zutritt/pkg/storage"
	"github.com/rhuss/zutritt/pkg/storage/memory"
	"github.com/rhuss/zutritt/pkg/storage/postgres"
	"github.com/rhuss/zutritt/pkg/transport"
	transporthttp "github.com/rhuss/zutritt/pkg/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: debug.ParseLevel(os.Getenv("ZUTRITT_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := context.Background()

	// Identity storage.
	var (
		store  storage.IdentityStore
		keys   storage.APIKeyStore
		provs  storage.ProviderConfigStore
		pgPool *postgres.Store
	)
	switch cfg.Storage.Type {
	case "postgres":
		pgPool, err = postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pgPool.Close()
		store, keys, provs = pgPool, pgPool, pgPool
		logger.Info("storage ready", "type", "postgres")
	default:
		mem := memory.New()
		seed(mem, cfg.Seed, logger)
		store, keys, provs = mem, mem, mem
		logger.Info("storage ready", "type", "memory", "seeded_tenants", len(cfg.Seed.Tenants))
	}

	// Rate limiting: shared Redis window with local failover, or purely
	// local when no Redis is configured.
	var limiter ratelimit.Limiter = ratelimit.NewLocalLimiter(0)
	var states sso.StateStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		limiter = ratelimit.NewFailoverLimiter(
			ratelimit.NewRedisLimiter(rdb),
			ratelimit.NewLocalLimiter(0),
			logger,
		)
		states = sso.NewRedisStateStore(rdb)
		logger.Info("redis ready", "addr", cfg.Redis.Addr)
	} else {
		mem := sso.NewMemoryStateStore()
		defer mem.Close()
		states = mem
		logger.Info("redis not configured, using in-process rate limiting and SSO state")
	}

	// Audit pipeline.
	var sink audit.Sink = &audit.SlogSink{Logger: logger}
	if cfg.Audit.Sink == "postgres" {
		sink = pgPool
	}
	dispatcher := audit.NewDispatcher(sink, audit.Config{
		BufferSize:   cfg.Audit.BufferSize,
		FlushTimeout: cfg.Audit.FlushTimeout,
	}, logger)
	defer dispatcher.Close()

	// Auth services.
	tokens, err := token.New(token.Config{
		Secret:         cfg.Token.Secret,
		PreviousSecret: cfg.Token.PreviousSecret,
		TTL:            cfg.Token.TTL,
		Issuer:         cfg.Token.Issuer,
	})
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	passwords := password.New(store, password.BcryptHasher{}, dispatcher, logger)
	apiKeys := apikey.New(keys, store, limiter, dispatcher, logger)
	gateway := sso.New(store, provs, states, tokens, dispatcher, logger, sso.Options{
		RequireSignedAssertions: cfg.SSO.RequireSignedAssertions,
	})

	chain := &auth.Chain{Authenticators: []auth.Authenticator{
		&auth.TokenAuthenticator{Tokens: tokens, Store: store},
		&auth.KeyAuthenticator{Keys: apiKeys},
	}}

	tierLimits := make(auth.TierLimits, len(cfg.RateLimit.Tiers))
	for name, rpm := range cfg.RateLimit.Tiers {
		tierLimits[api.Tier(name)] = rpm
	}
	requests := auth.NewRequestLimiter(limiter, tierLimits)

	handlers := &transport.Handlers{
		Passwords: passwords,
		Tokens:    tokens,
		Store:     store,
		SSO:       gateway,
		Audit:     dispatcher,
		Throttle:  transport.NewIPThrottle(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst),
		Logger:    logger,
	}

	srv := transporthttp.NewServer(handlers, chain, requests, dispatcher,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithMetrics(cfg.Observability.Metrics.Enabled, cfg.Observability.Metrics.Path),
		transporthttp.WithLogger(logger),
	)
	return srv.ListenAndServe()
}

// seed loads configured tenants and their SSO providers into the memory
// store. Seed entries are for development and single-node deployments;
// postgres deployments manage tenants in the database.
func seed(mem *memory.Store, s config.SeedConfig, logger *slog.Logger) {
	for _, st := range s.Tenants {
		id := st.ID
		if id == "" {
			id = api.NewTenantID()
		}
		tier := api.Tier(st.Tier)
		if st.Tier == "" {
			tier = api.TierStarter
		}
		mem.AddTenant(&api.Tenant{
			ID:        id,
			Slug:      st.Slug,
			Tier:      tier,
			Active:    true,
			Features:  st.Features,
			CreatedAt: time.Now().UTC(),
		})
		for _, p := range st.SSOProviders {
			mem.AddProviderConfig(id, &storage.ProviderConfig{
				Provider:     p.Provider,
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				AuthURL:      p.AuthURL,
				TokenURL:     p.TokenURL,
				UserInfoURL:  p.UserInfoURL,
				SSOURL:       p.SSOURL,
				Certificate:  p.Certificate,
			})
		}
		logger.Info("seeded tenant", "slug", st.Slug, "tier", tier, "providers", len(st.SSOProviders))
	}
}
