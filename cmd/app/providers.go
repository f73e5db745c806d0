package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/truthcard/internal/domain/device"
	"github.com/yanqian/truthcard/internal/domain/payment"
	"github.com/yanqian/truthcard/internal/domain/roast"
	"github.com/yanqian/truthcard/internal/domain/session"
	"github.com/yanqian/truthcard/internal/domain/usage"
	"github.com/yanqian/truthcard/internal/infra/blobstore"
	"github.com/yanqian/truthcard/internal/infra/config"
	"github.com/yanqian/truthcard/internal/infra/orderrepo"
	"github.com/yanqian/truthcard/internal/infra/razorpay"
	"github.com/yanqian/truthcard/internal/infra/usagestore"
)

// providePostgresPool returns nil when no DSN is configured or the database
// is unreachable; callers fall back to in-memory stores. The cleanup closes
// the pool.
func providePostgresPool(cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, func()) {
	dsn := strings.TrimSpace(cfg.Postgres.DSN)
	if dsn == "" {
		logger.Info("postgres dsn not set, using memory repositories")
		return nil, func() {}
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("invalid postgres dsn, using memory repositories", "error", err)
		return nil, func() {}
	}
	if cfg.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Postgres.MaxConns
	}
	if cfg.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize postgres pool, using memory repositories", "error", err)
		return nil, func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres ping failed, using memory repositories", "error", err)
		pool.Close()
		return nil, func() {}
	}
	logger.Info("postgres enabled")
	return pool, func() {
		pool.Close()
		logger.Info("postgres pool closed")
	}
}

// provideValkeyClient returns nil unless redis is enabled and answers a ping.
func provideValkeyClient(cfg *config.Config, logger *slog.Logger) (valkey.Client, func()) {
	if !cfg.Redis.Enabled {
		return nil, func() {}
	}
	opt, err := buildValkeyOptions(cfg)
	if err != nil {
		logger.Error("invalid valkey configuration, falling back to memory store", "error", err)
		return nil, func() {}
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create valkey client, falling back to memory store", "error", err)
		return nil, func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("valkey ping failed, falling back to memory store", "error", err)
		client.Close()
		return nil, func() {}
	}
	logger.Info("valkey enabled", "addr", cfg.Redis.Addr)
	return client, func() {
		client.Close()
		logger.Info("valkey client closed")
	}
}

func buildValkeyOptions(cfg *config.Config) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(cfg.Redis.Addr, "://") {
		opt, err = valkey.ParseURL(cfg.Redis.Addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{cfg.Redis.Addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}

func provideUsageStore(cfg *config.Config, pool *pgxpool.Pool, client valkey.Client, logger *slog.Logger) usage.Store {
	switch cfg.Usage.Backend {
	case "redis":
		if client != nil {
			logger.Info("usage store", "backend", "valkey")
			return usagestore.NewValkeyStore(client, cfg.Redis.Prefix)
		}
	case "postgres":
		if pool != nil {
			logger.Info("usage store", "backend", "postgres")
			return usagestore.NewPostgresStore(pool)
		}
	}
	logger.Info("usage store", "backend", "memory")
	return usagestore.NewMemoryStore()
}

func provideUsageGate(cfg *config.Config, store usage.Store, logger *slog.Logger) (*usage.Gate, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Usage.Timezone); tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("load usage timezone %q: %w", tz, err)
		}
	}
	return usage.NewGate(usage.Config{
		DailyLimit:          cfg.Usage.DailyLimit,
		LockoutMonths:       cfg.Usage.LockoutMonths,
		ResetLockOnRollover: cfg.Usage.ResetLockOnRollover,
		Location:            loc,
	}, store, logger), nil
}

func provideObjectStorage(cfg *config.Config, logger *slog.Logger) session.ObjectStorage {
	if strings.TrimSpace(cfg.Storage.Endpoint) == "" {
		logger.Info("storage endpoint not set, keeping uploads in memory")
		return blobstore.NewMemory()
	}
	store, err := blobstore.NewR2(cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.Bucket, cfg.Storage.Region, logger)
	if err != nil {
		logger.Error("failed to initialize object storage, keeping uploads in memory", "error", err)
		return blobstore.NewMemory()
	}
	logger.Info("object storage enabled", "bucket", cfg.Storage.Bucket)
	return store
}

func provideSessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		OnboardingCharInterval: cfg.Session.OnboardingCharInterval,
		OnboardingAdvanceDelay: cfg.Session.OnboardingAdvanceDelay,
		ProgressTick:           cfg.Session.ProgressTick,
		ProgressMaxStep:        cfg.Session.ProgressMaxStep,
		LipSyncDuration:        cfg.Session.LipSyncDuration,
		ShareCardDelay:         cfg.Session.ShareCardDelay,
		SupportPromptDelay:     cfg.Session.SupportPromptDelay,
		SupportURL:             cfg.Session.SupportURL,
		IdleTTL:                cfg.Session.IdleTTL,
		SkipOnboarding:         cfg.Session.SkipOnboarding,
		MaxUploadBytes:         cfg.HTTP.MaxUploadBytes,
	}
}

func provideSessionService(cfg session.Config, gate *usage.Gate, storage session.ObjectStorage, logger *slog.Logger) *session.Service {
	return session.NewService(cfg, roast.NewEngine(nil), nil, storage, gate, nil, nil, logger)
}

func provideDeviceService(cfg *config.Config, logger *slog.Logger) (device.Service, error) {
	secret := cfg.Device.Secret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate device secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("DEVICE_SECRET not set, device tokens will not survive a restart")
	}
	return device.NewService(device.Config{Secret: secret, TokenTTL: cfg.Device.TokenTTL}, logger), nil
}

func provideOrderRepository(pool *pgxpool.Pool) payment.OrderRepository {
	if pool == nil {
		return orderrepo.NewMemoryRepository()
	}
	return orderrepo.NewPostgresRepository(pool)
}

func providePaymentService(cfg *config.Config, orders payment.OrderRepository, logger *slog.Logger) (*payment.Service, error) {
	plans := make([]payment.Plan, 0, len(cfg.Payment.Plans))
	for _, p := range cfg.Payment.Plans {
		tier, ok := usage.ParseTier(p.Tier)
		if !ok || !tier.Paid() {
			return nil, fmt.Errorf("plan %q: tier %q is not a paid tier", p.ID, p.Tier)
		}
		plans = append(plans, payment.Plan{
			ID:          strings.ToLower(p.ID),
			Name:        p.Name,
			Description: p.Description,
			Tier:        tier,
			Amount:      p.Amount,
		})
	}

	var gateway payment.Gateway
	if cfg.Payment.KeyID != "" && cfg.Payment.KeySecret != "" {
		gateway = razorpay.NewClient(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret)
	} else {
		logger.Warn("razorpay keys not set, checkout disabled")
	}

	return payment.NewService(payment.Config{
		KeyID:        cfg.Payment.KeyID,
		KeySecret:    cfg.Payment.KeySecret,
		Currency:     cfg.Payment.Currency,
		MerchantName: cfg.Payment.MerchantName,
		Plans:        plans,
	}, gateway, orders, logger), nil
}
