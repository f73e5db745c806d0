//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/truthcard/internal/bootstrap"
	"github.com/yanqian/truthcard/internal/domain/usage"
	"github.com/yanqian/truthcard/internal/infra/config"
	httpiface "github.com/yanqian/truthcard/internal/interface/http"
	"github.com/yanqian/truthcard/pkg/logger"
)

func initializeApp() (*bootstrap.App, func(), error) {
	wire.Build(
		config.Load,
		logger.New,
		providePostgresPool,
		provideValkeyClient,
		provideUsageStore,
		provideUsageGate,
		provideObjectStorage,
		provideSessionConfig,
		provideSessionService,
		provideDeviceService,
		provideOrderRepository,
		providePaymentService,
		wire.Bind(new(httpiface.UsageStatus), new(*usage.Gate)),
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil, nil
}
