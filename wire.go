//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"vminventory/ioc"
	"vminventory/pkg/server"
)

func InitApp(ctx context.Context) (*server.HTTPServer, func(), error) {
	panic(wire.Build(
		ioc.InitConfig,
		ioc.InitLogger,
		ioc.InitPersistence,
		ioc.InitStore,
		ioc.InitLock,
		ioc.InitFetcher,
		ioc.InitGraphClient,
		ioc.InitAppService,
		ioc.InitScheduler,
		ioc.InitHeartbeat,
		ioc.InitInventoryHandler,
		ioc.InitGinEngine,
		server.NewHTTPServer,
	))
}
