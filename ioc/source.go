package ioc

import (
	"go.uber.org/zap"

	"vminventory/internal/app"
	"vminventory/internal/domain"
	"vminventory/internal/kvm"
	"vminventory/internal/source"
	"vminventory/internal/vcenter"
)

// InitFetcher 注册各类虚拟化端点的拉取实现。
func InitFetcher(cfg app.Config, logger *zap.Logger) source.Fetcher {
	timeout := cfg.Sync.ConnectTimeout()
	return source.Registry{
		domain.ProfileKindVCenter: vcenter.NewFetcher(timeout, logger.Named("vcenter")),
		domain.ProfileKindLibvirt: kvm.NewFetcher(timeout, logger.Named("libvirt")),
	}
}
