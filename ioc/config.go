package ioc

import (
	"os"

	"vminventory/internal/app"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = "VMINVENTORY_CONFIG"
)

// InitConfig 读取应用配置，可用环境变量覆盖配置文件路径。
func InitConfig() (app.Config, error) {
	path := defaultConfigPath
	if p := os.Getenv(configPathEnv); p != "" {
		path = p
	}
	return app.LoadConfig(path)
}
