package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"vminventory/internal/app"
	"vminventory/ioc"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}
	cmd := flag.Arg(0)

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	svc, err := buildService(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "构建服务失败: %v\n", err)
		os.Exit(1)
	}

	err = execute(ctx, svc, cmd)
	if errors.Is(err, errUsage) {
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s 执行失败: %v\n", cmd, err)
		os.Exit(1)
	}
}

var errUsage = errors.New("unknown command")

// execute 执行子命令并在返回前关闭 svc，失败路径同样释放连接与锁。
func execute(ctx context.Context, svc *app.Service, cmd string) error {
	err := run(ctx, svc, cmd)
	if closeErr := svc.Close(ctx); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("释放资源失败: %w", closeErr))
	}
	return err
}

func run(ctx context.Context, svc *app.Service, cmd string) error {
	switch cmd {
	case "migrate":
		return svc.Migrate(ctx)
	case "sync":
		if err := svc.Init(ctx); err != nil {
			return err
		}
		if err := svc.Sync(ctx); err != nil {
			return err
		}
		return printJSON(svc.Status())
	case "profiles":
		profiles, err := svc.Profiles(ctx)
		if err != nil {
			return err
		}
		return printJSON(profiles)
	case "summary":
		sum, err := svc.Summary(ctx)
		if err != nil {
			return err
		}
		return printJSON(sum)
	default:
		return errUsage
	}
}

func buildService(ctx context.Context, cfg app.Config) (*app.Service, error) {
	logger, err := ioc.InitLogger(cfg)
	if err != nil {
		return nil, err
	}
	persistence, err := ioc.InitPersistence(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	neo, err := ioc.InitGraphClient(ctx, cfg, logger)
	if err != nil {
		_ = persistence.Close()
		return nil, err
	}
	return app.NewService(cfg, persistence, persistence, ioc.InitFetcher(cfg, logger), neo, logger), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usage() {
	fmt.Println("用法: syncer [-config configs/config.yaml] {sync|migrate|profiles|summary}")
}
