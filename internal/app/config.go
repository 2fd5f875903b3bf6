package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vminventory/internal/domain"
	"vminventory/internal/store"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"

	defaultListen          = ":8080"
	defaultIntervalMinutes = 30
	defaultConnectTimeout  = 30
	defaultBatchSize       = 100
	defaultMetricsPath     = "/metrics"
	minPostgresConns       = 2
)

type HTTP struct {
	Listen string `yaml:"listen"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Retry struct {
	Attempts       int `yaml:"attempts"`
	BackoffSeconds int `yaml:"backoff_seconds"`
}

type Store struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	ConnectRetry Retry  `yaml:"connect_retry"`
	// AutoMigrate 为 true 时启动初始化阶段执行建表，否则需先运行 syncer migrate。
	AutoMigrate bool `yaml:"auto_migrate"`
}

type Sync struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	// Cron 非空时覆盖 IntervalMinutes。
	Cron                  string `yaml:"cron"`
	InitialSync           bool   `yaml:"initial_sync"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	LockKey               int64  `yaml:"lock_key"`
	BatchSize             int    `yaml:"batch_size"`
}

// Profile 是配置文件中预置的连接配置，启动时写入配置库。
type Profile struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// PasswordEnv 指定读取密码的环境变量，优先于 Password。
	PasswordEnv string `yaml:"password_env"`
	DisableSSL  *bool  `yaml:"disable_ssl"`
	Enabled     *bool  `yaml:"enabled"`
}

type Neo4j struct {
	Enabled              bool   `yaml:"enabled"`
	URI                  string `yaml:"uri"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	Database             string `yaml:"database"`
	MaxConnectionPool    int    `yaml:"max_connections"`
	ConnectTimeoutSecond int    `yaml:"connect_timeout_second"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	HTTP     HTTP      `yaml:"http"`
	Log      Log       `yaml:"log"`
	Store    Store     `yaml:"store"`
	Sync     Sync      `yaml:"sync"`
	Profiles []Profile `yaml:"profiles"`
	Neo4j    Neo4j     `yaml:"neo4j"`
	Metrics  Metrics   `yaml:"metrics"`
}

// LoadConfig 从文件加载配置并补齐默认值。
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("读取配置失败: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyDefaults 补齐未配置的字段。
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.HTTP.Listen) == "" {
		c.HTTP.Listen = defaultListen
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverMemory
	}
	if c.Store.ConnectRetry.Attempts <= 0 {
		c.Store.ConnectRetry.Attempts = 5
	}
	if c.Store.ConnectRetry.BackoffSeconds <= 0 {
		c.Store.ConnectRetry.BackoffSeconds = 1
	}
	if c.Sync.IntervalMinutes <= 0 {
		c.Sync.IntervalMinutes = defaultIntervalMinutes
	}
	if c.Sync.ConnectTimeoutSeconds <= 0 {
		c.Sync.ConnectTimeoutSeconds = defaultConnectTimeout
	}
	if c.Sync.LockKey == 0 {
		c.Sync.LockKey = store.DefaultLockKey
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = defaultBatchSize
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
}

// Validate 校验配置的自洽性。
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, errors.New("store.dsn 不能为空"))
		}
		// 同步期间 advisory lock 独占一个连接，事务还需要另一个
		if c.Store.MaxOpenConns > 0 && c.Store.MaxOpenConns < minPostgresConns {
			errs = append(errs, fmt.Errorf("store.max_open_conns 至少为 %d", minPostgresConns))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 store.driver %q", c.Store.Driver))
	}
	if c.Neo4j.Enabled && strings.TrimSpace(c.Neo4j.URI) == "" {
		errs = append(errs, errors.New("neo4j.enabled 时 neo4j.uri 不能为空"))
	}
	names := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Host) == "" {
			errs = append(errs, fmt.Errorf("profiles[%d] 缺少 name 或 host", i))
			continue
		}
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("profiles[%d] 名称 %q 重复", i, p.Name))
		}
		names[p.Name] = true
		switch p.Kind {
		case "", domain.ProfileKindVCenter, domain.ProfileKindLibvirt:
		default:
			errs = append(errs, fmt.Errorf("profiles[%d] 不支持的 kind %q", i, p.Kind))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

// Interval 调度周期。
func (s Sync) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// ConnectTimeout 单次连接超时。
func (s Sync) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSeconds) * time.Second
}

// Domain 转换为连接配置，disable_ssl 与 enabled 未配置时默认为 true。
func (p Profile) Domain() domain.Profile {
	out := domain.Profile{
		Name:       p.Name,
		Kind:       p.Kind,
		Host:       p.Host,
		Username:   p.Username,
		Password:   p.Password,
		DisableSSL: true,
		Enabled:    true,
	}
	if out.Kind == "" {
		out.Kind = domain.ProfileKindVCenter
	}
	if p.PasswordEnv != "" {
		if v, ok := os.LookupEnv(p.PasswordEnv); ok {
			out.Password = v
		}
	}
	if p.DisableSSL != nil {
		out.DisableSSL = *p.DisableSSL
	}
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	return out
}
