// Package graph 把 VM 库存投影到 Neo4j：VM 与宿主机、网络、来源之间的拓扑关系。
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Writer 投影写入（节点、关系、清理过期边）使用的接口。
type Writer interface {
	RunWrite(ctx context.Context, query string, params map[string]any) error
}

// Reader VM 拓扑查询使用的接口。
type Reader interface {
	RunRead(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// Config 对应配置文件的 neo4j 段。
type Config struct {
	URI                  string
	Username             string
	Password             string
	Database             string
	MaxConnectionPool    int
	ConnectionTimeoutSec int
}

// Client 是图投影与拓扑查询共用的 Neo4j 连接，实现 Writer、Reader 与 SchemaRunner。
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewClient 在启用图投影时由 ioc 调用，连不上直接返回错误，避免同步跑到一半才发现图库不可用。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri 不能为空")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""), cfg.apply)
	if err != nil {
		return nil, fmt.Errorf("创建 neo4j driver 失败: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j 无法连通: %w", err)
	}
	return &Client{driver: driver, database: cfg.Database}, nil
}

func (cfg Config) apply(conf *neo4j.Config) {
	if cfg.MaxConnectionPool > 0 {
		conf.MaxConnectionPoolSize = cfg.MaxConnectionPool
	}
	if cfg.ConnectionTimeoutSec > 0 {
		conf.SocketConnectTimeout = time.Duration(cfg.ConnectionTimeoutSec) * time.Second
	}
}

// Close 由 app.Service 在退出时调用，nil Client 表示未启用图投影。
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: mode})
}

// RunWrite 在托管写事务中执行一批 UNWIND 写入，驱动负责瞬时错误重试。
func (c *Client) RunWrite(ctx context.Context, query string, params map[string]any) error {
	sess := c.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("执行写入失败: %w", err)
	}
	return nil
}

// RunSchema 以自动提交方式执行约束与索引语句，这类语句不能放在显式事务里。
func (c *Client) RunSchema(ctx context.Context, query string) error {
	sess := c.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, query, nil)
	if err != nil {
		return fmt.Errorf("执行语句失败: %w", err)
	}
	if _, err := res.Consume(ctx); err != nil {
		return fmt.Errorf("执行语句失败: %w", err)
	}
	return nil
}

// RunRead 执行拓扑查询，每条记录按列名展开成 map 交给 Projector.Topology 解析。
func (c *Client) RunRead(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	sess := c.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)
	records, err := neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) ([]map[string]any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		all, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(all))
		for _, rec := range all {
			out = append(out, rec.AsMap())
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("执行查询失败: %w", err)
	}
	return records, nil
}
