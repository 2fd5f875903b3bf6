package graph

import (
	"context"
	"fmt"

	"vminventory/internal/cypher"
)

// SchemaRunner 执行自动提交的 schema 语句。
type SchemaRunner interface {
	RunSchema(ctx context.Context, query string) error
}

// EnsureSchema 创建唯一约束和索引，可重复执行。
func EnsureSchema(ctx context.Context, r SchemaRunner) error {
	for _, query := range cypher.Statements("init_schema.cql") {
		if err := r.RunSchema(ctx, query); err != nil {
			return fmt.Errorf("执行 schema 语句失败: %w", err)
		}
	}
	return nil
}
