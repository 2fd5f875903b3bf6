package graph

import (
	"context"
	"fmt"

	"vminventory/internal/cypher"
)

// EdgeFixer 根据 VM 的边推导宿主机与来源之间的关系。
type EdgeFixer struct {
	w Writer
}

func NewEdgeFixer(w Writer) *EdgeFixer {
	return &EdgeFixer{w: w}
}

func (f *EdgeFixer) Run(ctx context.Context, sourceKey, runID string) error {
	for _, query := range cypher.Statements("fix_edges.cql") {
		params := map[string]any{"source_key": sourceKey, "run_id": runID}
		if err := f.w.RunWrite(ctx, query, params); err != nil {
			return fmt.Errorf("补边失败: %w", err)
		}
	}
	return nil
}
