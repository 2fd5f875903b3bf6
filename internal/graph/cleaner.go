package graph

import (
	"context"
	"fmt"

	"vminventory/internal/cypher"
	"vminventory/pkg/util"
)

// Cleaner 删除本轮未再出现的 VM 出边。节点从不删除。
type Cleaner struct {
	w         Writer
	batchSize int
}

func NewCleaner(w Writer, batchSize int) *Cleaner {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Cleaner{w: w, batchSize: batchSize}
}

// DeleteStaleRels 只处理 vmKeys 范围内的 VM，其他来源的边不受影响。
func (c *Cleaner) DeleteStaleRels(ctx context.Context, vmKeys []string, runID string) error {
	query := cypher.MustAsset("delete_stale_rels.cql")
	err := util.EachBatch(vmKeys, c.batchSize, func(chunk []string) error {
		return c.w.RunWrite(ctx, query, map[string]any{"vm_keys": chunk, "run_id": runID})
	})
	if err != nil {
		return fmt.Errorf("清理过期关系失败: %w", err)
	}
	return nil
}
