package graph

import (
	"context"
	"fmt"
	"sort"

	"vminventory/internal/cypher"
	"vminventory/internal/domain"
	"vminventory/pkg/util"
)

// NodeUpserter 按标签组合分组后批量写入节点。
type NodeUpserter struct {
	w         Writer
	batchSize int
}

// NewNodeUpserter 创建节点 upsert 器。
func NewNodeUpserter(w Writer, batchSize int) *NodeUpserter {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &NodeUpserter{w: w, batchSize: batchSize}
}

func (u *NodeUpserter) UpsertNodes(ctx context.Context, rows []domain.NodeRow) error {
	if len(rows) == 0 {
		return nil
	}
	grouped := make(map[string][]domain.NodeRow)
	patterns := make(map[string]string)
	for _, row := range rows {
		key := domain.JoinLabels(row.Labels)
		grouped[key] = append(grouped[key], row)
		if _, ok := patterns[key]; !ok {
			patterns[key] = domain.LabelPattern(row.Labels)
		}
	}
	// 固定顺序，先写的标签组不依赖 map 遍历
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		query := cypher.MustTemplate("upsert_nodes.cql", map[string]string{"LabelPattern": patterns[key]})
		err := util.EachBatch(grouped[key], u.batchSize, func(chunk []domain.NodeRow) error {
			return u.w.RunWrite(ctx, query, map[string]any{"rows": toNodeParameters(chunk)})
		})
		if err != nil {
			return fmt.Errorf("写入节点失败 labels=%s: %w", key, err)
		}
	}
	return nil
}

func toNodeParameters(rows []domain.NodeRow) []map[string]any {
	res := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		res = append(res, map[string]any{
			"key":        row.Key,
			"properties": row.Properties,
			"run_id":     row.RunID,
			"updated_at": row.UpdatedAt,
		})
	}
	return res
}
