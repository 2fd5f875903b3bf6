package graph

import (
	"context"
	"fmt"
	"sort"

	"vminventory/internal/cypher"
	"vminventory/internal/domain"
	"vminventory/pkg/util"
)

// RelUpserter 按关系类型分组批量写入。
type RelUpserter struct {
	w         Writer
	batchSize int
}

func NewRelUpserter(w Writer, batchSize int) *RelUpserter {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RelUpserter{w: w, batchSize: batchSize}
}

func (u *RelUpserter) UpsertRels(ctx context.Context, rows []domain.RelRow) error {
	if len(rows) == 0 {
		return nil
	}
	grouped := make(map[string][]domain.RelRow)
	for _, row := range rows {
		grouped[row.Type] = append(grouped[row.Type], row)
	}
	types := make([]string, 0, len(grouped))
	for t := range grouped {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, relType := range types {
		query := cypher.MustTemplate("upsert_rels.cql", map[string]string{"RelType": ":" + relType})
		err := util.EachBatch(grouped[relType], u.batchSize, func(chunk []domain.RelRow) error {
			return u.w.RunWrite(ctx, query, map[string]any{"rows": toRelParameters(chunk)})
		})
		if err != nil {
			return fmt.Errorf("写入关系失败 type=%s: %w", relType, err)
		}
	}
	return nil
}

func toRelParameters(rows []domain.RelRow) []map[string]any {
	res := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		props := row.Properties
		if props == nil {
			props = map[string]any{}
		}
		res = append(res, map[string]any{
			"start_key":  row.StartKey,
			"end_key":    row.EndKey,
			"properties": props,
			"run_id":     row.RunID,
		})
	}
	return res
}
