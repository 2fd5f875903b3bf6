package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vminventory/internal/cypher"
	"vminventory/internal/domain"
)

// Store 是 Projector 依赖的图数据库能力。
type Store interface {
	Writer
	Reader
}

// Projector 把一个来源的快照写成图：VM 运行在哪台宿主机、连到哪些网络、由哪个来源发现。
type Projector struct {
	nodes   *NodeUpserter
	rels    *RelUpserter
	cleaner *Cleaner
	fixer   *EdgeFixer
	reader  Reader
	now     func() time.Time
	logger  *zap.Logger
}

// NewProjector 创建图投影器。
func NewProjector(s Store, batchSize int, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		nodes:   NewNodeUpserter(s, batchSize),
		rels:    NewRelUpserter(s, batchSize),
		cleaner: NewCleaner(s, batchSize),
		fixer:   NewEdgeFixer(s),
		reader:  s,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// Project 写入节点与关系，随后删除这些 VM 在本轮未出现的出边。
func (p *Projector) Project(ctx context.Context, profile domain.Profile, runID string, snaps []domain.VMSnapshot) error {
	nodes, rels, vmKeys := BuildRows(profile, runID, p.now(), snaps)
	if err := p.nodes.UpsertNodes(ctx, nodes); err != nil {
		return err
	}
	if err := p.rels.UpsertRels(ctx, rels); err != nil {
		return err
	}
	if err := p.cleaner.DeleteStaleRels(ctx, vmKeys, runID); err != nil {
		return err
	}
	if err := p.fixer.Run(ctx, sourceKey(profile), runID); err != nil {
		return err
	}
	p.logger.Info("graph projected",
		zap.String("profile", profile.Name),
		zap.String("run_id", runID),
		zap.Int("nodes", len(nodes)),
		zap.Int("rels", len(rels)))
	return nil
}

// Neighbor 是 VM 的一条出边。
type Neighbor struct {
	Rel    string   `json:"rel"`
	Labels []string `json:"labels"`
	Name   string   `json:"name"`
}

// Topology 查询 VM 的宿主机、网络与来源。
func (p *Projector) Topology(ctx context.Context, vmID string) ([]Neighbor, error) {
	records, err := p.reader.RunRead(ctx, cypher.MustAsset("topology.cql"), map[string]any{"vm_id": vmID})
	if err != nil {
		return nil, fmt.Errorf("查询拓扑失败: %w", err)
	}
	out := make([]Neighbor, 0, len(records))
	for _, rec := range records {
		n := Neighbor{}
		n.Rel, _ = rec["rel"].(string)
		n.Name, _ = rec["name"].(string)
		if labels, ok := rec["labels"].([]any); ok {
			for _, l := range labels {
				if s, ok := l.(string); ok && s != domain.LabelInventory {
					n.Labels = append(n.Labels, s)
				}
			}
		}
		out = append(out, n)
	}
	return out, nil
}

func sourceKey(p domain.Profile) string {
	return domain.MakeKey(domain.PrefixSource, p.Name)
}

// scopedKey 宿主机与网络名称只在同一来源内唯一。
func scopedKey(prefix string, p domain.Profile, name string) string {
	return domain.MakeKey(prefix, p.Name+"/"+name)
}

// BuildRows 把快照转换成节点和关系行，没有 ID 的快照不参与投影。
func BuildRows(profile domain.Profile, runID string, now time.Time, snaps []domain.VMSnapshot) ([]domain.NodeRow, []domain.RelRow, []string) {
	srcKey := sourceKey(profile)
	nodes := []domain.NodeRow{{
		Key:        srcKey,
		Labels:     []string{domain.LabelInventory, domain.LabelSource},
		Properties: map[string]any{"name": profile.Name, "kind": kindOf(profile), "host": profile.Host},
		RunID:      runID,
		UpdatedAt:  now,
	}}
	var rels []domain.RelRow
	var vmKeys []string
	seenNode := map[string]bool{srcKey: true}
	seenVM := make(map[string]bool, len(snaps))

	addNode := func(key, label, name string) {
		if seenNode[key] {
			return
		}
		seenNode[key] = true
		nodes = append(nodes, domain.NodeRow{
			Key:        key,
			Labels:     []string{domain.LabelInventory, label},
			Properties: map[string]any{"name": name},
			RunID:      runID,
			UpdatedAt:  now,
		})
	}

	for _, s := range snaps {
		id := strings.TrimSpace(s.ID)
		if id == "" || seenVM[id] {
			continue
		}
		seenVM[id] = true
		vmKey := domain.MakeKey(domain.PrefixVM, id)
		vmKeys = append(vmKeys, vmKey)
		nodes = append(nodes, domain.NodeRow{
			Key:        vmKey,
			Labels:     []string{domain.LabelInventory, domain.LabelVirtualMachine},
			Properties: vmProperties(id, s),
			RunID:      runID,
			UpdatedAt:  now,
		})
		rels = append(rels, domain.RelRow{StartKey: vmKey, EndKey: srcKey, Type: domain.RelDiscoveredBy, RunID: runID})

		if s.Hypervisor != nil && *s.Hypervisor != "" {
			hvKey := scopedKey(domain.PrefixHypervisor, profile, *s.Hypervisor)
			addNode(hvKey, domain.LabelHypervisor, *s.Hypervisor)
			rels = append(rels, domain.RelRow{StartKey: vmKey, EndKey: hvKey, Type: domain.RelRunsOn, RunID: runID})
		}
		seenNet := make(map[string]bool)
		for _, nic := range s.NICs {
			if nic.Network == "" || seenNet[nic.Network] {
				continue
			}
			seenNet[nic.Network] = true
			netKey := scopedKey(domain.PrefixNetwork, profile, nic.Network)
			addNode(netKey, domain.LabelNetwork, nic.Network)
			rels = append(rels, domain.RelRow{
				StartKey:   vmKey,
				EndKey:     netKey,
				Type:       domain.RelConnectedTo,
				Properties: map[string]any{"mac": nic.MAC, "connected": nic.Connected},
				RunID:      runID,
			})
		}
	}
	return nodes, rels, vmKeys
}

func vmProperties(id string, s domain.VMSnapshot) map[string]any {
	props := map[string]any{"vm_id": id, "name": s.Name}
	if s.Name == "" {
		props["name"] = id
	}
	if s.CPU != nil {
		props["cpu"] = int64(*s.CPU)
	}
	if s.MemoryMB != nil {
		props["memory_mb"] = int64(*s.MemoryMB)
	}
	if s.PowerState != nil {
		props["power_state"] = *s.PowerState
	}
	if s.GuestOS != nil {
		props["guest_os"] = *s.GuestOS
	}
	return props
}

func kindOf(p domain.Profile) string {
	if p.Kind == "" {
		return domain.ProfileKindVCenter
	}
	return p.Kind
}
