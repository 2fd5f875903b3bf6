package domain

import (
	"fmt"
	"sort"
	"strings"
)

const (
	LabelVirtualMachine = "VirtualMachine"
	LabelHypervisor     = "Hypervisor"
	LabelNetwork        = "Network"
	LabelSource         = "Source"
	LabelInventory      = "Inventory"

	RelRunsOn       = "RUNS_ON"
	RelConnectedTo  = "CONNECTED_TO"
	RelDiscoveredBy = "DISCOVERED_BY"
)

const (
	PrefixVM         = "VM"
	PrefixHypervisor = "HV"
	PrefixNetwork    = "NET"
	PrefixSource     = "SRC"
)

// MakeKey 统一生成图节点 key，带上前缀以避免不同实体冲突。
func MakeKey(prefix string, rawID any) string {
	return fmt.Sprintf("%s_%v", prefix, rawID)
}

// LabelPattern 根据标签集合拼成 Cypher 模板所需的字符串，如 ":A:B"。
func LabelPattern(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)
	return ":" + strings.Join(sorted, ":")
}

// JoinLabels 简单拼接标签用于 map key（内部使用）。
func JoinLabels(labels []string) string {
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)
	return strings.Join(sorted, ":")
}
