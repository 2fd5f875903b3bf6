// Package normalize 把源端原始字段转换成可稳定比较的规范形式，不做任何 I/O。
package normalize

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vminventory/internal/domain"
)

// SizePlaces 磁盘容量保留的小数位。
const SizePlaces = 2

// Decimal 把容量四舍五入到两位小数，nil 输入返回无效值。
func Decimal(v *float64) decimal.NullDecimal {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return decimal.NullDecimal{}
	}
	// NewFromFloat 取最短可往返的十进制表示，50.005 不会变成 50.00499...
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(*v).Round(SizePlaces), Valid: true}
}

// Stored 对库里读出的值再做一次同样的规整。
func Stored(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	return decimal.NullDecimal{Decimal: d.Decimal.Round(SizePlaces), Valid: true}
}

// PowerState 把非空值转成字符串；缺失保持 nil，绝不写入 "None" 之类的占位串。
func PowerState(v any) *string {
	if isNil(v) {
		return nil
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case *string:
		s = *x
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	if s == "" || s == "None" {
		return nil
	}
	return &s
}

// Date 只接受真正的时间值，统一为 UTC 并截断到微秒；其他类型（包括字符串）返回 nil。
func Date(v any) *time.Time {
	if isNil(v) {
		return nil
	}
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case *time.Time:
		t = *x
	default:
		return nil
	}
	if t.IsZero() {
		return nil
	}
	t = t.UTC().Truncate(time.Microsecond)
	return &t
}

// String 空串视为缺失。
func String(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// KBToGB 把 KB 换算成 GB 并保留两位小数。
func KBToGB(kb int64) float64 {
	gb := float64(kb) / (1024 * 1024)
	return math.Round(gb*100) / 100
}

// DiskKey 是磁盘集合比较所用的键。
type DiskKey struct {
	Label string
	Size  string
}

// NICKey 是网卡集合比较所用的键，IP 列表保持原有顺序。
type NICKey struct {
	Label     string
	MAC       string
	Network   string
	Connected bool
	NICType   string
	IPs       string
}

func diskKey(label string, size decimal.NullDecimal) DiskKey {
	k := DiskKey{Label: label}
	if size.Valid {
		k.Size = size.Decimal.StringFixed(SizePlaces)
	}
	return k
}

func ipTuple(ips []string) string {
	return strings.Join(ips, "\x1f")
}

// DiskKeysOfRecords 计算已持久化磁盘的比较键集合。
func DiskKeysOfRecords(disks []domain.Disk) map[DiskKey]struct{} {
	set := make(map[DiskKey]struct{}, len(disks))
	for _, d := range disks {
		set[diskKey(d.Label, Stored(d.SizeGB))] = struct{}{}
	}
	return set
}

// DiskKeysOfSnapshots 计算快照磁盘的比较键集合。
func DiskKeysOfSnapshots(disks []domain.DiskSnapshot) map[DiskKey]struct{} {
	set := make(map[DiskKey]struct{}, len(disks))
	for _, d := range disks {
		set[diskKey(d.Label, Decimal(d.SizeGB))] = struct{}{}
	}
	return set
}

// NICKeysOfRecords 计算已持久化网卡的比较键集合。
func NICKeysOfRecords(nics []domain.NIC) map[NICKey]struct{} {
	set := make(map[NICKey]struct{}, len(nics))
	for _, n := range nics {
		set[NICKey{n.Label, n.MAC, n.Network, n.Connected, n.NICType, ipTuple(n.IPAddresses)}] = struct{}{}
	}
	return set
}

// NICKeysOfSnapshots 计算快照网卡的比较键集合。
func NICKeysOfSnapshots(nics []domain.NICSnapshot) map[NICKey]struct{} {
	set := make(map[NICKey]struct{}, len(nics))
	for _, n := range nics {
		set[NICKey{n.Label, n.MAC, n.Network, n.Connected, n.NICType, ipTuple(n.IPAddresses)}] = struct{}{}
	}
	return set
}

// SameSet 判断两个键集合是否相等。
func SameSet[K comparable](a, b map[K]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
