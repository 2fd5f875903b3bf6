package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProfileKindVCenter = "vcenter"
	ProfileKindLibvirt = "libvirt"
)

// Profile 是一个虚拟化管理端点的连接配置。
type Profile struct {
	ID         int64  `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	Kind       string `db:"kind" json:"kind"`
	Host       string `db:"host" json:"host"`
	Username   string `db:"username" json:"username"`
	Password   string `db:"password" json:"-"`
	DisableSSL bool   `db:"disable_ssl" json:"disable_ssl"`
	Enabled    bool   `db:"enabled" json:"enabled"`
}

// VM 是持久化的虚拟机记录，ID 为源端下发的 instance uuid。
type VM struct {
	ID             string     `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	CPU            *int       `db:"cpu" json:"cpu"`
	MemoryMB       *int       `db:"memory_mb" json:"memory_mb"`
	GuestOS        *string    `db:"guest_os" json:"guest_os"`
	PowerState     *string    `db:"power_state" json:"power_state"`
	CreatedDate    *time.Time `db:"created_date" json:"created_date"`
	LastBootedDate *time.Time `db:"last_booted_date" json:"last_booted_date"`
	Hypervisor     *string    `db:"hypervisor" json:"hypervisor"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`

	Disks  []Disk  `db:"-" json:"disks"`
	NICs   []NIC   `db:"-" json:"nics"`
	Owners []Owner `db:"-" json:"owners"`
	Tags   []Tag   `db:"-" json:"tags"`
}

// Disk 属于某台 VM，随 VM 级联删除。
type Disk struct {
	ID     int64               `db:"id" json:"id"`
	VMID   string              `db:"vm_id" json:"-"`
	Label  string              `db:"label" json:"label"`
	SizeGB decimal.NullDecimal `db:"size_gb" json:"size_gb"`
}

// NIC 属于某台 VM，随 VM 级联删除。
type NIC struct {
	ID          int64    `db:"id" json:"id"`
	VMID        string   `db:"vm_id" json:"-"`
	Label       string   `db:"label" json:"label"`
	MAC         string   `db:"mac" json:"mac"`
	Network     string   `db:"network" json:"network"`
	Connected   bool     `db:"connected" json:"connected"`
	NICType     string   `db:"nic_type" json:"nic_type"`
	IPAddresses []string `db:"-" json:"ip_addresses"`
}

// Owner 由用户维护，同步流程不会创建或删除。
type Owner struct {
	ID         int64  `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	Email      string `db:"email" json:"email"`
	Department string `db:"department" json:"department"`
}

// Tag 由用户维护，同步流程不会创建或删除。
type Tag struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
}

// VMSnapshot 是一次拉取得到的 VM 视图，由 Fetcher 构造，下游只读。
type VMSnapshot struct {
	ID             string
	Name           string
	CPU            *int
	MemoryMB       *int
	GuestOS        *string
	PowerState     *string
	CreatedDate    *time.Time
	LastBootedDate *time.Time
	Hypervisor     *string
	Disks          []DiskSnapshot
	NICs           []NICSnapshot
}

// DiskSnapshot 磁盘快照，SizeGB 已换算为 GB。
type DiskSnapshot struct {
	Label  string
	SizeGB *float64
}

// NICSnapshot 网卡快照。
type NICSnapshot struct {
	Label       string
	MAC         string
	Network     string
	Connected   bool
	NICType     string
	IPAddresses []string
}

// Summary 是报表页使用的电源状态汇总。
type Summary struct {
	Total      int `db:"total" json:"total_vms"`
	PoweredOn  int `db:"powered_on" json:"powered_on"`
	PoweredOff int `db:"powered_off" json:"powered_off"`
	Other      int `db:"other" json:"other"`
}

const (
	PowerStateOn  = "poweredOn"
	PowerStateOff = "poweredOff"
)
