package source

import (
	"context"
	"time"
)

// Endpoint 是一次连接所需的地址与凭据。
type Endpoint struct {
	Host     string
	Username string
	Password string
	// Insecure 为 true 时跳过证书校验。
	Insecure bool
	Timeout  time.Duration
}

// Dialer 建立到虚拟化管理端点的会话。
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Session, error)
}

// Session 是已登录的管理端会话，使用完毕必须 Close。
type Session interface {
	// Datacenters 列出所有带 VM 目录的数据中心。
	Datacenters(ctx context.Context) ([]Datacenter, error)
	Close(ctx context.Context) error
}

// Datacenter 是 VM 的组织容器。
type Datacenter interface {
	Name() string
	// Networks 返回 portgroup key 到网络名称的映射。
	Networks(ctx context.Context) (map[string]string, error)
	// VMs 创建覆盖全部 VM 的递归视图，调用方负责 Destroy。
	VMs(ctx context.Context) (VMView, error)
}

// VMView 是一次枚举持有的服务端视图。
type VMView interface {
	Handles() []VMHandle
	Destroy(ctx context.Context) error
}

// VMHandle 是单台 VM 的不透明句柄。
type VMHandle interface {
	Ref() string
	Load(ctx context.Context) (RawVM, error)
}

// HostNameResolver 尽力解析宿主机名称，不返回错误也不 panic。
type HostNameResolver interface {
	Resolve(ctx context.Context) *string
}

// StaticHostName 直接返回固定名称，空串视为缺失。
type StaticHostName string

func (s StaticHostName) Resolve(context.Context) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}

// RawVM 是源端返回的未规整数据。
type RawVM struct {
	InstanceUUID string
	Name         string
	NumCPU       *int
	MemoryMB     *int
	GuestOS      string
	PowerState   string
	CreateDate   *time.Time
	BootTime     *time.Time
	Host         HostNameResolver
	NICs         []RawNIC
	GuestNet     []RawGuestNet
	Disks        []RawDisk
}

// RawNIC 的网络名称优先取 DeviceName，缺失时用 PortgroupKey 反查。
type RawNIC struct {
	Label        string
	MAC          string
	DeviceName   *string
	PortgroupKey string
	Connected    bool
	Type         string
}

// RawGuestNet 是 guest tools 上报的单块网卡地址。
type RawGuestNet struct {
	MAC string
	IPs []string
}

// RawDisk 的容量单位为 KB。
type RawDisk struct {
	Label      string
	CapacityKB int64
}
