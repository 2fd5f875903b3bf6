package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vminventory/internal/domain"
	"vminventory/internal/normalize"
)

// DefaultTimeout 单次连接的超时。
const DefaultTimeout = 30 * time.Second

// Collector 通过 Dialer 枚举所有数据中心的 VM 并构造快照。
type Collector struct {
	dialer  Dialer
	timeout time.Duration
	logger  *zap.Logger
}

// NewCollector 创建采集器，timeout<=0 时使用 DefaultTimeout。
func NewCollector(dialer Dialer, timeout time.Duration, logger *zap.Logger) *Collector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{dialer: dialer, timeout: timeout, logger: logger}
}

// TestConnection 建立会话后立即关闭。
func (c *Collector) TestConnection(ctx context.Context, p domain.Profile) error {
	sess, err := c.connect(ctx, p)
	if err != nil {
		return err
	}
	if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("close session failed", zap.String("host", p.Host), zap.Error(err))
	}
	return nil
}

// Fetch 拉取端点下的全部 VM。单台 VM 出错只记录日志并跳过；
// 单个数据中心无法枚举时跳过该数据中心。
func (c *Collector) Fetch(ctx context.Context, p domain.Profile) ([]domain.VMSnapshot, error) {
	sess, err := c.connect(ctx, p)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("close session failed", zap.String("host", p.Host), zap.Error(err))
		}
	}()

	dcs, err := sess.Datacenters(ctx)
	if err != nil {
		return nil, &domain.ConnectionError{Host: p.Host, Err: fmt.Errorf("列出数据中心失败: %w", err)}
	}

	var out []domain.VMSnapshot
	for _, dc := range dcs {
		snaps, err := c.collectDatacenter(ctx, dc)
		if err != nil {
			c.logger.Error("enumerate datacenter failed", zap.String("host", p.Host), zap.String("datacenter", dc.Name()), zap.Error(err))
			continue
		}
		out = append(out, snaps...)
	}
	c.logger.Info("fetched VMs", zap.String("profile", p.Name), zap.Int("datacenters", len(dcs)), zap.Int("vms", len(out)))
	return out, nil
}

// connect 按配置选择是否校验证书；校验失败时仅回退一次到不校验。
func (c *Collector) connect(ctx context.Context, p domain.Profile) (Session, error) {
	ep := Endpoint{
		Host:     p.Host,
		Username: p.Username,
		Password: p.Password,
		Insecure: p.DisableSSL,
		Timeout:  c.timeout,
	}
	sess, err := c.dial(ctx, ep)
	if err == nil {
		return sess, nil
	}
	if ep.Insecure {
		return nil, &domain.ConnectionError{Host: p.Host, Err: err}
	}
	c.logger.Warn("verified connection failed, retrying without certificate verification",
		zap.String("host", p.Host), zap.Error(err))
	ep.Insecure = true
	sess, err = c.dial(ctx, ep)
	if err != nil {
		return nil, &domain.ConnectionError{Host: p.Host, Err: err}
	}
	return sess, nil
}

func (c *Collector) dial(ctx context.Context, ep Endpoint) (Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.dialer.Dial(dialCtx, ep)
}

func (c *Collector) collectDatacenter(ctx context.Context, dc Datacenter) ([]domain.VMSnapshot, error) {
	networks, err := dc.Networks(ctx)
	if err != nil {
		c.logger.Warn("list networks failed, portgroup names unresolved", zap.String("datacenter", dc.Name()), zap.Error(err))
		networks = nil
	}
	view, err := dc.VMs(ctx)
	if err != nil {
		return nil, fmt.Errorf("创建 VM 视图失败: %w", err)
	}
	defer func() {
		if err := view.Destroy(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("destroy view failed", zap.String("datacenter", dc.Name()), zap.Error(err))
		}
	}()

	handles := view.Handles()
	out := make([]domain.VMSnapshot, 0, len(handles))
	for _, h := range handles {
		snap, err := c.collectVM(ctx, dc.Name(), networks, h)
		if err != nil {
			c.logger.Error("skip VM", zap.String("datacenter", dc.Name()), zap.String("ref", h.Ref()), zap.Error(err))
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (c *Collector) collectVM(ctx context.Context, dcName string, networks map[string]string, h VMHandle) (snap domain.VMSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.ItemError{Datacenter: dcName, VM: h.Ref(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	raw, err := h.Load(ctx)
	if err != nil {
		return domain.VMSnapshot{}, &domain.ItemError{Datacenter: dcName, VM: h.Ref(), Err: err}
	}
	return BuildSnapshot(ctx, raw, networks), nil
}

// BuildSnapshot 把源端原始数据转换成快照。
func BuildSnapshot(ctx context.Context, raw RawVM, networks map[string]string) domain.VMSnapshot {
	snap := domain.VMSnapshot{
		ID:             raw.InstanceUUID,
		Name:           raw.Name,
		CPU:            raw.NumCPU,
		MemoryMB:       raw.MemoryMB,
		GuestOS:        normalize.String(raw.GuestOS),
		PowerState:     normalize.PowerState(raw.PowerState),
		CreatedDate:    normalize.Date(raw.CreateDate),
		LastBootedDate: normalize.Date(raw.BootTime),
	}
	if raw.Host != nil {
		snap.Hypervisor = raw.Host.Resolve(ctx)
	}

	ipsByMAC := make(map[string][]string, len(raw.GuestNet))
	for _, g := range raw.GuestNet {
		if g.MAC != "" {
			ipsByMAC[g.MAC] = g.IPs
		}
	}
	snap.NICs = make([]domain.NICSnapshot, 0, len(raw.NICs))
	for i, n := range raw.NICs {
		nic := domain.NICSnapshot{
			Label:     n.Label,
			MAC:       n.MAC,
			Network:   networkName(n, networks),
			Connected: n.Connected,
			NICType:   n.Type,
		}
		if ips, ok := ipsByMAC[n.MAC]; ok && n.MAC != "" {
			nic.IPAddresses = append([]string(nil), ips...)
		} else if i < len(raw.GuestNet) {
			// 按下标对应，设备顺序与 guest 上报顺序不一致时可能错配
			nic.IPAddresses = append([]string(nil), raw.GuestNet[i].IPs...)
		}
		snap.NICs = append(snap.NICs, nic)
	}

	snap.Disks = make([]domain.DiskSnapshot, 0, len(raw.Disks))
	for _, d := range raw.Disks {
		size := normalize.KBToGB(d.CapacityKB)
		snap.Disks = append(snap.Disks, domain.DiskSnapshot{Label: d.Label, SizeGB: &size})
	}
	return snap
}

func networkName(n RawNIC, networks map[string]string) string {
	if n.DeviceName != nil && *n.DeviceName != "" {
		return *n.DeviceName
	}
	if n.PortgroupKey != "" {
		return networks[n.PortgroupKey]
	}
	return ""
}
