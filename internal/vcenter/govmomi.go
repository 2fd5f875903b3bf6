// Package vcenter 基于 govmomi 实现 vSphere 端点的会话与 VM 读取。
package vcenter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"time"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"vminventory/internal/source"
)

var vmProperties = []string{"summary", "config", "guest"}

// Dialer 通过 SOAP SDK 登录 vCenter 或独立 ESXi。
type Dialer struct{}

// NewFetcher 返回以 govmomi 为后端的采集器。
func NewFetcher(timeout time.Duration, logger *zap.Logger) *source.Collector {
	return source.NewCollector(Dialer{}, timeout, logger)
}

func (Dialer) Dial(ctx context.Context, ep source.Endpoint) (source.Session, error) {
	u, err := soap.ParseURL(ep.Host)
	if err != nil {
		return nil, fmt.Errorf("解析 vCenter 地址失败: %w", err)
	}
	u.User = url.UserPassword(ep.Username, ep.Password)
	c, err := govmomi.NewClient(ctx, u, ep.Insecure)
	if err != nil {
		return nil, fmt.Errorf("登录 vCenter 失败: %w", err)
	}
	return &session{client: c, pc: property.DefaultCollector(c.Client), timeout: ep.Timeout}, nil
}

type session struct {
	client  *govmomi.Client
	pc      *property.Collector
	timeout time.Duration
}

func (s *session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *session) Datacenters(ctx context.Context) ([]source.Datacenter, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	finder := find.NewFinder(s.client.Client, true)
	dcs, err := finder.DatacenterList(ctx, "*")
	if err != nil {
		var nf *find.NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]source.Datacenter, 0, len(dcs))
	for _, dc := range dcs {
		out = append(out, &datacenter{s: s, dc: dc})
	}
	return out, nil
}

func (s *session) Close(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Logout(ctx)
}

type datacenter struct {
	s  *session
	dc *object.Datacenter
}

func (d *datacenter) Name() string { return d.dc.Name() }

// Networks 只收集分布式端口组，标准网络直接带有 DeviceName。
func (d *datacenter) Networks(ctx context.Context) (map[string]string, error) {
	ctx, cancel := d.s.withTimeout(ctx)
	defer cancel()
	var dc mo.Datacenter
	if err := d.s.pc.RetrieveOne(ctx, d.dc.Reference(), []string{"network"}, &dc); err != nil {
		return nil, fmt.Errorf("读取数据中心网络失败: %w", err)
	}
	var refs []types.ManagedObjectReference
	for _, ref := range dc.Network {
		if ref.Type == "DistributedVirtualPortgroup" {
			refs = append(refs, ref)
		}
	}
	out := make(map[string]string, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	var pgs []mo.DistributedVirtualPortgroup
	if err := d.s.pc.Retrieve(ctx, refs, []string{"key", "name"}, &pgs); err != nil {
		return nil, fmt.Errorf("读取端口组失败: %w", err)
	}
	for _, pg := range pgs {
		out[pg.Key] = pg.Name
	}
	return out, nil
}

func (d *datacenter) VMs(ctx context.Context) (source.VMView, error) {
	ctx, cancel := d.s.withTimeout(ctx)
	defer cancel()
	folders, err := d.dc.Folders(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取 VM 目录失败: %w", err)
	}
	m := view.NewManager(d.s.client.Client)
	v, err := m.CreateContainerView(ctx, folders.VmFolder.Reference(), []string{"VirtualMachine"}, true)
	if err != nil {
		return nil, fmt.Errorf("创建容器视图失败: %w", err)
	}
	refs, err := v.Find(ctx, []string{"VirtualMachine"}, nil)
	if err != nil {
		_ = v.Destroy(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("枚举 VM 失败: %w", err)
	}
	handles := make([]source.VMHandle, 0, len(refs))
	for _, ref := range refs {
		handles = append(handles, &vmHandle{s: d.s, ref: ref})
	}
	return &vmView{s: d.s, v: v, handles: handles}, nil
}

type vmView struct {
	s       *session
	v       *view.ContainerView
	handles []source.VMHandle
}

func (v *vmView) Handles() []source.VMHandle { return v.handles }

func (v *vmView) Destroy(ctx context.Context) error {
	ctx, cancel := v.s.withTimeout(ctx)
	defer cancel()
	return v.v.Destroy(ctx)
}

type vmHandle struct {
	s   *session
	ref types.ManagedObjectReference
}

func (h *vmHandle) Ref() string { return h.ref.Value }

func (h *vmHandle) Load(ctx context.Context) (source.RawVM, error) {
	ctx, cancel := h.s.withTimeout(ctx)
	defer cancel()
	var vm mo.VirtualMachine
	if err := h.s.pc.RetrieveOne(ctx, h.ref, vmProperties, &vm); err != nil {
		return source.RawVM{}, fmt.Errorf("读取 VM 属性失败: %w", err)
	}
	raw := convert(vm)
	if host := vm.Summary.Runtime.Host; host != nil {
		raw.Host = &hostResolver{s: h.s, ref: *host}
	}
	return raw, nil
}

// convert 只做字段搬运，规整留给 source.BuildSnapshot。
func convert(vm mo.VirtualMachine) source.RawVM {
	sc := vm.Summary.Config
	raw := source.RawVM{
		InstanceUUID: sc.InstanceUuid,
		Name:         sc.Name,
		NumCPU:       positive(sc.NumCpu),
		MemoryMB:     positive(sc.MemorySizeMB),
		GuestOS:      sc.GuestFullName,
		PowerState:   string(vm.Summary.Runtime.PowerState),
		BootTime:     vm.Summary.Runtime.BootTime,
	}
	if vm.Config != nil {
		raw.CreateDate = vm.Config.CreateDate
		for _, dev := range vm.Config.Hardware.Device {
			if disk, ok := dev.(*types.VirtualDisk); ok {
				raw.Disks = append(raw.Disks, source.RawDisk{Label: deviceLabel(disk.DeviceInfo), CapacityKB: disk.CapacityInKB})
				continue
			}
			if card, ok := dev.(types.BaseVirtualEthernetCard); ok {
				raw.NICs = append(raw.NICs, convertNIC(dev, card.GetVirtualEthernetCard()))
			}
		}
	}
	if vm.Guest != nil {
		for _, n := range vm.Guest.Net {
			raw.GuestNet = append(raw.GuestNet, source.RawGuestNet{MAC: n.MacAddress, IPs: n.IpAddress})
		}
	}
	return raw
}

func convertNIC(dev types.BaseVirtualDevice, card *types.VirtualEthernetCard) source.RawNIC {
	nic := source.RawNIC{
		Label: deviceLabel(card.DeviceInfo),
		MAC:   card.MacAddress,
		Type:  reflect.Indirect(reflect.ValueOf(dev)).Type().Name(),
	}
	if card.Connectable != nil {
		nic.Connected = card.Connectable.Connected
	}
	switch b := card.Backing.(type) {
	case *types.VirtualEthernetCardNetworkBackingInfo:
		name := b.DeviceName
		nic.DeviceName = &name
	case *types.VirtualEthernetCardDistributedVirtualPortBackingInfo:
		nic.PortgroupKey = b.Port.PortgroupKey
	}
	return nic
}

func deviceLabel(info types.BaseDescription) string {
	if info == nil {
		return ""
	}
	if d := info.GetDescription(); d != nil {
		return d.Label
	}
	return ""
}

func positive(v int32) *int {
	if v <= 0 {
		return nil
	}
	n := int(v)
	return &n
}

// hostResolver 读取宿主机名称，失败时退化为引用字符串。
type hostResolver struct {
	s   *session
	ref types.ManagedObjectReference
}

func (r *hostResolver) Resolve(ctx context.Context) (name *string) {
	fallback := r.ref.String()
	defer func() {
		if recover() != nil {
			name = &fallback
		}
	}()
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var host mo.HostSystem
	if err := r.s.pc.RetrieveOne(ctx, r.ref, []string{"name"}, &host); err != nil || host.Name == "" {
		return &fallback
	}
	return &host.Name
}
