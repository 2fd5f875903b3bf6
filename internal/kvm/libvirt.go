// Package kvm 通过 libvirt 读取 KVM 宿主机上的虚拟机，作为 vCenter 之外的第二种库存来源。
package kvm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"

	"vminventory/internal/source"
)

// Dialer 连接 libvirtd。Host 不带 scheme 时按 qemu+tls://host/system 处理。
type Dialer struct{}

// NewFetcher 返回以 libvirt 为后端的采集器。
func NewFetcher(timeout time.Duration, logger *zap.Logger) *source.Collector {
	return source.NewCollector(Dialer{}, timeout, logger)
}

// URI 根据端点构造连接串，Insecure 时关闭证书校验。
func URI(ep source.Endpoint) string {
	uri := ep.Host
	if !strings.Contains(uri, "://") {
		uri = "qemu+tls://" + uri + "/system"
	}
	if ep.Insecure && strings.Contains(uri, "+tls://") && !strings.Contains(uri, "no_verify=") {
		sep := "?"
		if strings.Contains(uri, "?") {
			sep = "&"
		}
		uri += sep + "no_verify=1"
	}
	return uri
}

type dialResult struct {
	conn *libvirt.Connect
	err  error
}

func (Dialer) Dial(ctx context.Context, ep source.Endpoint) (source.Session, error) {
	auth := &libvirt.ConnectAuth{
		CredType: []libvirt.ConnectCredentialType{libvirt.CRED_AUTHNAME, libvirt.CRED_PASSPHRASE},
		Callback: func(creds []*libvirt.ConnectCredential) {
			for _, c := range creds {
				switch c.Type {
				case libvirt.CRED_AUTHNAME:
					c.Result, c.ResultLen = ep.Username, len(ep.Username)
				case libvirt.CRED_PASSPHRASE:
					c.Result, c.ResultLen = ep.Password, len(ep.Password)
				}
			}
		},
	}
	uri := URI(ep)
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := libvirt.NewConnectWithAuth(uri, auth, 0)
		ch <- dialResult{conn: conn, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("连接 libvirt %s 失败: %w", uri, r.err)
		}
		return &session{conn: r.conn, uri: uri}, nil
	case <-ctx.Done():
		// 连接晚到时关闭，避免泄漏
		go func() {
			if r := <-ch; r.conn != nil {
				_, _ = r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("连接 libvirt %s 超时: %w", uri, ctx.Err())
	}
}

type session struct {
	conn *libvirt.Connect
	uri  string
}

// Datacenters 把整台宿主机视为唯一的数据中心。
func (s *session) Datacenters(context.Context) ([]source.Datacenter, error) {
	host, err := s.conn.GetHostname()
	if err != nil {
		host = s.uri
	}
	return []source.Datacenter{&hostDC{conn: s.conn, host: host}}, nil
}

func (s *session) Close(context.Context) error {
	_, err := s.conn.Close()
	return err
}

type hostDC struct {
	conn *libvirt.Connect
	host string
}

func (d *hostDC) Name() string { return d.host }

// Networks 为空，libvirt 网卡直接带有网络或网桥名称。
func (d *hostDC) Networks(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (d *hostDC) VMs(context.Context) (source.VMView, error) {
	doms, err := d.conn.ListAllDomains(0)
	if err != nil {
		return nil, fmt.Errorf("列出 domain 失败: %w", err)
	}
	v := &domainView{doms: doms}
	for i := range doms {
		name, err := doms[i].GetName()
		if err != nil {
			name = fmt.Sprintf("domain-%d", i)
		}
		v.handles = append(v.handles, &domainHandle{dom: &doms[i], name: name, host: d.host})
	}
	return v, nil
}

type domainView struct {
	doms    []libvirt.Domain
	handles []source.VMHandle
}

func (v *domainView) Handles() []source.VMHandle { return v.handles }

func (v *domainView) Destroy(context.Context) error {
	var firstErr error
	for i := range v.doms {
		if err := v.doms[i].Free(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type domainHandle struct {
	dom  *libvirt.Domain
	name string
	host string
}

func (h *domainHandle) Ref() string { return h.name }

func (h *domainHandle) Load(context.Context) (source.RawVM, error) {
	desc, err := h.dom.GetXMLDesc(0)
	if err != nil {
		return source.RawVM{}, fmt.Errorf("读取 domain XML 失败: %w", err)
	}
	var def libvirtxml.Domain
	if err := def.Unmarshal(desc); err != nil {
		return source.RawVM{}, fmt.Errorf("解析 domain XML 失败: %w", err)
	}
	state, _, err := h.dom.GetState()
	if err != nil {
		return source.RawVM{}, fmt.Errorf("读取 domain 状态失败: %w", err)
	}

	sizes := make(map[string]uint64)
	if def.Devices != nil {
		for _, d := range def.Devices.Disks {
			if d.Target == nil || !isDisk(d) {
				continue
			}
			if info, err := h.dom.GetBlockInfo(d.Target.Dev, 0); err == nil {
				sizes[d.Target.Dev] = info.Capacity
			}
		}
	}

	var (
		addrs   []libvirt.DomainInterface
		guestOS string
	)
	if state == libvirt.DOMAIN_RUNNING {
		// 只对运行中的 domain 查询租约与 guest agent，失败不影响其他字段
		addrs, _ = h.dom.ListAllInterfaceAddresses(libvirt.DOMAIN_INTERFACE_ADDRESSES_SRC_LEASE)
		if info, err := h.dom.GetGuestInfo(libvirt.DOMAIN_GUEST_INFO_OS, 0); err == nil && info.OS != nil {
			guestOS = info.OS.PrettyName
		}
	}

	raw := convertDomain(&def, state, addrs, sizes)
	raw.GuestOS = guestOS
	raw.Host = source.StaticHostName(h.host)
	return raw, nil
}

func convertDomain(def *libvirtxml.Domain, state libvirt.DomainState, addrs []libvirt.DomainInterface, sizes map[string]uint64) source.RawVM {
	raw := source.RawVM{
		InstanceUUID: def.UUID,
		Name:         def.Name,
		PowerState:   powerState(state),
	}
	if def.VCPU != nil && def.VCPU.Value > 0 {
		n := int(def.VCPU.Value)
		raw.NumCPU = &n
	}
	if def.Memory != nil {
		if mb := memoryMB(def.Memory.Value, def.Memory.Unit); mb > 0 {
			raw.MemoryMB = &mb
		}
	}
	if def.Devices == nil {
		return raw
	}
	for _, d := range def.Devices.Disks {
		if d.Target == nil || !isDisk(d) {
			continue
		}
		raw.Disks = append(raw.Disks, source.RawDisk{Label: d.Target.Dev, CapacityKB: int64(sizes[d.Target.Dev] / 1024)})
	}
	for i, iface := range def.Devices.Interfaces {
		raw.NICs = append(raw.NICs, convertInterface(i, iface))
	}
	for _, a := range addrs {
		g := source.RawGuestNet{MAC: a.Hwaddr}
		for _, ip := range a.Addrs {
			g.IPs = append(g.IPs, ip.Addr)
		}
		raw.GuestNet = append(raw.GuestNet, g)
	}
	return raw
}

func convertInterface(i int, iface libvirtxml.DomainInterface) source.RawNIC {
	nic := source.RawNIC{Label: fmt.Sprintf("net%d", i), Connected: true}
	if iface.Alias != nil && iface.Alias.Name != "" {
		nic.Label = iface.Alias.Name
	}
	if iface.MAC != nil {
		nic.MAC = iface.MAC.Address
	}
	if iface.Model != nil {
		nic.Type = iface.Model.Type
	}
	if iface.Link != nil && iface.Link.State == "down" {
		nic.Connected = false
	}
	if src := iface.Source; src != nil {
		var name string
		switch {
		case src.Network != nil:
			name = src.Network.Network
		case src.Bridge != nil:
			name = src.Bridge.Bridge
		case src.Direct != nil:
			name = src.Direct.Dev
		}
		if name != "" {
			nic.DeviceName = &name
		}
	}
	return nic
}

func isDisk(d libvirtxml.DomainDisk) bool {
	return d.Device == "" || d.Device == "disk"
}

func powerState(s libvirt.DomainState) string {
	switch s {
	case libvirt.DOMAIN_RUNNING:
		return "poweredOn"
	case libvirt.DOMAIN_SHUTOFF, libvirt.DOMAIN_SHUTDOWN, libvirt.DOMAIN_CRASHED:
		return "poweredOff"
	case libvirt.DOMAIN_PAUSED, libvirt.DOMAIN_PMSUSPENDED:
		return "suspended"
	}
	return ""
}

func memoryMB(value uint, unit string) int {
	switch strings.ToLower(unit) {
	case "b", "bytes":
		return int(value / (1024 * 1024))
	case "mib", "m":
		return int(value)
	case "gib", "g":
		return int(value * 1024)
	default:
		// libvirt 默认单位为 KiB
		return int(value / 1024)
	}
}
