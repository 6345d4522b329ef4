// Package netif provides the cross-platform network-interface view
// the runtime needs: addresses, netmasks, flags, hardware addresses,
// and the peer-address-to-owning-interface matching that the SSDP and
// GENA engines use to bind sockets, rewrite URLs, and fill HOST
// headers.
//
// Enumeration goes through the standard library's net package rather
// than github.com/shirou/gopsutil/v3 (kept in go.mod and used by
// internal/diag for CPU/memory stats): gopsutil's net.Interfaces()
// reports names, MTU and flags but not the per-address netmask or a
// usable integer scope id, both of which the subnet-match and IPv6
// zone logic below require. Raw net.UDPConn/golang.org/x/sys/unix
// calls are used directly wherever socket-level control matters,
// rather than through a wrapper library.
package netif

import (
	"fmt"
	"net"
	"strings"
)

// Flags is a bitmask of the interface properties the interface model lists.
type Flags uint32

const (
	Up Flags = 1 << iota
	Loopback
	Multicast
	HasIPv4
	HasIPv6
	HasHWAddr
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// AddrMask pairs an interface address with its netmask.
type AddrMask struct {
	Addr net.IP
	Mask net.IPMask
}

// Interface is one enumerated network interface.
type Interface struct {
	Name         string
	FriendlyName string
	Index        int
	Flags        Flags
	HWAddr       net.HardwareAddr
	Addrs        []AddrMask
}

// HWAddrHex renders the hardware address as colon-separated hex, or
// "" if the interface has none (the interface model).
func (i Interface) HWAddrHex() string {
	if len(i.HWAddr) == 0 {
		return ""
	}
	return i.HWAddr.String()
}

// firstIPv4 returns the interface's first IPv4 address, if any.
func (i Interface) firstIPv4() (AddrMask, bool) {
	for _, a := range i.Addrs {
		if a.Addr.To4() != nil {
			return a, true
		}
	}
	return AddrMask{}, false
}

// firstLinkLocalIPv6 returns the interface's first link-local IPv6
// address, if any.
func (i Interface) firstLinkLocalIPv6() (net.IP, bool) {
	for _, a := range i.Addrs {
		if a.Addr.To4() == nil && a.Addr.IsLinkLocalUnicast() {
			return a.Addr, true
		}
	}
	return nil, false
}

// Filter selects interfaces whose Flags contain every bit in Needs
// and none of the bits in Rejects.
type Filter struct {
	Needs   Flags
	Rejects Flags
}

func (f Filter) matches(flags Flags) bool {
	if flags&f.Needs != f.Needs {
		return false
	}
	if flags&f.Rejects != 0 {
		return false
	}
	return true
}

// Set is a refreshable, ordered collection of interfaces.
type Set struct {
	interfaces []Interface
}

// NewSet builds a Set by refreshing immediately.
func NewSet() (*Set, error) {
	s := &Set{}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh rebuilds the interface list from the OS. Idempotent.
func (s *Set) Refresh() error {
	raw, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("netif: enumerate interfaces: %w", err)
	}

	out := make([]Interface, 0, len(raw))
	for _, ri := range raw {
		iface := Interface{
			Name:         ri.Name,
			FriendlyName: ri.Name,
			Index:        ri.Index,
			HWAddr:       ri.HardwareAddr,
		}
		if ri.Flags&net.FlagUp != 0 {
			iface.Flags |= Up
		}
		if ri.Flags&net.FlagLoopback != 0 {
			iface.Flags |= Loopback
		}
		if ri.Flags&net.FlagMulticast != 0 {
			iface.Flags |= Multicast
		}
		if hasNonZero(ri.HardwareAddr) {
			iface.Flags |= HasHWAddr
		}

		addrs, err := ri.Addrs()
		if err == nil {
			for _, a := range addrs {
				ipNet, ok := a.(*net.IPNet)
				if !ok {
					continue
				}
				iface.Addrs = append(iface.Addrs, AddrMask{Addr: ipNet.IP, Mask: ipNet.Mask})
				if ipNet.IP.To4() != nil {
					iface.Flags |= HasIPv4
				} else {
					iface.Flags |= HasIPv6
				}
			}
		}

		out = append(out, iface)
	}

	s.interfaces = out
	return nil
}

func hasNonZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return true
		}
	}
	return false
}

// All returns every currently known interface.
func (s *Set) All() []Interface {
	return s.interfaces
}

// FindByName looks up an interface by kernel name or friendly name.
func (s *Set) FindByName(name string) (Interface, bool) {
	for _, i := range s.interfaces {
		if i.Name == name || i.FriendlyName == name {
			return i, true
		}
	}
	return Interface{}, false
}

// Select returns every interface matching filter.
func (s *Set) Select(filter Filter) []Interface {
	out := make([]Interface, 0, len(s.interfaces))
	for _, i := range s.interfaces {
		if filter.matches(i.Flags) {
			out = append(out, i)
		}
	}
	return out
}

// InterfaceForAddress implements the interface model's peer-to-interface
// match: IPv4 uses subnet containment (with the single-interface,
// all-ones-mask escape hatch for jailed hosts); IPv6 falls back to
// the IPv4 path for v4-mapped peers, otherwise returns the first
// IPv6-capable interface with a link-local address. A net.IP carries
// no zone, so no scope-id match happens here; InterfaceForScopeID
// does that.
func (s *Set) InterfaceForAddress(peer net.IP) (Interface, net.IP, error) {
	if v4 := peer.To4(); v4 != nil {
		return s.interfaceForIPv4(v4)
	}
	return s.interfaceForIPv6(peer)
}

func (s *Set) interfaceForIPv4(peer net.IP) (Interface, net.IP, error) {
	v4Capable := s.Select(Filter{Needs: HasIPv4})

	if len(v4Capable) == 1 {
		if am, ok := v4Capable[0].firstIPv4(); ok {
			ones, bits := am.Mask.Size()
			if ones == bits {
				return v4Capable[0], am.Addr, nil
			}
		}
	}

	for _, iface := range v4Capable {
		for _, a := range iface.Addrs {
			v4 := a.Addr.To4()
			if v4 == nil {
				continue
			}
			if sameSubnet(v4, peer, a.Mask) {
				return iface, v4, nil
			}
		}
	}

	return Interface{}, nil, fmt.Errorf("netif: no interface for peer %s", peer)
}

func sameSubnet(local, peer net.IP, mask net.IPMask) bool {
	if len(mask) != net.IPv4len || len(local) < net.IPv4len || len(peer) < net.IPv4len {
		return false
	}
	for i := 0; i < net.IPv4len; i++ {
		if local[i]&mask[i] != peer[i]&mask[i] {
			return false
		}
	}
	return true
}

// scopeID parses a numeric zone string such as "3" (the part after
// '%' in "fe80::1%3"), returning 0 if it is empty or not numeric.
func scopeID(zone string) int {
	if zone == "" {
		return 0
	}
	n := 0
	for _, r := range zone {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func (s *Set) interfaceForIPv6(peer net.IP) (Interface, net.IP, error) {
	if v4 := peer.To4(); v4 != nil {
		return s.interfaceForIPv4(v4)
	}

	v6Capable := s.Select(Filter{Needs: HasIPv6})
	if len(v6Capable) == 0 {
		return Interface{}, nil, fmt.Errorf("netif: no IPv6-capable interface")
	}

	// net.IP carries no zone of its own (that lives on net.UDPAddr); a
	// caller holding the UDPAddr should use InterfaceForScopeID instead,
	// which matches on the zone string directly.
	for _, iface := range v6Capable {
		if local, ok := iface.firstLinkLocalIPv6(); ok {
			return iface, local, nil
		}
	}
	return Interface{}, nil, fmt.Errorf("netif: no link-local IPv6 address available")
}

// InterfaceForScopeID matches by scope id (interface index) the way
// an inbound UDPAddr.Zone does: when zone is non-empty and numeric, it
// is the authoritative selector; otherwise the first IPv6-capable
// interface is used.
func (s *Set) InterfaceForScopeID(zone string) (Interface, net.IP, error) {
	if idx := scopeID(zone); idx != 0 {
		for _, iface := range s.interfaces {
			if iface.Index == idx {
				if local, ok := iface.firstLinkLocalIPv6(); ok {
					return iface, local, nil
				}
			}
		}
	}
	for _, iface := range s.Select(Filter{Needs: HasIPv6}) {
		if local, ok := iface.firstLinkLocalIPv6(); ok {
			return iface, local, nil
		}
	}
	return Interface{}, nil, fmt.Errorf("netif: no IPv6-capable interface for zone %q", zone)
}

// RenderLinkLocalURL rewrites a URL's host to add the IPv6 zone
// suffix, using %25N ("%25" being the URL-escaped '%') when urlForm
// is true and plain %N otherwise, per the interface model.
func RenderLinkLocalURL(rawURL string, scope int, urlForm bool) string {
	if scope == 0 {
		return rawURL
	}
	open := strings.Index(rawURL, "[")
	close := strings.Index(rawURL, "]")
	if open < 0 || close < 0 || close < open {
		return rawURL
	}
	sep := "%"
	if urlForm {
		sep = "%25"
	}
	return rawURL[:close] + sep + fmt.Sprintf("%d", scope) + rawURL[close:]
}
