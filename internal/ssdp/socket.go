package ssdp

import (
	"context"
	"errors"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/jroosing/upnpkit/internal/netif"
)

// MaxDatagramSize is the UDP receive buffer ceiling; larger datagrams
// are truncated and null-terminated.
const MaxDatagramSize = 2500

const (
	ipv4TTL  = 4
	ipv6Hops = 1
)

// Sockets holds the engine's multicast listeners and unicast egress
// sockets for both address families, using an SO_REUSEPORT dial
// pattern to join multicast groups rather than load-balance unicast
// load.
type Sockets struct {
	V4Listener *ipv4.PacketConn
	v4Conn     *net.UDPConn
	V4Egress   *ipv4.PacketConn
	v4EgressConn *net.UDPConn

	V6Listener *ipv6.PacketConn
	v6Conn     *net.UDPConn
	V6Egress   *ipv6.PacketConn
	v6EgressConn *net.UDPConn
}

func reusableListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctrlErr = err
					return
				}
				// SO_REUSEPORT lets multiple processes (or multiple
				// Sockets instances, e.g. in tests) bind :1900
				// concurrently; BSD/Linux both support it.
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
}

// OpenV4 binds the IPv4 multicast listener to ANY:1900 and joins
// 239.255.255.250 on every interface returned by joinOn.
func OpenV4(ctx context.Context, joinOn []netif.Interface) (*ipv4.PacketConn, *net.UDPConn, error) {
	lc := reusableListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", ":1900")
	if err != nil {
		return nil, nil, err
	}
	conn := pc.(*net.UDPConn)
	p4 := ipv4.NewPacketConn(conn)

	group := net.ParseIP(GroupIPv4)
	joined := 0
	for _, iface := range joinOn {
		osIface, err := net.InterfaceByIndex(iface.Index)
		if err != nil {
			continue
		}
		if err := p4.JoinGroup(osIface, &net.UDPAddr{IP: group}); err == nil {
			joined++
		}
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, nil, errors.New("ssdp: failed to join IPv4 multicast group on any interface")
	}
	_ = p4.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true)

	return p4, conn, nil
}

// OpenV6 binds the IPv6 multicast listener to [::]:1900 with
// IPV6_V6ONLY set and joins FF02::C (link-local) on every interface in
// joinOn, plus FF05::C (site-local) when includeSiteLocal is true.
func OpenV6(ctx context.Context, joinOn []netif.Interface, includeSiteLocal bool) (*ipv6.PacketConn, *net.UDPConn, error) {
	lc := reusableListenConfig()
	lc.Control = chain(lc.Control, setV6Only)

	pc, err := lc.ListenPacket(ctx, "udp6", ":1900")
	if err != nil {
		return nil, nil, err
	}
	conn := pc.(*net.UDPConn)
	p6 := ipv6.NewPacketConn(conn)

	groups := []string{GroupIPv6Link}
	if includeSiteLocal {
		groups = append(groups, GroupIPv6Site)
	}

	joined := 0
	for _, iface := range joinOn {
		osIface, err := net.InterfaceByIndex(iface.Index)
		if err != nil {
			continue
		}
		for _, g := range groups {
			if err := p6.JoinGroup(osIface, &net.UDPAddr{IP: net.ParseIP(g)}); err == nil {
				joined++
			}
		}
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, nil, errors.New("ssdp: failed to join IPv6 multicast group on any interface")
	}
	_ = p6.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true)

	return p6, conn, nil
}

func setV6Only(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

func chain(fns ...func(network, address string, c syscall.RawConn) error) func(string, string, syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(network, address, c); err != nil {
				return err
			}
		}
		return nil
	}
}

// OpenV4Egress opens a non-blocking unicast UDP4 socket used to
// transmit M-SEARCH and advertisement datagrams, with TTL=4 per
// the discovery protocol.
func OpenV4Egress(ctx context.Context) (*ipv4.PacketConn, *net.UDPConn, error) {
	pc, err := (&net.ListenConfig{}).ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, nil, err
	}
	conn := pc.(*net.UDPConn)
	p4 := ipv4.NewPacketConn(conn)
	_ = p4.SetMulticastTTL(ipv4TTL)
	return p4, conn, nil
}

// OpenV6Egress opens a non-blocking unicast UDP6 egress socket with
// hop limit 1, per the discovery protocol.
func OpenV6Egress(ctx context.Context) (*ipv6.PacketConn, *net.UDPConn, error) {
	pc, err := (&net.ListenConfig{}).ListenPacket(ctx, "udp6", ":0")
	if err != nil {
		return nil, nil, err
	}
	conn := pc.(*net.UDPConn)
	p6 := ipv6.NewPacketConn(conn)
	_ = p6.SetMulticastHopLimit(ipv6Hops)
	return p6, conn, nil
}

// NewSockets opens the full socket set for one engine instance: an
// IPv4 multicast listener joined on every interface in joinOn, an
// IPv4 unicast egress socket, and (when enableIPv6) the IPv6
// counterparts.
func NewSockets(ctx context.Context, joinOn []netif.Interface, enableIPv6, enableSiteLocal bool) (*Sockets, error) {
	s := &Sockets{}

	v4l, v4c, err := OpenV4(ctx, joinOn)
	if err != nil {
		return nil, err
	}
	s.V4Listener, s.v4Conn = v4l, v4c

	v4e, v4ec, err := OpenV4Egress(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.V4Egress, s.v4EgressConn = v4e, v4ec

	if !enableIPv6 {
		return s, nil
	}

	v6l, v6c, err := OpenV6(ctx, joinOn, enableSiteLocal)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.V6Listener, s.v6Conn = v6l, v6c

	v6e, v6ec, err := OpenV6Egress(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.V6Egress, s.v6EgressConn = v6e, v6ec

	return s, nil
}

// Close shuts down every socket held by s, tolerating any that were
// never opened.
func (s *Sockets) Close() {
	for _, c := range []*net.UDPConn{s.v4Conn, s.v4EgressConn, s.v6Conn, s.v6EgressConn} {
		if c != nil {
			_ = c.Close()
		}
	}
}
