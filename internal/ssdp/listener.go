package ssdp

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/jroosing/upnpkit/internal/netif"
	"github.com/jroosing/upnpkit/internal/pool"
)

// datagramBufPool reduces allocations on the receive hot path by
// recycling MaxDatagramSize buffers across datagrams.
var datagramBufPool = pool.New(func() *[]byte {
	buf := make([]byte, MaxDatagramSize)
	return &buf
})

// Listener runs the receive/dispatch loops for one Sockets value,
// parsing and validating inbound datagrams before handing them to a
// ControlPoint (client-side ingress) and/or an Advertiser (device-side
// M-SEARCH ingress). Either collaborator may be nil if this process
// runs only as a control point or only as a device.
type Listener struct {
	sockets *Sockets
	ifaces  *netif.Set
	cp      *ControlPoint
	adv     *Advertiser

	wg sync.WaitGroup
}

// NewListener wires a Listener to sockets, dispatching to cp and/or
// adv (either may be nil).
func NewListener(sockets *Sockets, ifaces *netif.Set, cp *ControlPoint, adv *Advertiser) *Listener {
	return &Listener{sockets: sockets, ifaces: ifaces, cp: cp, adv: adv}
}

// Start spawns one receive loop per open listener socket. It returns
// immediately; a loop exits on its first read error, e.g. once its
// socket is closed. Cancelling ctx does not interrupt a blocked read.
func (l *Listener) Start(ctx context.Context) {
	if l.sockets == nil {
		return
	}
	if l.sockets.V4Listener != nil {
		l.wg.Add(1)
		go l.recvV4Loop(ctx)
	}
	if l.sockets.V6Listener != nil {
		l.wg.Add(1)
		go l.recvV6Loop(ctx)
	}
}

// Wait blocks until every spawned receive loop has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) recvV4Loop(ctx context.Context) {
	defer l.wg.Done()
	conn := l.sockets.V4Listener

	for {
		bufPtr := datagramBufPool.Get()
		buf := *bufPtr

		n, cm, src, err := conn.ReadFrom(buf)
		if err != nil {
			datagramBufPool.Put(bufPtr)
			if ctx.Err() != nil {
				return
			}
			return
		}

		peer, _ := src.(*net.UDPAddr)
		ifIndex := 0
		if cm != nil {
			ifIndex = cm.IfIndex
		}
		l.handleDatagram(buf[:n], peer, ifIndex, 0)
		datagramBufPool.Put(bufPtr)
	}
}

func (l *Listener) recvV6Loop(ctx context.Context) {
	defer l.wg.Done()
	conn := l.sockets.V6Listener

	for {
		bufPtr := datagramBufPool.Get()
		buf := *bufPtr

		n, cm, src, err := conn.ReadFrom(buf)
		if err != nil {
			datagramBufPool.Put(bufPtr)
			if ctx.Err() != nil {
				return
			}
			return
		}

		peer, _ := src.(*net.UDPAddr)
		ifIndex := 0
		if cm != nil {
			ifIndex = cm.IfIndex
		}
		l.handleDatagram(buf[:n], peer, ifIndex, ifIndex)
		datagramBufPool.Put(bufPtr)
	}
}

// handleDatagram parses and validates buf, then dispatches it as a
// control-point or device-side message. peerScope is the interface
// index to use for IPv6 scope-id rendering (0 for IPv4).
func (l *Listener) handleDatagram(buf []byte, peer *net.UDPAddr, ifIndex, peerScope int) {
	p, err := Parse(buf)
	if err != nil {
		return
	}

	localHost := l.localHostFor(ifIndex, peer)

	if p.IsResponse || p.Method == "NOTIFY" {
		if l.cp == nil {
			return
		}
		if p.IsResponse {
			if !ValidateSearchResponse(p) {
				return
			}
		} else if !ValidateRequest(p) {
			return
		}
		var peerIP net.IP
		if peer != nil {
			peerIP = peer.IP
		}
		l.cp.HandleIncoming(p, peerIP, peerScope)
		return
	}

	if p.Method == "M-SEARCH" {
		if l.adv == nil || !ValidateRequest(p) {
			return
		}
		mx, ok := parseMX(p)
		if !ok {
			return
		}
		st, _ := p.Header("st")
		reqType, err := Classify(st)
		if err != nil {
			return
		}
		l.adv.HandleSearch(mx, reqType.Type, st, localHost, 0, peer)
	}
}

// localHostFor resolves the bare IP address to substitute into a
// device's LOCATION {HOST} placeholder (the caller-supplied template
// carries the port), preferring the interface the datagram's control
// message names and falling back to the peer-routed interface when
// that's unavailable (e.g. IPv4 without FlagInterface support on this
// platform).
func (l *Listener) localHostFor(ifIndex int, peer *net.UDPAddr) string {
	if l.ifaces == nil {
		return ""
	}
	if ifIndex != 0 {
		for _, iface := range l.ifaces.All() {
			if iface.Index != ifIndex {
				continue
			}
			for _, a := range iface.Addrs {
				if a.Addr.To4() != nil {
					return a.Addr.String()
				}
			}
		}
	}
	if peer != nil {
		if _, local, err := l.ifaces.InterfaceForAddress(peer.IP); err == nil {
			return local.String()
		}
	}
	return ""
}

func parseMX(p *Packet) (int, bool) {
	mxStr, ok := p.Header("mx")
	if !ok || mxStr == "" {
		return 0, false
	}
	mx, err := strconv.Atoi(mxStr)
	if err != nil || mx <= 0 {
		return 0, false
	}
	return mx, true
}
