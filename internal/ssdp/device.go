package ssdp

import (
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jroosing/upnpkit/internal/threadpool"
	"github.com/jroosing/upnpkit/internal/timer"
)

// ServiceRecord is one advertised service of a Device (the data model's
// DeviceRecord "service table" entry).
type ServiceRecord struct {
	ServiceType string // "urn:<domain>:service:<type>:<v>"
}

// Device is the data model's DeviceRecord, simplified to the fields the
// SSDP advertise/reply routines need; the full device-description
// tree is an external-collaborator concern (the scope non-goals).
type Device struct {
	UDN            string
	DeviceType     string // "urn:<domain>:device:<type>:<v>", "" for embedded-less simple devices
	Location       string // placeholder-host template, e.g. "http://{HOST}/desc.xml"
	LowerLocation  string // used when replying to a lower requested version
	MaxAge         int
	IsRoot         bool
	Embedded       []*Device
	Services       []ServiceRecord
}

// Advertiser sends advertise/reply datagrams for one or more local
// devices and schedules per-search replies on the timer: device-side
// M-SEARCH ingress and the advertise-and-reply routines.
type Advertiser struct {
	mu      sync.Mutex
	devices []*Device

	pool    *threadpool.Pool
	timer   *timer.Thread
	sockets *Sockets

	NumSSDPCopy  int
	SSDPPause    time.Duration
	ServerString string
	MaxAge       int
}

// NewAdvertiser wires an Advertiser to the shared pool/timer/sockets.
func NewAdvertiser(pool *threadpool.Pool, th *timer.Thread, sockets *Sockets) *Advertiser {
	return &Advertiser{
		pool:         pool,
		timer:        th,
		sockets:      sockets,
		NumSSDPCopy:  2,
		SSDPPause:    100 * time.Millisecond,
		ServerString: "upnpkit/1.0 UPnP/1.0",
		MaxAge:       1800,
	}
}

// RegisterDevice adds d (in insertion order) to the set advertised and
// answered for. Returns d's index, used as the enumeration "start"
// point the discovery protocol describes for M-SEARCH fan-out.
func (a *Advertiser) RegisterDevice(d *Device) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.devices = append(a.devices, d)
	return len(a.devices) - 1
}

// UnregisterDevice removes the device at index idx, sending ssdp:byebye
// first.
func (a *Advertiser) UnregisterDevice(idx int, localHost string) {
	a.mu.Lock()
	if idx < 0 || idx >= len(a.devices) {
		a.mu.Unlock()
		return
	}
	d := a.devices[idx]
	a.devices = append(a.devices[:idx], a.devices[idx+1:]...)
	a.mu.Unlock()

	a.AdvertiseAndReply(d, localHost, true, TypeALL, "")
}

// HandleSearch implements the discovery protocol's device-side M-SEARCH ingress:
// for each local device (starting at index `start`), schedule a reply
// at a random delay in [0, mx*1000-100) ms (the bound is raised to 1
// when mx*1000-100 is below 1, giving a delay of 0). With a non-nil
// peer the reply is a unicast 200-OK sent to peer; with a nil peer the
// matching messages go out as multicast NOTIFY datagrams instead.
func (a *Advertiser) HandleSearch(mx int, reqType RequestType, reqTarget string, localHost string, start int, peer *net.UDPAddr) {
	a.mu.Lock()
	devices := append([]*Device(nil), a.devices[start:]...)
	a.mu.Unlock()

	ceil := mx*1000 - 100
	if ceil < 1 {
		ceil = 1
	}

	for _, d := range devices {
		d := d
		delayMs := rand.Intn(ceil)
		_, _ = a.timer.ScheduleAfter(time.Duration(delayMs)*time.Millisecond, timer.ShortTerm, func(any) {
			a.RespondToSearchFor(d, localHost, reqType, reqTarget, peer)
		}, nil, nil, threadpool.Low)
	}
}

// AdvertiseAndReply implements the discovery protocol's advertise
// routine: walk d and its embedded devices, emitting (or withholding,
// per reqType/reqTarget filter) the canonical device and service
// messages as multicast NOTIFY datagrams. When byebye is true, NTS is
// "ssdp:byebye" instead of "ssdp:alive" and reqType is ignored
// (everything is sent).
func (a *Advertiser) AdvertiseAndReply(d *Device, localHost string, byebye bool, reqType RequestType, reqTarget string) {
	if byebye {
		reqType = TypeALL
	}
	a.walkDevice(d, localHost, byebye, reqType, reqTarget, nil)
}

// RespondToSearchFor walks d and its embedded devices the same way
// AdvertiseAndReply does, but answers a matching M-SEARCH with a
// unicast 200-OK sent to peer instead of a multicast NOTIFY.
func (a *Advertiser) RespondToSearchFor(d *Device, localHost string, reqType RequestType, reqTarget string, peer *net.UDPAddr) {
	a.walkDevice(d, localHost, false, reqType, reqTarget, peer)
}

func (a *Advertiser) walkDevice(d *Device, localHost string, byebye bool, reqType RequestType, reqTarget string, replyTo *net.UDPAddr) {
	location := rewriteLocation(d.Location, localHost)
	lowerLocation := rewriteLocation(d.LowerLocation, localHost)

	if d.IsRoot {
		a.maybeSend(reqType, reqTarget, TypeROOTDEVICE, "upnp:rootdevice", d.UDN+"::upnp:rootdevice", location, byebye, d.MaxAge, replyTo)
	}
	a.maybeSend(reqType, reqTarget, TypeDEVICEUDN, d.UDN, d.UDN, location, byebye, d.MaxAge, replyTo)

	if d.DeviceType != "" {
		a.maybeSendVersioned(reqType, reqTarget, TypeDEVICETYPE, d.DeviceType, d.UDN+"::"+d.DeviceType, location, lowerLocation, byebye, d.MaxAge, replyTo)
	}

	for _, svc := range d.Services {
		a.maybeSendVersioned(reqType, reqTarget, TypeSERVICE, svc.ServiceType, d.UDN+"::"+svc.ServiceType, location, lowerLocation, byebye, d.MaxAge, replyTo)
	}

	for _, child := range d.Embedded {
		a.walkDevice(child, localHost, byebye, reqType, reqTarget, replyTo)
	}
}

// maybeSend emits a non-versioned canonical message (ROOTDEVICE or
// DEVICEUDN forms) when the search filter allows it.
func (a *Advertiser) maybeSend(reqType RequestType, reqTarget string, msgType RequestType, nt, usn, location string, byebye bool, maxAge int, replyTo *net.UDPAddr) {
	if !searchAllows(reqType, reqTarget, msgType, nt) {
		return
	}
	a.emit(replyTo, nt, usn, location, byebye, maxAge)
}

// maybeSendVersioned emits a DEVICETYPE/SERVICE message, applying
// the discovery protocol's version-matching rule when the caller is replying to
// a search (reqType != ALL's broadcast path uses byebye/advertise
// semantics, which always send at the local version).
func (a *Advertiser) maybeSendVersioned(reqType RequestType, reqTarget string, msgType RequestType, localTarget, usn, location, lowerLocation string, byebye bool, maxAge int, replyTo *net.UDPAddr) {
	if reqType != msgType && reqType != TypeALL {
		return
	}
	loc := location
	if reqType == msgType {
		shouldReply, useLower := MatchVersioned(reqTarget, localTarget)
		if !shouldReply {
			return
		}
		if useLower {
			loc = lowerLocation
		}
	}
	a.emit(replyTo, localTarget, usn, loc, byebye, maxAge)
}

// emit dispatches one canonical message either as a unicast 200-OK to
// replyTo (the M-SEARCH-reply form) or as a multicast NOTIFY (the
// advertise/byebye form), per the external-interfaces distinction
// between search replies and advertisements.
func (a *Advertiser) emit(replyTo *net.UDPAddr, st, usn, location string, byebye bool, maxAge int) {
	if replyTo != nil {
		a.RespondToSearch(replyTo, st, usn, location, maxAge)
		return
	}
	a.send(st, usn, location, byebye, maxAge)
}

func searchAllows(reqType RequestType, reqTarget string, msgType RequestType, nt string) bool {
	if reqType == TypeALL {
		return true
	}
	if reqType != msgType {
		return false
	}
	if msgType == TypeDEVICEUDN {
		return len(nt) >= len(reqTarget) && nt[:len(reqTarget)] == reqTarget
	}
	return true
}

func (a *Advertiser) send(nt, usn, location string, byebye bool, maxAge int) {
	nts := "ssdp:alive"
	if byebye {
		nts = "ssdp:byebye"
	}

	p := &Packet{
		Method: "NOTIFY", URL: "*", Proto: "HTTP/1.1",
		Headers: map[string]string{
			"host": HostIPv4,
			"nt":   nt,
			"nts":  nts,
			"usn":  usn,
		},
	}
	if !byebye {
		p.Headers["cache-control"] = fmt.Sprintf("max-age=%d", maxAge)
		p.Headers["location"] = location
		p.Headers["server"] = a.ServerString
	}

	raw := []byte(p.Render())
	for i := 0; i < a.NumSSDPCopy; i++ {
		if a.sockets != nil && a.sockets.V4Egress != nil {
			dst := &net.UDPAddr{IP: net.ParseIP(GroupIPv4), Port: SSDPPort}
			_, _ = a.sockets.V4Egress.WriteTo(raw, nil, dst)
		}
		if i != a.NumSSDPCopy-1 {
			time.Sleep(a.SSDPPause)
		}
	}
}

// RespondToSearch sends a unicast M-SEARCH reply (HTTP 200 OK pseudo
// response) directly to peer, used instead of AdvertiseAndReply's
// NOTIFY form when answering a specific search target match.
func (a *Advertiser) RespondToSearch(peer *net.UDPAddr, st, usn, location string, maxAge int) {
	p := &Packet{
		IsResponse: true, Proto: "HTTP/1.1", Status: 200, Phrase: "OK",
		Headers: map[string]string{
			"cache-control": fmt.Sprintf("max-age=%d", maxAge),
			"date":          time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"),
			"ext":           "",
			"location":      location,
			"server":        a.ServerString,
			"st":            st,
			"usn":           usn,
		},
	}
	if a.sockets != nil && a.sockets.V4Egress != nil {
		_, _ = a.sockets.V4Egress.WriteTo([]byte(p.Render()), nil, peer)
	}
}

// rewriteLocation replaces a "{HOST}" placeholder in template with
// host, per the discovery protocol's per-interface LOCATION rewriting.
func rewriteLocation(template, host string) string {
	if template == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{HOST}", host)
}
