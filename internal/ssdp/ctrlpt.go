package ssdp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jroosing/upnpkit/internal/helpers"
	"github.com/jroosing/upnpkit/internal/netif"
	"github.com/jroosing/upnpkit/internal/threadpool"
	"github.com/jroosing/upnpkit/internal/timer"
)

// ErrNoCallback names the condition of a ControlPoint with no
// registered client callback. HandleIncoming does not return it: in
// that case it drops the packet silently.
var ErrNoCallback = errors.New("ssdp: no client callback registered")

// ControlPoint implements the discovery protocol's control-point ingress/egress:
// tracking outstanding searches, matching inbound advertisements and
// M-SEARCH responses against them, and sending M-SEARCH datagrams.
type ControlPoint struct {
	mu       sync.Mutex
	searches map[int64]*SearchArg
	nextID   int64

	pool     *threadpool.Pool
	timer    *timer.Thread
	sockets  *Sockets
	ifaces   *netif.Set
	callback Callback

	MinSearchTime int
	MaxSearchTime int
	NumSSDPCopy   int
	SSDPPause     time.Duration
	ServerString  string
}

// NewControlPoint wires a ControlPoint to the shared pool/timer/socket
// set. No callback is registered until SetCallback is called.
func NewControlPoint(pool *threadpool.Pool, th *timer.Thread, sockets *Sockets, ifaces *netif.Set) *ControlPoint {
	return &ControlPoint{
		searches:      make(map[int64]*SearchArg),
		pool:          pool,
		timer:         th,
		sockets:       sockets,
		ifaces:        ifaces,
		MinSearchTime: 1,
		MaxSearchTime: 120,
		NumSSDPCopy:   2,
		SSDPPause:     100 * time.Millisecond,
		ServerString:  "upnpkit/1.0 UPnP/1.0",
	}
}

// SetCallback registers the single client callback per the discovery protocol
// step 1.
func (c *ControlPoint) SetCallback(cb Callback) {
	c.mu.Lock()
	c.callback = cb
	c.mu.Unlock()
}

// SearchByTarget issues an M-SEARCH for st, clamping mx to
// [MinSearchTime, MaxSearchTime], and arms a timeout that fires
// EventSearchTimeout after mx seconds. Search results do not remove
// the search; only the timeout or CancelSearch does. Datagrams are
// sent NumSSDPCopy times with SSDPPause spacing per family.
func (c *ControlPoint) SearchByTarget(mx int, st string, cookie any) (int64, error) {
	mx = helpers.ClampInt(mx, c.MinSearchTime, c.MaxSearchTime)

	reqType, err := Classify(st)
	if err != nil {
		return 0, fmt.Errorf("ssdp: invalid search target %q: %w", st, err)
	}

	c.mu.Lock()
	c.nextID++
	arg := &SearchArg{ID: c.nextID, SearchTarget: st, RequestType: reqType.Type, Cookie: cookie}
	c.searches[arg.ID] = arg
	c.mu.Unlock()

	timerID, err := c.timer.ScheduleAfter(time.Duration(mx)*time.Second, timer.ShortTerm, func(a any) {
		c.onSearchTimeout(a.(int64))
	}, arg.ID, nil, threadpool.Med)
	if err == nil {
		c.mu.Lock()
		arg.TimeoutTimerID = timerID
		c.mu.Unlock()
	}

	c.sendSearchDatagrams(mx, st)
	return arg.ID, nil
}

func (c *ControlPoint) sendSearchDatagrams(mx int, st string) {
	v4 := &Packet{
		Method: "M-SEARCH", URL: "*", Proto: "HTTP/1.1",
		Headers: map[string]string{
			"host": HostIPv4,
			"man":  `"ssdp:discover"`,
			"mx":   strconv.Itoa(mx),
			"st":   st,
		},
	}
	v4Bytes := []byte(v4.Render())

	for i := 0; i < c.NumSSDPCopy; i++ {
		if c.sockets != nil && c.sockets.V4Egress != nil {
			dst := &net.UDPAddr{IP: net.ParseIP(GroupIPv4), Port: SSDPPort}
			_, _ = c.sockets.V4Egress.WriteTo(v4Bytes, nil, dst)
		}
		if c.sockets != nil && c.sockets.V6Egress != nil {
			v6 := *v4
			v6Headers := map[string]string{}
			for k, v := range v4.Headers {
				v6Headers[k] = v
			}
			v6Headers["host"] = HostIPv6Link
			v6.Headers = v6Headers
			dst := &net.UDPAddr{IP: net.ParseIP(GroupIPv6Link), Port: SSDPPort}
			_, _ = c.sockets.V6Egress.WriteTo([]byte(v6.Render()), nil, dst)
		}
		if i != c.NumSSDPCopy-1 {
			time.Sleep(c.SSDPPause)
		}
	}
}

func (c *ControlPoint) onSearchTimeout(id int64) {
	c.mu.Lock()
	arg, ok := c.searches[id]
	if ok {
		delete(c.searches, id)
	}
	cb := c.callback
	c.mu.Unlock()

	if !ok || cb == nil {
		return
	}
	_ = c.pool.AddJob(func(any) {
		cb(DiscoveryEvent{Kind: EventSearchTimeout, Cookie: arg.Cookie})
	}, nil, nil, threadpool.Med)
}

// CancelSearch removes a not-yet-timed-out search and cancels its
// timeout timer.
func (c *ControlPoint) CancelSearch(id int64) {
	c.mu.Lock()
	arg, ok := c.searches[id]
	if ok {
		delete(c.searches, id)
	}
	c.mu.Unlock()
	if ok && arg.TimeoutTimerID != 0 {
		_ = c.timer.Remove(arg.TimeoutTimerID)
	}
}

// HandleIncoming processes one already-validated inbound packet
// (advertisement or M-SEARCH response) per the discovery protocol's
// control-point ingress steps 1-4.
func (c *ControlPoint) HandleIncoming(p *Packet, peer net.IP, peerScope int) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb == nil {
		return
	}

	location, _ := p.Header("location")
	if location != "" && peerScope != 0 {
		scoped := netif.RenderLinkLocalURL(location, peerScope, true)
		if scoped == location && looksLinkLocalLiteral(location) {
			// Scoping was required (link-local literal present) but
			// RenderLinkLocalURL made no change; treat as a failure
			// per the discovery protocol step 2 ("If scope scoping fails, drop").
			return
		}
		location = scoped
	}

	if !p.IsResponse {
		c.handleAdvertisement(p, location, cb)
		return
	}
	c.handleSearchResponse(p, location, cb)
}

func looksLinkLocalLiteral(url string) bool {
	return strings.Contains(strings.ToLower(url), "[fe80:")
}

func (c *ControlPoint) handleAdvertisement(p *Packet, location string, cb Callback) {
	nts, _ := p.Header("nts")
	nt, _ := p.Header("nt")
	usn, _ := p.Header("usn")

	usnD, err := Classify(usn)
	if err != nil {
		return
	}

	kind := EventAdvertisementAlive
	if nts == "ssdp:byebye" {
		kind = EventAdvertisementByebye
	}
	maxAge, _ := parseMaxAge(p)

	_ = c.pool.AddJob(func(any) {
		cb(DiscoveryEvent{Kind: kind, DeviceID: usnD.UDN, DeviceType: usnD.DeviceType, ServiceType: usnD.ServiceType, Location: location, Expires: maxAge})
	}, nil, nil, threadpool.Med)

	ntD, err := Classify(nt)
	if err != nil {
		return
	}
	c.matchSearches(ntD, nt, location, maxAge, usnD.UDN, cb)
}

func (c *ControlPoint) handleSearchResponse(p *Packet, location string, cb Callback) {
	usn, _ := p.Header("usn")
	st, _ := p.Header("st")
	maxAge, _ := parseMaxAge(p)

	usnD, err := Classify(usn)
	if err != nil {
		return
	}
	stD, err := Classify(st)
	if err != nil {
		return
	}
	c.matchSearches(stD, st, location, maxAge, usnD.UDN, cb)
}

func (c *ControlPoint) matchSearches(adv Decomposed, advTarget, location string, maxAge int, udn string, cb Callback) {
	c.mu.Lock()
	var matched []*SearchArg
	for _, arg := range c.searches {
		if MatchSearchArg(arg.RequestType, arg.SearchTarget, adv, advTarget) {
			matched = append(matched, arg)
		}
	}
	c.mu.Unlock()

	for _, arg := range matched {
		arg := arg
		_ = c.pool.AddJob(func(any) {
			cb(DiscoveryEvent{
				Kind:        EventSearchResult,
				DeviceID:    udn,
				DeviceType:  adv.DeviceType,
				ServiceType: adv.ServiceType,
				Location:    location,
				Expires:     maxAge,
				Cookie:      arg.Cookie,
			})
		}, nil, nil, threadpool.Med)
	}
}
