package ssdp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/upnpkit/internal/threadpool"
	"github.com/jroosing/upnpkit/internal/timer"
)

func newTestControlPoint(t *testing.T) (*ControlPoint, clockwork.FakeClock) {
	t.Helper()
	pool := threadpool.New(threadpool.DefaultAttrs())
	t.Cleanup(pool.Shutdown)

	clock := clockwork.NewFakeClock()
	th := timer.New(clock)
	require.NoError(t, th.Start(pool))
	t.Cleanup(th.Shutdown)

	cp := NewControlPoint(pool, th, nil, nil)
	return cp, clock
}

func TestSearchByTargetClampsMX(t *testing.T) {
	cp, clock := newTestControlPoint(t)
	cp.MinSearchTime, cp.MaxSearchTime = 1, 10
	cp.NumSSDPCopy = 1

	events := make(chan DiscoveryEvent, 1)
	cp.SetCallback(func(e DiscoveryEvent) { events <- e })

	_, err := cp.SearchByTarget(9999, "ssdp:all", "cookie")
	require.NoError(t, err)

	// mx=9999 is clamped to 10, so the timeout fires after 10s.
	clock.Advance(10 * time.Second)

	select {
	case e := <-events:
		assert.Equal(t, EventSearchTimeout, e.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the search to time out at the clamped mx")
	}
}

func TestSearchByTargetRejectsBadTarget(t *testing.T) {
	cp, _ := newTestControlPoint(t)
	cp.NumSSDPCopy = 1
	_, err := cp.SearchByTarget(5, "not-a-valid-target", nil)
	assert.Error(t, err)
}

func TestSearchTimeoutFiresCallback(t *testing.T) {
	cp, clock := newTestControlPoint(t)
	cp.NumSSDPCopy = 1

	var mu sync.Mutex
	var events []DiscoveryEvent
	cp.SetCallback(func(e DiscoveryEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	_, err := cp.SearchByTarget(1, "ssdp:all", "mycookie")
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventSearchTimeout, events[0].Kind)
	assert.Equal(t, "mycookie", events[0].Cookie)
}

func TestHandleIncomingSearchResponseMatchesAllSearch(t *testing.T) {
	cp, _ := newTestControlPoint(t)
	cp.NumSSDPCopy = 1

	done := make(chan DiscoveryEvent, 1)
	cp.SetCallback(func(e DiscoveryEvent) { done <- e })

	_, err := cp.SearchByTarget(5, "ssdp:all", "c1")
	require.NoError(t, err)

	raw := "HTTP/1.1 200 OK\r\nCACHE-CONTROL: max-age=1800\r\nUSN: uuid:X::upnp:rootdevice\r\nST: upnp:rootdevice\r\nLOCATION: http://10.0.0.2:80/d.xml\r\n\r\n"
	p, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.True(t, ValidateSearchResponse(p))

	cp.HandleIncoming(p, net.ParseIP("10.0.0.2"), 0)

	select {
	case e := <-done:
		assert.Equal(t, EventSearchResult, e.Kind)
		assert.Equal(t, "uuid:X", e.DeviceID)
		assert.Equal(t, 1800, e.Expires)
	case <-time.After(2 * time.Second):
		t.Fatal("expected search result callback")
	}
}

func TestHandleIncomingAdvertisementAlive(t *testing.T) {
	cp, _ := newTestControlPoint(t)

	events := make(chan DiscoveryEvent, 1)
	cp.SetCallback(func(e DiscoveryEvent) { events <- e })

	raw := "NOTIFY * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nCACHE-CONTROL: max-age=1800\r\nLOCATION: http://10.0.0.2:80/d.xml\r\nNT: upnp:rootdevice\r\nNTS: ssdp:alive\r\nUSN: uuid:X::upnp:rootdevice\r\n\r\n"
	p, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.True(t, ValidateRequest(p))

	cp.HandleIncoming(p, net.ParseIP("10.0.0.2"), 0)

	select {
	case e := <-events:
		assert.Equal(t, EventAdvertisementAlive, e.Kind)
		assert.Equal(t, "uuid:X", e.DeviceID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected advertisement callback")
	}
}

func TestHandleIncomingDropsWithoutCallback(t *testing.T) {
	cp, _ := newTestControlPoint(t)
	raw := "HTTP/1.1 200 OK\r\nCACHE-CONTROL: max-age=1800\r\nUSN: uuid:X::upnp:rootdevice\r\nST: upnp:rootdevice\r\nLOCATION: http://10.0.0.2:80/d.xml\r\n\r\n"
	p, err := Parse([]byte(raw))
	require.NoError(t, err)
	cp.HandleIncoming(p, net.ParseIP("10.0.0.2"), 0)
}

func TestIPv6LinkLocalScoping(t *testing.T) {
	cp, _ := newTestControlPoint(t)
	cp.NumSSDPCopy = 1
	events := make(chan DiscoveryEvent, 1)
	cp.SetCallback(func(e DiscoveryEvent) { events <- e })

	_, err := cp.SearchByTarget(5, "ssdp:all", nil)
	require.NoError(t, err)

	raw := "HTTP/1.1 200 OK\r\nCACHE-CONTROL: max-age=1800\r\nUSN: uuid:X::upnp:rootdevice\r\nST: upnp:rootdevice\r\nLOCATION: http://[fe80::1]:80/d.xml\r\n\r\n"
	p, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.True(t, ValidateSearchResponse(p))

	cp.HandleIncoming(p, net.ParseIP("fe80::1"), 3)

	select {
	case e := <-events:
		assert.Equal(t, "http://[fe80::1%253]:80/d.xml", e.Location)
	case <-time.After(2 * time.Second):
		t.Fatal("expected scoped search result")
	}
}

func TestCancelSearchRemovesArgAndTimer(t *testing.T) {
	cp, _ := newTestControlPoint(t)
	cp.NumSSDPCopy = 1
	id, err := cp.SearchByTarget(5, "ssdp:all", nil)
	require.NoError(t, err)

	cp.CancelSearch(id)

	cp.mu.Lock()
	_, stillPresent := cp.searches[id]
	cp.mu.Unlock()
	assert.False(t, stillPresent)
}
