package ssdp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"

	"github.com/jroosing/upnpkit/internal/threadpool"
	"github.com/jroosing/upnpkit/internal/timer"
)

func loopbackV4Sockets(t *testing.T) (*Sockets, *net.UDPConn) {
	t.Helper()
	listenConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Skipf("udp4 unavailable in sandbox: %v", err)
	}
	t.Cleanup(func() { _ = listenConn.Close() })

	egressConn, err := net.ListenUDP("udp4", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = egressConn.Close() })

	return &Sockets{
		V4Listener: ipv4.NewPacketConn(listenConn),
		V4Egress:   ipv4.NewPacketConn(egressConn),
	}, listenConn
}

func TestListenerDispatchesAdvertisementToControlPoint(t *testing.T) {
	sockets, listenConn := loopbackV4Sockets(t)

	pool := threadpool.New(threadpool.DefaultAttrs())
	t.Cleanup(pool.Shutdown)
	clock := clockwork.NewFakeClock()
	th := timer.New(clock)
	require.NoError(t, th.Start(pool))
	t.Cleanup(th.Shutdown)

	cp := NewControlPoint(pool, th, sockets, nil)
	events := make(chan DiscoveryEvent, 1)
	cp.SetCallback(func(e DiscoveryEvent) { events <- e })

	l := NewListener(sockets, nil, cp, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l.Start(ctx)

	sender, err := net.DialUDP("udp4", nil, listenConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()

	raw := "NOTIFY * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nCACHE-CONTROL: max-age=1800\r\nLOCATION: http://10.0.0.2:80/d.xml\r\nNT: upnp:rootdevice\r\nNTS: ssdp:alive\r\nUSN: uuid:X::upnp:rootdevice\r\n\r\n"
	_, err = sender.Write([]byte(raw))
	require.NoError(t, err)

	select {
	case e := <-events:
		require.Equal(t, EventAdvertisementAlive, e.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected listener to dispatch the datagram")
	}
}

func TestListenerDropsUnparseableDatagram(t *testing.T) {
	sockets, listenConn := loopbackV4Sockets(t)

	l := NewListener(sockets, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l.Start(ctx)

	sender, err := net.DialUDP("udp4", nil, listenConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write([]byte("not an SSDP packet at all"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
}
