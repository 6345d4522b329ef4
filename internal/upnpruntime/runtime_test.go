package upnpruntime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jroosing/upnpkit/internal/config"
	"github.com/jroosing/upnpkit/internal/netif"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	// Keep IPv6 discovery off in unit tests; the IPv4 sockets are still
	// opened on the host's interfaces.
	cfg.Discovery.EnableIPv6 = false
	return cfg
}

func TestInitWiresAllComponents(t *testing.T) {
	cfg := testConfig(t)

	rt, err := Init(cfg, nil)
	require.NoError(t, err)
	defer rt.Finalize()

	require.NotNil(t, rt.NetIF)
	require.NotNil(t, rt.Pool)
	require.NotNil(t, rt.Timer)
	require.NotNil(t, rt.Handles)
	require.NotNil(t, rt.ControlPoint)
	require.NotNil(t, rt.Advertiser)
	require.NotNil(t, rt.SIDGen)
	require.NotNil(t, rt.GENA)
	require.NotNil(t, rt.Listener)
}

func TestFinalizeIsIdempotentAndSafeWithoutInit(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Init(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, rt.Finalize())
	require.NoError(t, rt.Finalize())

	require.NoError(t, (&Runtime{}).Finalize())
}

func TestSelectJoinInterfacesHonorsSelectedList(t *testing.T) {
	cfg := testConfig(t)
	cfg.Discovery.UseAllInterfaces = false
	cfg.Discovery.SelectedInterfaces = []string{"nonexistent-iface-xyz"}

	rt, err := Init(cfg, nil)
	require.NoError(t, err)
	defer rt.Finalize()

	all := rt.NetIF.Select(netif.Filter{Needs: netif.Up | netif.Multicast, Rejects: netif.Loopback})
	joined := selectJoinInterfaces(rt.NetIF, cfg.Discovery)
	require.LessOrEqual(t, len(joined), len(all))
	for _, iface := range joined {
		require.Equal(t, "nonexistent-iface-xyz", iface.Name)
	}
}
