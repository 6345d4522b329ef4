package upnpruntime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jroosing/upnpkit/internal/ssdp"
)

func TestRegisterClientOwnsSearches(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Init(cfg, nil)
	require.NoError(t, err)
	defer rt.Finalize()

	clientID := rt.RegisterClient()

	searchID, err := rt.Search(clientID, 1, "ssdp:all", "cookie")
	require.NoError(t, err)

	rec, err := rt.Handles.Client(clientID)
	require.NoError(t, err)
	ch := rec.(*ClientHandle)
	require.Contains(t, ch.Searches(), searchID)

	require.NoError(t, rt.CancelSearch(clientID, searchID))
	require.Empty(t, ch.Searches())
}

func TestRegisterDeviceRoundTrips(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Init(cfg, nil)
	require.NoError(t, err)
	defer rt.Finalize()

	d := &ssdp.Device{UDN: "uuid:abc", IsRoot: true, Location: "http://{HOST}/d.xml", MaxAge: 1800}
	id := rt.RegisterDevice(d)

	rec, err := rt.Handles.Device(id)
	require.NoError(t, err)
	require.Equal(t, d, rec.(*DeviceHandle).Device)

	require.NoError(t, rt.UnregisterDevice(id, "10.0.0.5"))
	_, err = rt.Handles.Device(id)
	require.Error(t, err)
}
