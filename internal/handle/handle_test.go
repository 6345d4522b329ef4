package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookupClient(t *testing.T) {
	tbl := New()
	id := tbl.RegisterClient("client-record")
	assert.Equal(t, KindClient, tbl.Kind(id))

	rec, err := tbl.Client(id)
	require.NoError(t, err)
	assert.Equal(t, "client-record", rec)
}

func TestClientCannotBeLookedUpAsDevice(t *testing.T) {
	tbl := New()
	id := tbl.RegisterClient("client-record")

	_, err := tbl.Device(id)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestDeviceCannotBeLookedUpAsClient(t *testing.T) {
	tbl := New()
	id := tbl.RegisterDevice("device-record")

	_, err := tbl.Client(id)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestUnknownHandleIsNotFound(t *testing.T) {
	tbl := New()
	_, err := tbl.Client(999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindInvalid, tbl.Kind(999))
}

func TestUnregisterRemovesRecord(t *testing.T) {
	tbl := New()
	id := tbl.RegisterDevice("d")
	tbl.Unregister(id)
	assert.Equal(t, KindInvalid, tbl.Kind(id))
}

func TestDevicesOrderedByHandleID(t *testing.T) {
	tbl := New()
	var ids []int
	for i := 0; i < 5; i++ {
		ids = append(ids, tbl.RegisterDevice(i))
	}

	entries := tbl.Devices()
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].ID, entries[i].ID)
	}
}

func TestClientsSnapshot(t *testing.T) {
	tbl := New()
	tbl.RegisterClient("a")
	tbl.RegisterClient("b")
	assert.Len(t, tbl.Clients(), 2)
}
