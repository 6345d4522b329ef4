package ssdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAll(t *testing.T) {
	d, err := Classify("ssdp:all")
	require.NoError(t, err)
	assert.Equal(t, TypeALL, d.Type)
}

func TestClassifyRootdevice(t *testing.T) {
	d, err := Classify("upnp:rootdevice")
	require.NoError(t, err)
	assert.Equal(t, TypeROOTDEVICE, d.Type)
}

func TestClassifyUUIDOnly(t *testing.T) {
	d, err := Classify("uuid:abc-123")
	require.NoError(t, err)
	assert.Equal(t, TypeDEVICEUDN, d.Type)
	assert.Equal(t, "uuid:abc-123", d.UDN)
}

func TestClassifyUUIDRootdeviceCompound(t *testing.T) {
	d, err := Classify("uuid:abc-123::upnp:rootdevice")
	require.NoError(t, err)
	assert.Equal(t, TypeROOTDEVICE, d.Type)
	assert.Equal(t, "uuid:abc-123", d.UDN)
}

func TestClassifyDeviceType(t *testing.T) {
	d, err := Classify("urn:schemas-upnp-org:device:MediaServer:1")
	require.NoError(t, err)
	assert.Equal(t, TypeDEVICETYPE, d.Type)
	assert.Equal(t, "urn:schemas-upnp-org:device:MediaServer:1", d.DeviceType)
}

func TestClassifyServiceTypeCompound(t *testing.T) {
	d, err := Classify("uuid:abc::urn:schemas-upnp-org:service:ContentDirectory:1")
	require.NoError(t, err)
	assert.Equal(t, TypeSERVICE, d.Type)
	assert.Equal(t, "uuid:abc", d.UDN)
	assert.Equal(t, "urn:schemas-upnp-org:service:ContentDirectory:1", d.ServiceType)
}

func TestClassifyRejectsUnknownForm(t *testing.T) {
	_, err := Classify("something:else")
	assert.ErrorIs(t, err, ErrUnrecognizedForm)
}

func TestClassifyRoundTripsThroughRender(t *testing.T) {
	for _, tc := range []struct {
		target string
		want   RequestType
	}{
		{"ssdp:all", TypeALL},
		{"upnp:rootdevice", TypeROOTDEVICE},
		{"uuid:abc-123", TypeDEVICEUDN},
		{"uuid:abc-123::upnp:rootdevice", TypeROOTDEVICE},
		{"urn:schemas-upnp-org:device:MediaServer:1", TypeDEVICETYPE},
		{"uuid:abc::urn:schemas-upnp-org:service:ContentDirectory:1", TypeSERVICE},
	} {
		search := &Packet{
			Method: "M-SEARCH", URL: "*", Proto: "HTTP/1.1",
			Headers: map[string]string{"host": HostIPv4, "man": `"ssdp:discover"`, "mx": "1", "st": tc.target},
		}
		parsed, err := Parse([]byte(search.Render()))
		require.NoErrorf(t, err, "target %q", tc.target)
		st, _ := parsed.Header("st")
		got, err := Classify(st)
		require.NoErrorf(t, err, "target %q", tc.target)
		assert.Equalf(t, tc.want, got.Type, "target %q", tc.target)
	}
}

func TestMatchSearchArgDeviceUDNPrefix(t *testing.T) {
	adv, err := Classify("uuid:abc-123::upnp:rootdevice")
	require.NoError(t, err)
	assert.True(t, MatchSearchArg(TypeDEVICEUDN, "uuid:abc-123", adv, "uuid:abc-123"))
	assert.False(t, MatchSearchArg(TypeDEVICEUDN, "uuid:other", adv, "uuid:abc-123"))
}

func TestMatchVersioned(t *testing.T) {
	reply, lower := MatchVersioned("urn:schemas-upnp-org:device:MediaServer:1", "urn:schemas-upnp-org:device:MediaServer:2")
	assert.True(t, reply)
	assert.True(t, lower)

	reply, lower = MatchVersioned("urn:schemas-upnp-org:device:MediaServer:2", "urn:schemas-upnp-org:device:MediaServer:2")
	assert.True(t, reply)
	assert.False(t, lower)

	reply, _ = MatchVersioned("urn:schemas-upnp-org:device:MediaServer:3", "urn:schemas-upnp-org:device:MediaServer:2")
	assert.False(t, reply)
}
