package uuidgen

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sidPattern = regexp.MustCompile(`^uuid:[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestNewGeneratorFallsBackWithoutInterfaces(t *testing.T) {
	g := NewGenerator(nil)
	require.NotEmpty(t, g.hwaddr)
}

func TestNewSIDFormat(t *testing.T) {
	g := NewGenerator(nil)
	sid := g.NewSID()
	assert.Regexp(t, sidPattern, sid)
}

func TestNewSIDIsUniquePerCall(t *testing.T) {
	g := NewGenerator(nil)
	a := g.NewSID()
	b := g.NewSID()
	assert.NotEqual(t, a, b)
}

func TestNewDeviceUUID(t *testing.T) {
	a := NewDeviceUUID()
	b := NewDeviceUUID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
