package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXMLPropertySetParserParsesProperties(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property>
    <Status>  On  </Status>
  </e:property>
  <e:property>
    <Brightness>42</Brightness>
  </e:property>
</e:propertyset>`)

	parser := XMLPropertySetParser{}
	props, err := parser.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "On", props["Status"])
	assert.Equal(t, "42", props["Brightness"])
}

func TestXMLPropertySetParserEmptyBody(t *testing.T) {
	parser := XMLPropertySetParser{}
	props, err := parser.Parse([]byte(`<propertyset></propertyset>`))
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestResponseGetIsCaseInsensitive(t *testing.T) {
	r := &Response{Header: map[string][]string{"Sid": {"uuid:abc"}}}
	assert.Equal(t, "uuid:abc", r.Get("SID"))
}
