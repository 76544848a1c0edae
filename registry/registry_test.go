package registry_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/mcphub/pkg/mcpclient"
	"github.com/effective-security/mcphub/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var echoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"text": {"type": "string", "description": "text to echo back"}
	},
	"required": ["text"]
}`)

func Test_Registry_Register(t *testing.T) {
	reg := registry.New(nil)

	reg.Register("srv1", "Echo Server", []mcpclient.RawTool{
		{Name: "echo", Description: "echoes input", InputSchema: echoSchema},
		{Name: "add", Description: "adds two numbers"},
	})

	assert.Equal(t, 2, reg.Len())

	rec := reg.Get("echo")
	require.NotNil(t, rec)
	assert.Equal(t, "srv1", rec.ServerID)
	assert.Equal(t, "Echo Server", rec.ServerName)
	require.NotNil(t, rec.InputSchema)
	assert.JSONEq(t, string(echoSchema), string(rec.RawSchema))

	// no schema sent for add
	rec = reg.Get("add")
	require.NotNil(t, rec)
	assert.Nil(t, rec.InputSchema)

	assert.Nil(t, reg.Get("unknown"))

	// registration order is preserved
	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "echo", all[0].Name)
	assert.Equal(t, "add", all[1].Name)
}

func Test_Registry_CollisionLastWins(t *testing.T) {
	reg := registry.New(nil)

	reg.Register("srv1", "First", []mcpclient.RawTool{{Name: "search"}})
	reg.Register("srv2", "Second", []mcpclient.RawTool{{Name: "search"}})

	assert.Equal(t, 1, reg.Len())
	rec := reg.Get("search")
	require.NotNil(t, rec)
	assert.Equal(t, "srv2", rec.ServerID)
}

func Test_Registry_RemoveByServer(t *testing.T) {
	reg := registry.New(nil)

	reg.Register("srv1", "One", []mcpclient.RawTool{{Name: "echo"}, {Name: "add"}})
	reg.Register("srv2", "Two", []mcpclient.RawTool{{Name: "fetch"}})

	reg.RemoveByServer("srv1")
	assert.Equal(t, 1, reg.Len())
	assert.Nil(t, reg.Get("echo"))
	assert.Nil(t, reg.Get("add"))
	assert.NotNil(t, reg.Get("fetch"))

	byServer := reg.AllByServer("srv2")
	require.Len(t, byServer, 1)
	assert.Equal(t, "fetch", byServer[0].Name)

	// removing an unknown server is a no-op
	reg.RemoveByServer("srv3")
	assert.Equal(t, 1, reg.Len())
}

func Test_Registry_InvalidSchema(t *testing.T) {
	reg := registry.New(nil)

	reg.Register("srv1", "One", []mcpclient.RawTool{
		{Name: "broken", InputSchema: json.RawMessage(`{not json`)},
	})

	// the tool is still registered, just without a parsed schema
	rec := reg.Get("broken")
	require.NotNil(t, rec)
	assert.Nil(t, rec.InputSchema)
	assert.Empty(t, rec.CredentialRequirements)
}
