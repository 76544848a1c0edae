package registry_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/mcphub/pkg/mcpclient"
	"github.com/effective-security/mcphub/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nestedCredsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string"},
		"credentials": {
			"type": "object",
			"properties": {
				"api_key": {
					"type": "string",
					"title": "API Key",
					"description": "key for the search backend",
					"acquisitionHint": "https://example.com/keys"
				},
				"workspace_id": {"type": "string"}
			}
		}
	}
}`)

var topLevelCredsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"url": {"type": "string"},
		"access_token": {"type": "string", "description": "bearer token"}
	}
}`)

func registerOne(reg *registry.ToolRegistry, name string, schema json.RawMessage) *registry.ToolRecord {
	reg.Register("srv1", "Server", []mcpclient.RawTool{{Name: name, InputSchema: schema}})
	return reg.Get(name)
}

func Test_CredentialParser_NestedObject(t *testing.T) {
	reg := registry.New(nil)
	rec := registerOne(reg, "search", nestedCredsSchema)
	require.NotNil(t, rec)

	require.Len(t, rec.CredentialRequirements, 2)
	req := rec.CredentialRequirements[0]
	assert.Equal(t, "api_key", req.ID)
	assert.Equal(t, "API Key", req.DisplayName)
	assert.Equal(t, "key for the search backend", req.Description)
	assert.Equal(t, "https://example.com/keys", req.AcquisitionHint)

	// no title on workspace_id, the name is the display name
	req = rec.CredentialRequirements[1]
	assert.Equal(t, "workspace_id", req.ID)
	assert.Equal(t, "workspace_id", req.DisplayName)
}

func Test_CredentialParser_WellKnownParams(t *testing.T) {
	reg := registry.New(nil)
	rec := registerOne(reg, "fetch", topLevelCredsSchema)
	require.NotNil(t, rec)

	require.Len(t, rec.CredentialRequirements, 1)
	assert.Equal(t, "access_token", rec.CredentialRequirements[0].ID)
	assert.Equal(t, "bearer token", rec.CredentialRequirements[0].Description)
}

func Test_CredentialParser_CustomTable(t *testing.T) {
	par := registry.NewCredentialParser([]string{"workspace_key"}, false)
	reg := registry.New(par)

	// access_token is no longer well known under the custom table
	rec := registerOne(reg, "fetch", topLevelCredsSchema)
	require.NotNil(t, rec)
	assert.Empty(t, rec.CredentialRequirements)

	custom := json.RawMessage(`{
		"type": "object",
		"properties": {"workspace_key": {"type": "string"}}
	}`)
	rec = registerOne(reg, "list", custom)
	require.NotNil(t, rec)
	require.Len(t, rec.CredentialRequirements, 1)
	assert.Equal(t, "workspace_key", rec.CredentialRequirements[0].ID)
}

func Test_CredentialParser_Disabled(t *testing.T) {
	par := registry.NewCredentialParser(nil, true)
	reg := registry.New(par)

	rec := registerOne(reg, "search", nestedCredsSchema)
	require.NotNil(t, rec)
	assert.Empty(t, rec.CredentialRequirements)

	assert.Empty(t, reg.AllWithCredentialRequirements())
}

func Test_Registry_AllWithCredentialRequirements(t *testing.T) {
	reg := registry.New(nil)

	reg.Register("srv1", "One", []mcpclient.RawTool{
		{Name: "search", InputSchema: nestedCredsSchema},
		{Name: "echo", InputSchema: echoSchema},
	})

	list := reg.AllWithCredentialRequirements()
	require.Len(t, list, 1)
	assert.Equal(t, "search", list[0].Name)
}
