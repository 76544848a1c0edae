package vault_test

import (
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/effective-security/mcphub/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Vault_RoundTrip(t *testing.T) {
	key, err := vault.NewKey()
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)

	creds := map[string]string{
		"api_key": gofakeit.UUID(),
		"region":  "us-east-1",
	}
	require.NoError(t, v.Set("search", "srv1", creds))

	got, err := v.Get("search", "srv1")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	assert.True(t, v.Has("search", "srv1"))
	assert.False(t, v.Has("search", "srv2"))

	// same tool name on a different server is a separate entry
	_, err = v.Get("search", "srv2")
	assert.ErrorIs(t, err, vault.ErrNotFound)

	v.Delete("search", "srv1")
	_, err = v.Get("search", "srv1")
	assert.ErrorIs(t, err, vault.ErrNotFound)

	// deleting an absent entry is a no-op
	v.Delete("search", "srv1")
}

func Test_Vault_DeleteByServer(t *testing.T) {
	key, err := vault.NewKey()
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)

	require.NoError(t, v.Set("search", "srv1", map[string]string{"token": "a"}))
	require.NoError(t, v.Set("fetch", "srv1", map[string]string{"token": "b"}))
	require.NoError(t, v.Set("echo", "srv2", map[string]string{"token": "c"}))

	v.DeleteByServer("srv1")
	assert.False(t, v.Has("search", "srv1"))
	assert.False(t, v.Has("fetch", "srv1"))
	assert.True(t, v.Has("echo", "srv2"))
}

func Test_Vault_KeySize(t *testing.T) {
	_, err := vault.New([]byte("short"))
	assert.Error(t, err)

	key, err := vault.NewKey()
	require.NoError(t, err)
	assert.Len(t, key, vault.KeySize)
}

func Test_Vault_KeysAreDistinct(t *testing.T) {
	k1, err := vault.NewKey()
	require.NoError(t, err)
	k2, err := vault.NewKey()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}
