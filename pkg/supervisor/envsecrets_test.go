package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealAndUnsealEnvRoundTrips(t *testing.T) {
	masterKey := []byte("test-master-key")
	env := map[string]string{
		"PLAIN":          "visible",
		"secret:API_KEY": "super-secret-value",
	}

	sealed, err := sealEnvForStorage(masterKey, "agent-1", env)
	require.NoError(t, err)
	assert.Equal(t, "visible", sealed["PLAIN"])
	assert.NotEqual(t, "super-secret-value", sealed["secret:API_KEY"])

	unsealed, err := unsealEnvForSpawn(masterKey, "agent-1", sealed)
	require.NoError(t, err)
	assert.Equal(t, "visible", unsealed["PLAIN"])
	assert.Equal(t, "super-secret-value", unsealed["API_KEY"])
	_, hasPrefixed := unsealed["secret:API_KEY"]
	assert.False(t, hasPrefixed, "prefix should be stripped on unseal")
}

func TestSealIsKeyedPerAgent(t *testing.T) {
	masterKey := []byte("test-master-key")
	env := map[string]string{"secret:TOKEN": "value"}

	sealedA, err := sealEnvForStorage(masterKey, "agent-a", env)
	require.NoError(t, err)
	sealedB, err := sealEnvForStorage(masterKey, "agent-b", env)
	require.NoError(t, err)

	assert.NotEqual(t, sealedA["secret:TOKEN"], sealedB["secret:TOKEN"])

	_, err = unsealEnvForSpawn(masterKey, "agent-b", sealedA)
	assert.Error(t, err, "ciphertext sealed for one agent must not decrypt under another's key")
}

func TestUnsealFailsOnTamperedCiphertext(t *testing.T) {
	masterKey := []byte("test-master-key")
	sealed, err := sealEnvForStorage(masterKey, "agent-1", map[string]string{"secret:TOKEN": "value"})
	require.NoError(t, err)

	tampered := []byte(sealed["secret:TOKEN"])
	tampered[len(tampered)-1] ^= 0xFF
	sealed["secret:TOKEN"] = string(tampered)

	_, err = unsealEnvForSpawn(masterKey, "agent-1", sealed)
	assert.Error(t, err)
}

func TestSealOfEmptyEnvIsNoOp(t *testing.T) {
	sealed, err := sealEnvForStorage([]byte("key"), "agent-1", nil)
	require.NoError(t, err)
	assert.Nil(t, sealed)
}

func TestRedactEnvForReportingHidesOnlySecrets(t *testing.T) {
	redacted := redactEnvForReporting(map[string]string{
		"PLAIN":          "visible",
		"secret:API_KEY": "ciphertext-bytes",
	})
	assert.Equal(t, "visible", redacted["PLAIN"])
	assert.Equal(t, "[redacted]", redacted["secret:API_KEY"])
}
