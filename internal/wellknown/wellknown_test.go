package wellknown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtectedResourceMetadataURLs(t *testing.T) {
	got, err := ProtectedResourceMetadataURLs("https://mcp.example.com/v1/mcp/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://mcp.example.com/.well-known/oauth-protected-resource/v1/mcp",
		"https://mcp.example.com/.well-known/oauth-protected-resource",
	}, got)

	got, err = ProtectedResourceMetadataURLs("https://mcp.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://mcp.example.com/.well-known/oauth-protected-resource"}, got)
}

func TestAuthorizationServerMetadataURL(t *testing.T) {
	got, err := AuthorizationServerMetadataURL("https://auth.example.com/tenant1")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/.well-known/oauth-authorization-server/tenant1", got)

	got, err = AuthorizationServerMetadataURL("https://auth.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/.well-known/oauth-authorization-server", got)
}

func TestSupportsS256(t *testing.T) {
	assert.True(t, (&AuthServerMetadata{}).SupportsS256())
	assert.True(t, (&AuthServerMetadata{CodeChallengeMethodsSupported: []string{"plain", "S256"}}).SupportsS256())
	assert.False(t, (&AuthServerMetadata{CodeChallengeMethodsSupported: []string{"plain"}}).SupportsS256())
}
