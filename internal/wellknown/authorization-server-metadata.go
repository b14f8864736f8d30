package wellknown

import (
	"net/url"
	"strings"
)

const (
	// AuthorizationServerMetadataPath is the RFC 8414 well-known suffix.
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
	// OpenIDConfigurationPath is the OpenID Connect discovery suffix.
	OpenIDConfigurationPath = "/.well-known/openid-configuration"
)

// AuthServerMetadata is the subset of RFC 8414 metadata a public PKCE client
// consumes.
type AuthServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// SupportsS256 reports whether the server advertises the S256 PKCE method.
// Servers that omit the field are assumed to support it.
func (m *AuthServerMetadata) SupportsS256() bool {
	if len(m.CodeChallengeMethodsSupported) == 0 {
		return true
	}
	for _, v := range m.CodeChallengeMethodsSupported {
		if v == "S256" {
			return true
		}
	}
	return false
}

// AuthorizationServerMetadataURL returns the RFC 8414 metadata location for
// issuer, inserting the well-known segment between host and path.
func AuthorizationServerMetadataURL(issuer string) (string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return "", err
	}
	p := strings.TrimSuffix(u.EscapedPath(), "/")
	return u.Scheme + "://" + u.Host + AuthorizationServerMetadataPath + p, nil
}
