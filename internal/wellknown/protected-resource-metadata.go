package wellknown

import (
	"net/url"
	"strings"
)

// ProtectedResourceMetadataPath is the RFC 9728 well-known suffix.
const ProtectedResourceMetadataPath = "/.well-known/oauth-protected-resource"

type ProtectedResourceMetadata struct {
	Resource                          string   `json:"resource"`
	AuthorizationServers              []string `json:"authorization_servers,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported            []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	ResourceName                      string   `json:"resource_name,omitempty"`
	ResourceDocumentation             string   `json:"resource_documentation,omitempty"`
}

// ProtectedResourceMetadataURLs lists where metadata for resource may live,
// in lookup order: the path-suffixed location, then the origin root.
func ProtectedResourceMetadataURLs(resource string) ([]string, error) {
	u, err := url.Parse(resource)
	if err != nil {
		return nil, err
	}
	origin := u.Scheme + "://" + u.Host
	var out []string
	if p := strings.TrimSuffix(u.EscapedPath(), "/"); p != "" {
		out = append(out, origin+ProtectedResourceMetadataPath+p)
	}
	return append(out, origin+ProtectedResourceMetadataPath), nil
}
