package authflow

import (
	"regexp"
	"strings"
)

// Challenge is a parsed Bearer WWW-Authenticate header.
type Challenge struct {
	ResourceMetadata string
	Scope            string
	Error            string
	ErrorDescription string
}

var authParamRe = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseChallenge extracts the Bearer parameters an MCP client cares about. A
// header for another scheme yields a zero Challenge.
func ParseChallenge(header string) Challenge {
	header = strings.TrimSpace(header)
	scheme, params, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return Challenge{}
	}
	var c Challenge
	for _, m := range authParamRe.FindAllStringSubmatch(params, -1) {
		switch strings.ToLower(m[1]) {
		case "resource_metadata":
			c.ResourceMetadata = m[2]
		case "scope":
			c.Scope = m[2]
		case "error":
			c.Error = m[2]
		case "error_description":
			c.ErrorDescription = m[2]
		}
	}
	return c
}
