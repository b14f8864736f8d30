package authflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ggoodman/mcp-session-go/oauth"
)

// Register performs RFC 7591 dynamic client registration.
func Register(ctx context.Context, hc *http.Client, disc *Discovery, meta oauth.ClientMetadata) (*oauth.ClientInformation, error) {
	endpoint := disc.AuthServer.RegistrationEndpoint
	if endpoint == "" {
		return nil, &oauth.ProtocolError{Op: "register", Description: "authorization server does not support dynamic client registration"}
	}
	// A registration request never carries a client id.
	meta.ClientID = ""
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client metadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, protocolErrorFromBody("register", resp.StatusCode, raw)
	}

	var info oauth.ClientInformation
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if info.ClientID == "" {
		return nil, &oauth.ProtocolError{Op: "register", StatusCode: resp.StatusCode, Description: "registration response missing client_id"}
	}
	return &info, nil
}

func protocolErrorFromBody(op string, status int, raw []byte) *oauth.ProtocolError {
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorURI         string `json:"error_uri"`
	}
	_ = json.Unmarshal(raw, &body)
	return &oauth.ProtocolError{
		Op:          op,
		Code:        body.Error,
		Description: body.ErrorDescription,
		URI:         body.ErrorURI,
		StatusCode:  status,
	}
}
