package tools

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/zulandar/junction/internal/directory"
)

// ProviderSmithery names the Smithery hosted registry.
const ProviderSmithery = "smithery"

// Endpoint forms the URL used to reach a registered server. Smithery servers
// take the API key and a base64-encoded JSON config as query parameters.
func Endpoint(s directory.ToolServer, smitheryKey string) (string, error) {
	if s.Provider != ProviderSmithery {
		return s.Endpoint, nil
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return "", fmt.Errorf("tools: parse endpoint %s: %w", s.Endpoint, err)
	}
	cfg := s.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("tools: encode config for %s: %w", s.Key(), err)
	}
	q := u.Query()
	if smitheryKey != "" {
		q.Set("api_key", smitheryKey)
	}
	q.Set("config", base64.StdEncoding.EncodeToString(raw))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
