package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// defaultParamStorePort is the local HTTP port of the AWS Parameters and
// Secrets Lambda extension, which this client talks to. Concrete remote
// config backends are out of scope for this proxy; this is the one
// HTTP-reachable local contract available without an AWS SDK dependency.
const defaultParamStorePort = 2773

// HTTPParameterStoreClient fetches a decrypted parameter-store value through
// the local Parameters and Secrets extension endpoint.
type HTTPParameterStoreClient struct {
	HTTPClient *http.Client
	Port       int
	SessionToken string
}

// NewHTTPParameterStoreClient builds a client using the default extension
// port and the AWS_SESSION_TOKEN the extension requires as a header.
func NewHTTPParameterStoreClient(sessionToken string) *HTTPParameterStoreClient {
	return &HTTPParameterStoreClient{Port: defaultParamStorePort, SessionToken: sessionToken}
}

func (c *HTTPParameterStoreClient) GetParameter(ctx context.Context, name string) ([]byte, error) {
	port := c.Port
	if port == 0 {
		port = defaultParamStorePort
	}

	url := fmt.Sprintf("http://localhost:%d/systemsmanager/parameters/get?name=%s&withDecryption=true", port, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build parameter-store request: %w", err)
	}
	req.Header.Set("X-Aws-Parameters-Secrets-Token", c.SessionToken)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch parameter %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parameter-store returned status %d for %q", resp.StatusCode, name)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read parameter-store response: %w", err)
	}

	var wrapper struct {
		Parameter struct {
			Value string `json:"Value"`
		} `json:"Parameter"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode parameter-store response: %w", err)
	}
	return []byte(wrapper.Parameter.Value), nil
}
