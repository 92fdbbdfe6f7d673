package source

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPParameterStoreClientExtractsValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/systemsmanager/parameters/get", r.URL.Path)
		assert.Equal(t, "my-param", r.URL.Query().Get("name"))
		assert.Equal(t, "token-123", r.Header.Get("X-Aws-Parameters-Secrets-Token"))
		w.Write([]byte(`{"Parameter":{"Value":"{\"latency\":{\"enabled\":true}}"}}`))
	}))
	defer server.Close()

	host, portStr, _ := splitHostPort(server.URL)
	_ = host
	port, _ := strconv.Atoi(portStr)

	client := &HTTPParameterStoreClient{Port: port, SessionToken: "token-123"}
	raw, err := client.GetParameter(t.Context(), "my-param")
	require.NoError(t, err)
	assert.JSONEq(t, `{"latency":{"enabled":true}}`, string(raw))
}

func splitHostPort(url string) (string, string, error) {
	trimmed := strings.TrimPrefix(url, "http://")
	parts := strings.Split(trimmed, ":")
	return parts[0], parts[1], nil
}
