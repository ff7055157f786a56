package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/create2-factory-registry/api"
)

// AdminClient submits deployer key shares to a recovering server.
type AdminClient struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewAdminClient creates a client for the admin API at baseURL. privateKey is the
// shareholder key requests are signed with.
func NewAdminClient(baseURL string, privateKey *ecdsa.PrivateKey, timeout ...time.Duration) *AdminClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &AdminClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		privateKey: privateKey,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// GetStatus queries deployer key recovery progress.
func (c *AdminClient) GetStatus(ctx context.Context) (*api.AdminStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/admin/status", nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// SubmitShare signs and submits one share.
func (c *AdminClient) SubmitShare(ctx context.Context, share []byte) (*api.AdminStatusResponse, error) {
	body, err := json.Marshal(api.ShareSubmission{Share: share})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/admin/share", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := api.SignRequest(req, body, c.privateKey); err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *AdminClient) do(req *http.Request) (*api.AdminStatusResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s failed with code %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status api.AdminStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &status, nil
}
