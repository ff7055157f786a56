package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/create2-factory-registry/api"
	"github.com/ruteri/create2-factory-registry/interfaces"
	"github.com/ruteri/create2-factory-registry/registry"
)

// ErrNotFound is returned for 404 responses that do not map to a registry error.
var ErrNotFound = errors.New("not found")

// FactoryClient talks to the factory server HTTP API.
type FactoryClient struct {
	baseURL    string
	key        *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewFactoryClient creates a client for baseURL. key signs deployments and may be nil
// for read-only use.
func NewFactoryClient(baseURL string, key *ecdsa.PrivateKey, timeout ...time.Duration) *FactoryClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &FactoryClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

// Create asks the server to deploy and register an instance.
func (c *FactoryClient) Create(ctx context.Context, req api.CreateRequest) (*api.CreateResponse, error) {
	if c.key == nil {
		return nil, errors.New("no signing key configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/deployments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := api.SignRequest(httpReq, body, c.key); err != nil {
		return nil, err
	}

	var resp api.CreateResponse
	if err := c.do(httpReq, http.StatusCreated, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Predict returns the address a deployment of initCode with salt would get.
func (c *FactoryClient) Predict(ctx context.Context, salt interfaces.Salt, initCode []byte) (common.Address, error) {
	body, err := json.Marshal(api.PredictRequest{InitCode: initCode, Salt: salt})
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/predict", bytes.NewReader(body))
	if err != nil {
		return common.Address{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp api.AddressResponse
	if err := c.do(httpReq, http.StatusOK, &resp, nil); err != nil {
		return common.Address{}, err
	}
	return resp.Address, nil
}

// Length returns the number of registered instances.
func (c *FactoryClient) Length(ctx context.Context) (int, error) {
	var resp api.LengthResponse
	if err := c.get(ctx, "/api/v1/deployments/length", &resp, nil); err != nil {
		return 0, err
	}
	return resp.Length, nil
}

// Last returns the most recently registered instance.
func (c *FactoryClient) Last(ctx context.Context) (common.Address, error) {
	var resp api.AddressResponse
	if err := c.get(ctx, "/api/v1/deployments/last", &resp, registry.ErrNoInstancesDeployed); err != nil {
		return common.Address{}, err
	}
	return resp.Address, nil
}

// At returns the instance at index.
func (c *FactoryClient) At(ctx context.Context, index uint64) (common.Address, error) {
	var resp api.AddressResponse
	if err := c.get(ctx, fmt.Sprintf("/api/v1/deployments/%d", index), &resp, registry.ErrIndexOutOfRange); err != nil {
		return common.Address{}, err
	}
	return resp.Address, nil
}

// List returns every registered instance in insertion order.
func (c *FactoryClient) List(ctx context.Context) ([]common.Address, error) {
	var resp api.ListResponse
	if err := c.get(ctx, "/api/v1/deployments", &resp, nil); err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

// Lookup returns the instance registered for identity. Absence is not an error.
func (c *FactoryClient) Lookup(ctx context.Context, identity common.Address) (common.Address, bool, error) {
	var resp api.IdentityResponse
	err := c.get(ctx, "/api/v1/identities/"+identity.Hex(), &resp, nil)
	if errors.Is(err, ErrNotFound) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	return resp.Address, true, nil
}

// FactoryInfo returns the factory address, owner and registry length.
func (c *FactoryClient) FactoryInfo(ctx context.Context) (*api.FactoryInfoResponse, error) {
	var resp api.FactoryInfoResponse
	if err := c.get(ctx, "/api/v1/factory", &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FactoryClient) get(ctx context.Context, path string, out any, notFound error) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, http.StatusOK, out, notFound)
}

// do sends req and decodes a successful response into out. Error statuses are
// mapped back to registry errors; notFound overrides the meaning of a 404.
func (c *FactoryClient) do(req *http.Request, expected int, out any, notFound error) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		message := strings.TrimSpace(string(body))
		var errResp api.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}

		var sentinel error
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			sentinel = api.ErrInvalidSignature
		case http.StatusForbidden:
			sentinel = registry.ErrUnauthorized
		case http.StatusUnprocessableEntity:
			sentinel = registry.ErrDeployFailed
		case http.StatusConflict:
			sentinel = registry.ErrIdentityMismatch
		case http.StatusNotFound:
			sentinel = ErrNotFound
			if notFound != nil {
				sentinel = notFound
			}
		default:
			return fmt.Errorf("%s returned %d: %s", req.URL.Path, resp.StatusCode, message)
		}
		return fmt.Errorf("%w: %s", sentinel, message)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
