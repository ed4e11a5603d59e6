package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/txMaestro/web3safetykit/internal/config"
	pkgerrors "github.com/txMaestro/web3safetykit/internal/errors"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// EtherscanProvider dispatches explorer requests against the Etherscan V2
// unified endpoint. The chain is selected by the chainid query parameter
// carried in the request data.
type EtherscanProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewEtherscanProvider creates the explorer provider adapter. The transport
// retry (2 attempts) is bounded and separate from the gateway's queue-level
// retry.
func NewEtherscanProvider(cfg *config.EtherscanConfig) *EtherscanProvider {
	return &EtherscanProvider{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  newTransportClient(),
	}
}

// newTransportClient builds the shared retrying HTTP client
func newTransportClient() *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 1
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = 30 * time.Second
	c.Logger = nil
	return c.StandardClient()
}

// Name returns the provider tag
func (p *EtherscanProvider) Name() types.Provider {
	return types.ProviderEtherscan
}

// etherscanEnvelope is the explorer response shape; result stays raw so
// list and string payloads both pass through untouched.
type etherscanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Do executes one explorer call. Success is status=="1" or an OK message;
// "No transactions found" is an empty-list success; rate-limit shapes are
// transient, everything else permanent.
func (p *EtherscanProvider) Do(ctx context.Context, requestData map[string]any) (string, error) {
	params := url.Values{}
	for key, value := range requestData {
		params.Set(key, fmt.Sprint(value))
	}
	params.Set("apikey", p.apiKey)

	reqURL := fmt.Sprintf("%s?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", pkgerrors.Permanent("failed to build explorer request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", pkgerrors.Transient("explorer transport error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pkgerrors.Transient("failed to read explorer response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", pkgerrors.Transient(fmt.Sprintf("explorer HTTP %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.Permanent(fmt.Sprintf("explorer HTTP %d: %s", resp.StatusCode, truncate(body, 200)), nil)
	}

	var envelope etherscanEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", pkgerrors.Permanent("unparseable explorer response", err)
	}

	return classifyExplorerResponse(&envelope)
}

// classifyExplorerResponse applies the explorer success and sentinel rules
func classifyExplorerResponse(envelope *etherscanEnvelope) (string, error) {
	if envelope.Status == "1" ||
		(strings.Contains(envelope.Message, "OK") && !strings.Contains(envelope.Message, "NOTOK")) {
		return string(envelope.Result), nil
	}

	if strings.Contains(envelope.Message, "No transactions found") ||
		strings.Contains(envelope.Message, "No records found") {
		return "[]", nil
	}

	lowered := strings.ToLower(envelope.Message + " " + string(envelope.Result))
	if strings.Contains(lowered, "rate limit") {
		return "", pkgerrors.Transient(fmt.Sprintf("explorer rate limited: %s", envelope.Message), nil)
	}

	return "", pkgerrors.Permanent(fmt.Sprintf("explorer error: %s %s", envelope.Message, truncate(envelope.Result, 120)), nil)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
