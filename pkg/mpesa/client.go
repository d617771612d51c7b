package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPDoer sends a single HTTP request. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an M-Pesa B2C API client
type Client struct {
	config      *ClientConfig
	httpClient  HTTPDoer
	credentials *Credentials
	logger      *slog.Logger

	mu         sync.RWMutex
	headers    map[string]string
	parameters map[string]string
}

// NewClient creates a new M-Pesa API client
func NewClient(config *ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return NewClientWithHTTPClient(config, &http.Client{
		Timeout: config.Timeout,
	})
}

// NewClientWithHTTPClient creates a new M-Pesa API client with a custom HTTP client
func NewClientWithHTTPClient(config *ClientConfig, httpClient HTTPDoer) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.B2CPath == "" {
		config.B2CPath = DefaultB2CPath
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		config:      config,
		httpClient:  httpClient,
		credentials: NewCredentials(config.APIKey, config.PublicKey, config.AccessToken),
		logger:      logger,
		headers:     make(map[string]string),
		parameters:  make(map[string]string),
	}
}

// Credentials returns the client's credential store for key rotation.
func (c *Client) Credentials() *Credentials {
	return c.credentials
}

// AddHeader sets an extra header sent with every request
func (c *Client) AddHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

// AddParameter sets an extra body field sent with every payment. The five
// input_ fields of B2CInput take precedence over a parameter of the same name.
func (c *Client) AddParameter(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parameters[key] = value
}

// buildBody merges extra parameters with the mandated input fields
func (c *Client) buildBody(input *B2CInput) ([]byte, error) {
	c.mu.RLock()
	body := make(map[string]string, len(c.parameters)+5)
	for k, v := range c.parameters {
		body[k] = v
	}
	c.mu.RUnlock()

	for k, v := range input.fields() {
		body[k] = v
	}
	return json.Marshal(body)
}

// newRequest builds the POST with all headers attached
func (c *Client) newRequest(ctx context.Context, token string, body []byte) (*http.Request, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + c.config.B2CPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if c.config.Origin != "" {
		req.Header.Set("Origin", c.config.Origin)
	}

	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.mu.RUnlock()

	return req, nil
}

// B2CPayment sends a business-to-customer disbursement. It returns the vendor
// response only when the HTTP status is a success and the vendor response code
// is INS-0; every other outcome is an *Error.
func (c *Client) B2CPayment(ctx context.Context, input *B2CInput) (*PaymentResponse, error) {
	if err := input.Validate(); err != nil {
		return nil, newError(KindValidation, err)
	}

	token, source, ok := c.credentials.TokenWithSource()
	if !ok {
		return nil, ErrNoCredential
	}

	body, err := c.buildBody(input)
	if err != nil {
		return nil, newError(KindSerialization, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := c.newRequest(ctx, token, body)
	if err != nil {
		return nil, newError(KindNetwork, fmt.Errorf("failed to create request: %w", err))
	}

	c.logger.DebugContext(ctx, "sending b2c payment",
		"third_party_reference", input.ThirdPartyReference,
		"credential_source", string(source))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(KindNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindNetwork, fmt.Errorf("failed to read response: %w", err))
	}

	result, err := c.interpret(resp.StatusCode, respBody)
	if err != nil {
		c.logger.DebugContext(ctx, "b2c payment failed",
			"third_party_reference", input.ThirdPartyReference,
			"status", resp.StatusCode,
			"error", err.Error())
		return nil, err
	}

	c.logger.DebugContext(ctx, "b2c payment accepted",
		"third_party_reference", input.ThirdPartyReference,
		"transaction_id", result.TransactionID)
	return result, nil
}

// interpret turns a raw response into either the accepted payment or a
// classified error.
func (c *Client) interpret(status int, body []byte) (*PaymentResponse, error) {
	if status >= 200 && status < 300 {
		var result PaymentResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, newError(KindSerialization, fmt.Errorf("failed to parse response: %w", err))
		}
		if result.IsSuccess() {
			return &result, nil
		}
		classified := Classify(status, result.ResponseDesc)
		classified.Response = &result
		return nil, classified
	}

	// Error bodies normally carry the vendor envelope; the response code is
	// the description key. Anything else is classified on the raw text.
	var envelope PaymentResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.ResponseCode != "" {
		classified := Classify(status, envelope.ResponseCode)
		classified.Response = &envelope
		return nil, classified
	}
	return nil, Classify(status, strings.TrimSpace(string(body)))
}
