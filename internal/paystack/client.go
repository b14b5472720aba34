package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"course-billing/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrProviderUnavailable means the gateway could not give a definitive
	// answer: network failure, timeout or a 5xx.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrRequestRejected means the gateway answered and refused the request.
	ErrRequestRejected = errors.New("payment provider rejected request")
)

// Transaction statuses reported by verify. Only success, failed and reversed
// are final; ongoing, pending, processing, queued and abandoned can still
// change.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusReversed  = "reversed"
	StatusAbandoned = "abandoned"
	StatusOngoing   = "ongoing"
)

// InitializeResult is the data block of a successful initialize call
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is a verified transaction as reported by the gateway.
// Amount is in subunits.
type Verification struct {
	Message         string
	ID              int64
	Status          string
	Amount          int64
	Reference       string
	GatewayResponse string
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type verifyData struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	GatewayResponse string `json:"gateway_response"`
}

// Client talks to the Paystack REST API
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a Paystack client with a bounded request timeout
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// InitializeTransaction starts a hosted payment for amount subunits
func (c *Client) InitializeTransaction(ctx context.Context, amount int64, email string) (*InitializeResult, error) {
	ctx, span := util.StartSpan(ctx, "Paystack.InitializeTransaction")
	defer span.End()
	span.SetAttributes(attribute.Int64("amount", amount))

	body, err := json.Marshal(map[string]interface{}{"amount": amount, "email": email})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal initialize request: %w", err)
	}

	var result InitializeResult
	if _, err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body, &result); err != nil {
		util.FailSpan(span, err)
		return nil, err
	}
	if result.Reference == "" || result.AuthorizationURL == "" {
		return nil, fmt.Errorf("initialize response missing reference: %w", ErrRequestRejected)
	}

	return &result, nil
}

// VerifyTransaction fetches the outcome of a transaction by reference
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	ctx, span := util.StartSpan(ctx, "Paystack.VerifyTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("reference", reference))

	var data verifyData
	message, err := c.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data)
	if err != nil {
		util.FailSpan(span, err)
		return nil, err
	}
	if data.Reference != reference {
		return nil, fmt.Errorf("verify returned reference %q for %q: %w", data.Reference, reference, ErrRequestRejected)
	}

	return &Verification{
		Message:         message,
		ID:              data.ID,
		Status:          data.Status,
		Amount:          data.Amount,
		Reference:       data.Reference,
		GatewayResponse: data.GatewayResponse,
	}, nil
}

// do sends one request, classifies failures and decodes the data block into
// out. It returns the envelope message.
func (c *Client) do(ctx context.Context, endpoint, method, path string, body []byte, out interface{}) (string, error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		util.PaystackRequestDuration.WithLabelValues(endpoint, outcome).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		outcome = "error"
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "unavailable"
		util.GetLogger().Warn("Paystack request failed",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return "", fmt.Errorf("%s: %v: %w", endpoint, err, ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "unavailable"
		return "", fmt.Errorf("%s: read body: %v: %w", endpoint, err, ErrProviderUnavailable)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		outcome = "unavailable"
		return "", fmt.Errorf("%s: status %d: %w", endpoint, resp.StatusCode, ErrProviderUnavailable)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		outcome = "rejected"
		return "", fmt.Errorf("%s: status %d: malformed body: %w", endpoint, resp.StatusCode, ErrRequestRejected)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		outcome = "rejected"
		util.GetLogger().Warn("Paystack rejected request",
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", env.Message),
		)
		return "", fmt.Errorf("%s: %s: %w", endpoint, env.Message, ErrRequestRejected)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		outcome = "rejected"
		return "", fmt.Errorf("%s: malformed data: %w", endpoint, ErrRequestRejected)
	}

	return env.Message, nil
}
