package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadpipe/internal/config"
	"leadpipe/internal/constants"
	"leadpipe/pkg/retry"
)

// Vonage status codes worth another attempt; every other non-zero status is
// a permanent rejection.
const (
	vonageStatusOK        = "0"
	vonageStatusThrottled = "1"
	vonageStatusInternal  = "5"
)

type VonageClient struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	apiSecret string
	from      string
	policy    retry.Policy
}

type vonageResponse struct {
	MessageCount string          `json:"message-count"`
	Messages     []vonageMessage `json:"messages"`
}

type vonageMessage struct {
	To        string `json:"to"`
	MessageID string `json:"message-id"`
	Status    string `json:"status"`
	ErrorText string `json:"error-text"`
}

// StatusError is a non-zero status reported by the SMS API.
type StatusError struct {
	Status    string
	ErrorText string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vonage status %s: %s", e.Status, e.ErrorText)
}

func NewVonageClient(cfg config.SMSConfig) *VonageClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = constants.VonageSMSURL
	}
	from := cfg.From
	if from == "" {
		from = constants.DefaultSMSFrom
	}

	return &VonageClient{
		client:    &http.Client{Timeout: timeout},
		endpoint:  endpoint,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		from:      from,
		policy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
			MaxElapsedTime:  30 * time.Second,
		},
	}
}

// WithPolicy replaces the retry policy used for throttled or failed calls.
func (c *VonageClient) WithPolicy(p retry.Policy) *VonageClient {
	c.policy = p
	return c
}

func (c *VonageClient) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return retry.NewFatalError(fmt.Errorf("sms recipient is empty"))
	}
	return retry.Retry(ctx, c.policy, func() error {
		return c.send(ctx, msg)
	})
}

func (c *VonageClient) send(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("api_key", c.apiKey)
	form.Set("api_secret", c.apiSecret)
	form.Set("from", c.from)
	form.Set("to", strings.TrimPrefix(msg.To, "+"))
	form.Set("text", msg.Text)
	form.Set("type", "unicode")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return retry.NewFatalError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("sms api returned status: %d", resp.StatusCode)
	}
	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		return retry.NewFatalError(fmt.Errorf("sms api returned status: %d", resp.StatusCode))
	}

	var result vonageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return retry.NewFatalError(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(result.Messages) == 0 {
		return retry.NewFatalError(fmt.Errorf("sms api returned no messages"))
	}

	first := result.Messages[0]
	switch first.Status {
	case vonageStatusOK:
		return nil
	case vonageStatusThrottled, vonageStatusInternal:
		return &StatusError{Status: first.Status, ErrorText: first.ErrorText}
	default:
		return retry.NewFatalError(&StatusError{Status: first.Status, ErrorText: first.ErrorText})
	}
}
