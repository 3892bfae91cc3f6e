package alerts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emberassist/ember/internal/resilience"
)

const pushoverDefaultBaseURL = "https://api.pushover.net"

// PushoverClient delivers push notifications through the Pushover API. The
// application token is shared; each caregiver contact carries their own user
// key. An unconfigured client (empty token) is a silent no-op.
type PushoverClient struct {
	appToken   string
	baseURL    string
	httpClient *http.Client
	retry      resilience.RetryConfig
}

// PushoverOption configures a [PushoverClient].
type PushoverOption func(*PushoverClient)

// WithPushoverBaseURL overrides the API endpoint.
func WithPushoverBaseURL(u string) PushoverOption {
	return func(c *PushoverClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithPushoverHTTPClient overrides the HTTP client.
func WithPushoverHTTPClient(hc *http.Client) PushoverOption {
	return func(c *PushoverClient) { c.httpClient = hc }
}

// WithPushoverRetry overrides the retry policy.
func WithPushoverRetry(cfg resilience.RetryConfig) PushoverOption {
	return func(c *PushoverClient) { c.retry = cfg }
}

// NewPushoverClient creates a client for the given application token. An
// empty token produces an unconfigured no-op client.
func NewPushoverClient(appToken string, opts ...PushoverOption) *PushoverClient {
	c := &PushoverClient{
		appToken:   appToken,
		baseURL:    pushoverDefaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the client has an application token.
func (c *PushoverClient) Configured() bool {
	return c != nil && c.appToken != ""
}

// Push sends a high-priority notification to the contact identified by
// userKey. High priority bypasses the recipient's quiet hours, which is the
// point of an emergency alert.
func (c *PushoverClient) Push(ctx context.Context, userKey, title, message string) error {
	if !c.Configured() || userKey == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", c.appToken)
	form.Set("user", userKey)
	form.Set("title", title)
	form.Set("message", message)
	form.Set("priority", "1")

	endpoint := c.baseURL + "/1/messages.json"
	return resilience.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("alerts: pushover request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("alerts: pushover: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err = fmt.Errorf("alerts: pushover: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resilience.IsRetryableStatus(resp.StatusCode) {
			return err
		}
		return resilience.Permanent(err)
	})
}
