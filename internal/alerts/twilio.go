package alerts

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emberassist/ember/internal/resilience"
)

const twilioDefaultBaseURL = "https://api.twilio.com"

// TwilioClient sends SMS and places voice calls through the Twilio REST API.
// An unconfigured client (missing credentials) is a silent no-op so callers
// can wire it unconditionally.
type TwilioClient struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	retry      resilience.RetryConfig
}

// TwilioOption configures a [TwilioClient].
type TwilioOption func(*TwilioClient)

// WithTwilioBaseURL overrides the API endpoint.
func WithTwilioBaseURL(u string) TwilioOption {
	return func(c *TwilioClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTwilioHTTPClient overrides the HTTP client.
func WithTwilioHTTPClient(hc *http.Client) TwilioOption {
	return func(c *TwilioClient) { c.httpClient = hc }
}

// WithTwilioRetry overrides the retry policy.
func WithTwilioRetry(cfg resilience.RetryConfig) TwilioOption {
	return func(c *TwilioClient) { c.retry = cfg }
}

// NewTwilioClient creates a client sending from the given E.164 number.
// Empty credentials produce an unconfigured no-op client.
func NewTwilioClient(accountSID, authToken, from string, opts ...TwilioOption) *TwilioClient {
	c := &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    twilioDefaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the client has credentials and a from number.
func (c *TwilioClient) Configured() bool {
	return c != nil && c.accountSID != "" && c.authToken != "" && c.from != ""
}

// SendSMS delivers body as a text message to the E.164 number to.
func (c *TwilioClient) SendSMS(ctx context.Context, to, body string) error {
	if !c.Configured() {
		return nil
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)
	return c.post(ctx, "Messages", form)
}

// PlaceCall rings the E.164 number to and reads message aloud twice.
func (c *TwilioClient) PlaceCall(ctx context.Context, to, message string) error {
	if !c.Configured() {
		return nil
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Twiml", sayTwiML(message))
	return c.post(ctx, "Calls", form)
}

// post submits a form to the Twilio resource (Messages or Calls), retrying
// on retryable statuses.
func (c *TwilioClient) post(ctx context.Context, resource string, form url.Values) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s.json", c.baseURL, c.accountSID, resource)
	return resilience.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("alerts: twilio request: %w", err))
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("alerts: twilio %s: %w", resource, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
			return nil
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err = fmt.Errorf("alerts: twilio %s: status %d: %s", resource, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resilience.IsRetryableStatus(resp.StatusCode) {
			return err
		}
		return resilience.Permanent(err)
	})
}

// sayTwiML builds the inline TwiML document that speaks message on an
// outbound call.
func sayTwiML(message string) string {
	var sb strings.Builder
	sb.WriteString(`<Response><Say loop="2">`)
	_ = xml.EscapeText(&sb, []byte(message)) // strings.Builder writes cannot fail
	sb.WriteString(`</Say></Response>`)
	return sb.String()
}
