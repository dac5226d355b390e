// Package twilio is a minimal client for the provider's voice REST API:
// creating outbound calls and validating webhook signatures. Nothing else
// of the API surface is needed here.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com"

// ErrMissingCredentials is returned before any network I/O when the account
// SID, auth token or origin phone number is not configured.
var ErrMissingCredentials = errors.New("twilio credentials not configured")

type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
}

func NewClient(accountSID, authToken, from string) *Client {
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Dial places an outbound call to the given number. When the call connects,
// the provider fetches callbackURL for TwiML instructions; the code being
// redeemed travels inside that URL, not in process memory. Returns the
// provider's call SID.
func (c *Client) Dial(ctx context.Context, to, callbackURL string) (string, error) {
	if c.accountSID == "" || c.authToken == "" || c.from == "" {
		return "", ErrMissingCredentials
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Url", callbackURL)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read call response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("create call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decode call response: %w", err)
	}
	return created.SID, nil
}

// ValidateWebhook checks an X-Twilio-Signature header against this client's
// auth token for the given request URL and POST form.
func (c *Client) ValidateWebhook(fullURL string, form url.Values, signature string) bool {
	return ValidateSignature(c.authToken, fullURL, form, signature)
}
