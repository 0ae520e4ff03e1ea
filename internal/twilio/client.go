// Package twilio connects the bot to Twilio Programmable Messaging: the
// inbound webhook, outbound messages and MMS media downloads.
package twilio

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const DefaultBaseURL = "https://api.twilio.com"

type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	Timeout    time.Duration
}

// Client sends SMS through the REST API and downloads MMS media. It is the
// bot's "sms" channel.
type Client struct {
	http       *resty.Client
	accountSID string
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetBasicAuth(cfg.AccountSID, cfg.AuthToken),
		accountSID: cfg.AccountSID,
	}
}

func (c *Client) Name() string { return "sms" }

// Send creates an outbound message from one of our numbers
func (c *Client) Send(ctx context.Context, to, from, body string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"To": to, "From": from, "Body": body}).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", c.accountSID))
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to send message: %s: %s", resp.Status(), errorMessage(resp.Body()))
	}
	return nil
}

// FetchMedia downloads an MMS attachment. Media URLs are absolute and
// redirect to a CDN; resty follows the redirect.
func (c *Client) FetchMedia(ctx context.Context, ref string) ([]byte, string, error) {
	resp, err := c.http.R().SetContext(ctx).Get(ref)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("failed to download media: %s", resp.Status())
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}

func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "message"); msg.Exists() {
		return msg.String()
	}
	return string(body)
}
