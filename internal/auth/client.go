// Package auth talks to the external authorization site players visit to
// link their Slack identity.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	// BaseURL of the authorization site, e.g. "https://game.example.com".
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	base string
	http *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// AuthorizeURL returns the link a player opens to authorize the bot and
// prove ownership of their Slack account.
func (c *Client) AuthorizeURL(slackID string) string {
	return c.base + "/authorize?user=" + url.QueryEscape(slackID)
}

// Verify checks with the site that uid belongs to an authorized account.
func (c *Client) Verify(ctx context.Context, uid string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/verify?uid="+url.QueryEscape(uid), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound, http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("verify %s: unexpected status %d", uid, resp.StatusCode)
	}
}
