// Package adminclient is the resty-based client cmd/fbuildctl uses to
// talk to a running cmd/fbuild or cmd/fworker's admin API. Grounded on
// common/connectors/connector_base.go's ConnectorBase (a *resty.Client
// bound to one base URL) and common/connectors/masterconn/connector.go's
// per-endpoint method shape (SetContext, SetResult/SetQueryParam, a thin
// wrapper over apienvelope.Receive).
package adminclient

import (
	"context"
	"encoding/json"

	"github.com/go-resty/resty/v2"

	"github.com/InSimo/fastbuild/internal/apienvelope"
	"github.com/InSimo/fastbuild/internal/config"
)

// Client talks to one peer's admin API.
type Client struct {
	client *resty.Client
}

// New builds a Client bound to conn.Address.
func New(conn config.Connection) *Client {
	c := resty.New()
	c.SetBaseURL(conn.Address)
	return &Client{client: c}
}

// Status fetches GET /status's raw JSON rows (internal/control/render's
// shape), undecoded — callers that only need to display or forward the
// payload don't need internal/serverstate in scope.
func (c *Client) Status(ctx context.Context, detailed bool) (json.RawMessage, error) {
	r := c.client.R().SetContext(ctx)
	if detailed {
		r.SetQueryParam("detailed", "1")
	}
	data, err := apienvelope.Receive[json.RawMessage](r, "/status", resty.MethodGet)
	if err != nil {
		return nil, err
	}
	return *data, nil
}

// MetricsText fetches GET /metrics's raw prometheus exposition text.
func (c *Client) MetricsText(ctx context.Context) (string, error) {
	resp, err := c.client.R().SetContext(ctx).Get("/metrics")
	if err != nil {
		return "", err
	}
	return string(resp.Body()), nil
}
