// Package tushare is a client for the Tushare Pro HTTP API and the providers
// built on it.
package tushare

import (
	"errors"
	"net/http"
)

const baseURL = "http://api.tushare.pro"

// Name is the provider name used in chains and mapping tables.
const Name = "tushare"

// ErrNoToken is returned when the client is built without an API token.
var ErrNoToken = errors.New("tushare token is required")

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=tushare_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Tushare Pro API.
type Client struct {
	// baseURL is the endpoint every query is posted to.
	baseURL string
	// token authenticates each request body.
	token string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// Option is a configuration option for the client.
type Option func(*Client)

// WithBaseURL sets the endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new Tushare client.
func NewClient(token string, options ...Option) (*Client, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	var client = &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}
