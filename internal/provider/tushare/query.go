package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"eoddump/internal/provider"
)

type request struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// Query calls one API and returns its table. Numbers keep their wire text.
func (c *Client) Query(ctx context.Context, api string, params map[string]string, fields []string, opts ...Option) (*provider.Frame, error) {
	var override = &Client{
		baseURL:    c.baseURL,
		token:      c.token,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
	}
	for _, opt := range opts {
		opt(override)
	}

	if params == nil {
		params = map[string]string{}
	}
	body, err := json.Marshal(request{
		APIName: api,
		Token:   override.token,
		Params:  params,
		Fields:  strings.Join(fields, ","),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, override.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header
	req.Header.Set("Content-Type", "application/json")

	res, err := override.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: performing request: %v", provider.ErrProvider, api, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		break

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s: unauthorized", provider.ErrProvider, api)

	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s: rate limited", provider.ErrProvider, api)

	default:
		return nil, fmt.Errorf("%w: %s: unexpected status code: %d", provider.ErrProvider, api, res.StatusCode)
	}

	var out response
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: decoding response: %v", provider.ErrProvider, api, err)
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("%w: %s: code %d: %s", provider.ErrProvider, api, out.Code, out.Msg)
	}
	if out.Data == nil {
		return provider.NewFrame(fields...), nil
	}

	f := provider.NewFrame(out.Data.Fields...)
	for _, item := range out.Data.Items {
		row := make([]string, len(item))
		for i, v := range item {
			row[i] = cell(v)
		}
		f.Append(row...)
	}
	return f, nil
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
