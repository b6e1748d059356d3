package tushare_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"eoddump/internal/provider"
	"eoddump/internal/provider/tushare"
)

func TestQuery(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: stub the Do method
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodPost, req.Method)
			body := decodeRequest(t, req)
			require.Equal(t, "index_daily", body.APIName)
			require.Equal(t, "test-token", body.Token)
			require.Equal(t, "000300.SH", body.Params["ts_code"])
			require.Equal(t, "ts_code,trade_date,close", body.Fields)

			return okResponse(t, []string{"ts_code", "trade_date", "close"}, [][]any{
				{"000300.SH", "20240105", 3329.0551},
				{"000300.SH", "20240104", nil},
			}), nil
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := tushare.NewClient("test-token", tushare.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Query
	f, err := client.Query(testContext(t), "index_daily", map[string]string{"ts_code": "000300.SH"}, []string{"ts_code", "trade_date", "close"})
	require.NoError(t, err)

	// Assert: numbers keep their wire text and nulls become empty cells
	require.Equal(t, []string{"ts_code", "trade_date", "close"}, f.Columns)
	require.Equal(t, [][]string{
		{"000300.SH", "20240105", "3329.0551"},
		{"000300.SH", "20240104", ""},
	}, f.Rows)
}

func TestQuery_APIError(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{"code":40203,"msg":"rate limit","data":null}`)),
			}, nil
		}).
		Times(1)
	client, err := tushare.NewClient("t", tushare.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act
	f, err := client.Query(testContext(t), "daily", nil, nil)

	// Assert
	require.ErrorIs(t, err, provider.ErrProvider)
	require.Contains(t, err.Error(), "40203")
	require.Nil(t, f)
}

func TestQuery_StatusCodes(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		status int
		want   string
	}{
		{http.StatusForbidden, "unauthorized"},
		{http.StatusTooManyRequests, "rate limited"},
		{http.StatusBadGateway, "unexpected status code: 502"},
	} {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			httpClient := NewMockHTTPClient(ctrl)
			httpClient.EXPECT().
				Do(gomock.Any()).
				Return(&http.Response{StatusCode: tc.status, Body: io.NopCloser(bytes.NewReader(nil))}, nil).
				Times(1)
			client, err := tushare.NewClient("t", tushare.WithHTTPClient(httpClient))
			require.NoError(t, err)

			_, err = client.Query(testContext(t), "daily", nil, nil)
			require.ErrorIs(t, err, provider.ErrProvider)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestQuery_ErrPerformingRequest(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(nil, errors.New("connection reset")).
		Times(1)
	client, err := tushare.NewClient("t", tushare.WithHTTPClient(httpClient))
	require.NoError(t, err)

	_, err = client.Query(testContext(t), "daily", nil, nil)
	require.ErrorIs(t, err, provider.ErrProvider)
}

func TestQuery_ErrCreatingRequest(t *testing.T) {
	t.Parallel()

	// Arrange: the mock must not be reached
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Times(0)
	client, err := tushare.NewClient("t", tushare.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: an invalid base URL fails before any request is sent
	_, err = client.Query(testContext(t), "daily", nil, nil, tushare.WithBaseURL(string([]rune{0x7f})))
	require.Error(t, err)
}

func TestQuery_Malformed(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(&http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("<html>"))}, nil).
		Times(1)
	client, err := tushare.NewClient("t", tushare.WithHTTPClient(httpClient))
	require.NoError(t, err)

	_, err = client.Query(testContext(t), "daily", nil, nil)
	require.ErrorIs(t, err, provider.ErrProvider)
}
