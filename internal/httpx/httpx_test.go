package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDo_DefaultHeaders(t *testing.T) {
	var gotUA, gotRef, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotRef = r.Header.Get("Referer")
		gotAccept = r.Header.Get("Accept")
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	c.Headers = map[string]string{"Referer": "https://quote.eastmoney.com/", "Accept": "*/*"}

	req, err := http.NewRequestWithContext(testContext(t), http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")

	res, err := c.Do(req)
	require.NoError(t, err)
	res.Body.Close()

	require.Equal(t, DefaultUserAgent, gotUA)
	require.Equal(t, "https://quote.eastmoney.com/", gotRef)
	require.Equal(t, "application/json", gotAccept, "request headers win over defaults")
}
