package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs2pdf/internal/convert"
)

const sitemapURL = "https://docs.example.com/sitemap.xml"

func TestFetchXMLReturnsBody(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, sitemapURL,
		httpmock.NewStringResponder(http.StatusOK, `<urlset></urlset>`))

	f := New(Config{UserAgent: "docs2pdf-test"}, WithTransport(mock))
	body, err := f.FetchXML(context.Background(), sitemapURL, time.Second)
	require.NoError(t, err)
	assert.Equal(t, `<urlset></urlset>`, body)

	// Revisits must not be suppressed by colly's visited store.
	_, err = f.FetchXML(context.Background(), sitemapURL, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, mock.GetCallCountInfo()["GET "+sitemapURL])
}

func TestFetchXMLWrapsHTTPErrors(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, sitemapURL,
		httpmock.NewStringResponder(http.StatusNotFound, "missing"))

	f := New(Config{}, WithTransport(mock))
	_, err := f.FetchXML(context.Background(), sitemapURL, time.Second)
	require.Error(t, err)
	var netErr *convert.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, sitemapURL, netErr.URL)
	assert.Equal(t, "network", convert.Classify(err))
}

func TestFetchXMLTransportFailure(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, sitemapURL,
		httpmock.NewErrorResponder(errors.New("connection reset")))

	f := New(Config{}, WithTransport(mock))
	_, err := f.FetchXML(context.Background(), sitemapURL, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestFetchXMLHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, sitemapURL, func(*http.Request) (*http.Response, error) {
		time.Sleep(200 * time.Millisecond)
		return httpmock.NewStringResponse(http.StatusOK, "<urlset/>"), nil
	})
	f := New(Config{}, WithTransport(mock))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.FetchXML(ctx, sitemapURL, time.Second)
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	res := &fetchResult{}
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, res)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(req)
	assert.Contains(t, req.Headers.Get("Accept"), "application/xml")

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("<x/>")})
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "<x/>", string(res.body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("bad gateway"))
	assert.Equal(t, http.StatusBadGateway, res.status)
	assert.EqualError(t, res.err, "bad gateway")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
