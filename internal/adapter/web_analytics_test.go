package adapter

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/types"
)

// serviceAccountKey builds a key file whose token_uri points at tokenURL
func serviceAccountKey(t *testing.T, tokenURL string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "funnel-test",
		"private_key_id": "k1",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email":   "reporter@funnel-test.iam.gserviceaccount.com",
		"client_id":      "1234567890",
		"token_uri":      tokenURL,
	})
	require.NoError(t, err)
	return string(raw)
}

type analyticsFixture struct {
	token     http.HandlerFunc
	summaries http.HandlerFunc
	// report answers runReport keyed by the first dimension ("" for totals)
	report map[string]http.HandlerFunc
}

const accountSummariesFixture = `{"accountSummaries":[
	{"account":"accounts/1","displayName":"Empty account","propertySummaries":[]},
	{"account":"accounts/2","displayName":"Shop","propertySummaries":[
		{"property":"properties/123","displayName":"Shop web"},
		{"property":"properties/456","displayName":"Shop staging"}
	]}
]}`

func defaultReports() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"": jsonHandler(http.StatusOK, `{"rows":[{"metricValues":[
			{"value":"1000"},{"value":"800"},{"value":"600"},{"value":"2500"},
			{"value":"0.65432"},{"value":"0.34568"},{"value":"95.123"},{"value":"25"}]}]}`),
		"sessionDefaultChannelGroup": jsonHandler(http.StatusOK, `{"rows":[
			{"dimensionValues":[{"value":"Direct"}],"metricValues":[{"value":"400"},{"value":"10"}]},
			{"dimensionValues":[{"value":"Organic Search"}],"metricValues":[{"value":"600"},{"value":"15"}]}]}`),
		"landingPage": jsonHandler(http.StatusOK, `{"rows":[
			{"dimensionValues":[{"value":"/"}],"metricValues":[{"value":"700"},{"value":"0.3"}]},
			{"dimensionValues":[{"value":"/sale"}],"metricValues":[{"value":"300"},{"value":"0.5"}]}]}`),
		"deviceCategory": jsonHandler(http.StatusOK, `{"rows":[
			{"dimensionValues":[{"value":"mobile"}],"metricValues":[{"value":"750"}]},
			{"dimensionValues":[{"value":"desktop"}],"metricValues":[{"value":"250"}]}]}`),
		"date": jsonHandler(http.StatusOK, `{"rows":[
			{"dimensionValues":[{"value":"20261002"}],"metricValues":[{"value":"40"}]},
			{"dimensionValues":[{"value":"20261001"}],"metricValues":[{"value":"35"}]}]}`),
	}
}

func newAnalyticsServer(t *testing.T, f analyticsFixture) *httptest.Server {
	t.Helper()
	if f.token == nil {
		f.token = func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))
			assert.NotEmpty(t, r.PostForm.Get("assertion"))
			jsonHandler(http.StatusOK, `{"access_token":"ya29.analytics","token_type":"Bearer","expires_in":3600}`)(w, r)
		}
	}
	if f.summaries == nil {
		f.summaries = jsonHandler(http.StatusOK, accountSummariesFixture)
	}
	if f.report == nil {
		f.report = defaultReports()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.token)
	mux.HandleFunc("/admin/accountSummaries", f.summaries)
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ya29.analytics" {
			jsonHandler(http.StatusUnauthorized, `{"error":{"code":401,"message":"Request had invalid authentication credentials."}}`)(w, r)
			return
		}
		if r.URL.Path != "/data/properties/123:runReport" {
			jsonHandler(http.StatusNotFound, `{"error":{"code":404,"message":"Requested entity was not found."}}`)(w, r)
			return
		}
		var req gaReportRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		dim := ""
		if len(req.Dimensions) > 0 {
			dim = req.Dimensions[0].Name
		}
		h, ok := f.report[dim]
		if !ok {
			jsonHandler(http.StatusInternalServerError, `{"error":{"message":"unexpected report"}}`)(w, r)
			return
		}
		h(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newAnalyticsConnector(srv *httptest.Server) *WebAnalyticsConnector {
	return NewWebAnalyticsConnector(WebAnalyticsConfig{
		DataURL:  srv.URL + "/data",
		AdminURL: srv.URL + "/admin",
		Client:   testClientConfig(),
		Clock:    fixedClock,
	})
}

func TestWebAnalytics_Fetch(t *testing.T) {
	srv := newAnalyticsServer(t, analyticsFixture{})
	cred := &types.WebAnalyticsCredential{ServiceAccountJSON: serviceAccountKey(t, srv.URL+"/token")}

	got, err := newAnalyticsConnector(srv).Fetch(context.Background(), cred)
	require.NoError(t, err)
	m := got.(*types.WebAnalyticsMetrics)

	assert.Equal(t, "123", m.PropertyID, "first property in listing order")
	assert.Equal(t, "Shop web", m.PropertyName)
	assert.Equal(t, int64(1000), m.Sessions30d)
	assert.Equal(t, int64(800), m.Users30d)
	assert.Equal(t, int64(2500), m.PageViews30d)
	assert.Equal(t, 0.6543, m.EngagementRate)
	assert.Equal(t, 0.3457, m.BounceRate)
	assert.Equal(t, 95.12, m.AvgSessionDurationSec)
	assert.Equal(t, 25.0, m.Conversions30d)
	assert.Equal(t, 0.025, m.ConversionRate)
	assert.Equal(t, 2.5, m.PagesPerSession)

	require.Len(t, m.Channels, 2)
	assert.Equal(t, "Organic Search", m.Channels[0].Channel)
	assert.Equal(t, 0.6, m.Channels[0].Share)
	assert.Equal(t, 0.025, m.Channels[0].ConversionRate)

	require.Len(t, m.TopLandingPages, 2)
	assert.Equal(t, "/", m.TopLandingPages[0].Path)
	require.Len(t, m.Devices, 2)
	assert.Equal(t, 0.75, m.Devices[0].Share)

	assert.Equal(t, []types.TimePoint{
		{Period: "2026-10-01", Value: 35},
		{Period: "2026-10-02", Value: 40},
	}, m.DailySessions)
}

func TestWebAnalytics_ConfiguredProperty(t *testing.T) {
	srv := newAnalyticsServer(t, analyticsFixture{
		summaries: func(w http.ResponseWriter, r *http.Request) {
			t.Error("property listing must not be called when a property is configured")
		},
	})
	cred := &types.WebAnalyticsCredential{ServiceAccountJSON: serviceAccountKey(t, srv.URL+"/token"), PropertyID: "properties/123"}

	got, err := newAnalyticsConnector(srv).Fetch(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "123", got.(*types.WebAnalyticsMetrics).PropertyID)
}

func TestWebAnalytics_UnknownConfiguredProperty(t *testing.T) {
	srv := newAnalyticsServer(t, analyticsFixture{})
	cred := &types.WebAnalyticsCredential{ServiceAccountJSON: serviceAccountKey(t, srv.URL+"/token"), PropertyID: "999"}

	_, err := newAnalyticsConnector(srv).Fetch(context.Background(), cred)
	assert.True(t, errors.IsKind(err, errors.KindResourceNotFound))
}

func TestWebAnalytics_NoProperties(t *testing.T) {
	srv := newAnalyticsServer(t, analyticsFixture{
		summaries: jsonHandler(http.StatusOK, `{"accountSummaries":[{"account":"accounts/1","propertySummaries":[]}]}`),
	})
	cred := &types.WebAnalyticsCredential{ServiceAccountJSON: serviceAccountKey(t, srv.URL+"/token")}

	_, err := newAnalyticsConnector(srv).Fetch(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindResourceNotFound))
}

func TestWebAnalytics_TokenRejected(t *testing.T) {
	srv := newAnalyticsServer(t, analyticsFixture{
		token: jsonHandler(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Invalid JWT Signature."}`),
	})
	cred := &types.WebAnalyticsCredential{ServiceAccountJSON: serviceAccountKey(t, srv.URL+"/token")}

	_, err := newAnalyticsConnector(srv).Fetch(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuth))

	var connErr *errors.ConnectorError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "Invalid JWT Signature.", connErr.Message)
}

func TestWebAnalytics_MalformedKeyFile(t *testing.T) {
	c := NewWebAnalyticsConnector(WebAnalyticsConfig{})
	_, err := c.Fetch(context.Background(), &types.WebAnalyticsCredential{ServiceAccountJSON: "{not json"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidCredential))
}

func TestWebAnalytics_SecondaryFailureTolerated(t *testing.T) {
	reports := defaultReports()
	reports["deviceCategory"] = jsonHandler(http.StatusInternalServerError, `{"error":{"message":"backend error"}}`)
	srv := newAnalyticsServer(t, analyticsFixture{report: reports})
	cred := &types.WebAnalyticsCredential{ServiceAccountJSON: serviceAccountKey(t, srv.URL+"/token")}

	got, err := newAnalyticsConnector(srv).Fetch(context.Background(), cred)
	require.NoError(t, err)
	m := got.(*types.WebAnalyticsMetrics)
	assert.Empty(t, m.Devices)
	assert.Len(t, m.Channels, 2)
}

func TestWebAnalytics_EmptyTotals(t *testing.T) {
	reports := defaultReports()
	reports[""] = jsonHandler(http.StatusOK, `{"rowCount":0}`)
	srv := newAnalyticsServer(t, analyticsFixture{report: reports})
	cred := &types.WebAnalyticsCredential{ServiceAccountJSON: serviceAccountKey(t, srv.URL+"/token")}

	got, err := newAnalyticsConnector(srv).Fetch(context.Background(), cred)
	require.NoError(t, err)
	m := got.(*types.WebAnalyticsMetrics)
	assert.Equal(t, int64(0), m.Sessions30d)
	assert.Equal(t, 0.0, m.ConversionRate)
	assert.Equal(t, 0.0, m.Channels[0].Share, "share against zero sessions is guarded")
}
