package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/types"
)

const emailListsFixture = `{"lists":[
	{"id":"small","name":"Newsletter","stats":{"member_count":120,"unsubscribe_count":4,"avg_open_rate":0.30,"avg_click_rate":0.02}},
	{"id":"main","name":"Customers","stats":{"member_count":5400,"unsubscribe_count":87,"avg_open_rate":0.42,"avg_click_rate":0.05}},
	{"id":"tie","name":"Also big","stats":{"member_count":5400,"unsubscribe_count":1,"avg_open_rate":0.10,"avg_click_rate":0.01}}
]}`

const emailGrowthFixture = `{"history":[
	{"month":"2026-10","subscribed":5400,"unsubscribed":87},
	{"month":"2025-11","subscribed":4100,"unsubscribed":40},
	{"month":"2026-04","subscribed":4800,"unsubscribed":60}
]}`

func newEmailServer(t *testing.T, reports http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/lists", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "anystring" || pass != "key123-us21" {
			jsonHandler(http.StatusUnauthorized, `{"title":"API Key Invalid","detail":"Your API key may be invalid, or you've attempted to access the wrong datacenter."}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, emailListsFixture)(w, r)
	})
	mux.HandleFunc("/reports", reports)
	mux.HandleFunc("/lists/main/growth-history", jsonHandler(http.StatusOK, emailGrowthFixture))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newEmailConnector(srv *httptest.Server) *EmailMarketingConnector {
	return NewEmailMarketingConnector(EmailMarketingConfig{
		BaseURL: srv.URL,
		Client:  testClientConfig(),
		Clock:   fixedClock,
	})
}

func TestEmailMarketing_NoCampaignsFallsBackToListAverages(t *testing.T) {
	srv := newEmailServer(t, jsonHandler(http.StatusOK, `{"reports":[]}`))

	got, err := newEmailConnector(srv).Fetch(context.Background(), &types.EmailMarketingCredential{APIKey: "key123-us21"})
	require.NoError(t, err)
	m := got.(*types.EmailMarketingMetrics)

	assert.Equal(t, "main", m.ListID, "largest list wins, ties keep vendor order")
	assert.Equal(t, int64(5400), m.SubscriberCount)
	assert.Equal(t, 0, m.CampaignsSent30d)
	assert.Equal(t, 0.42, m.OpenRate)
	assert.Equal(t, 0.05, m.ClickRate)
	assert.Equal(t, 0.119, m.ClickToOpenRate)
	assert.Equal(t, RateSourceListAverage, m.RateSource)
	assert.Empty(t, m.TopCampaigns)
	assert.Equal(t, fixedNow, m.FetchedAt())

	require.Len(t, m.GrowthHistory, 3)
	assert.Equal(t, "2025-11", m.GrowthHistory[0].Period)
	assert.Equal(t, "2026-10", m.GrowthHistory[2].Period)
	assert.Equal(t, int64(1300), m.NetGrowth12m)
}

func TestEmailMarketing_CampaignRates(t *testing.T) {
	reports := `{"reports":[
		{"id":"c1","list_id":"main","subject_line":"Spring sale","send_time":"2026-10-01T09:00:00+00:00","emails_sent":1000,"unsubscribed":10,
		 "bounces":{"hard_bounces":5,"soft_bounces":5},"opens":{"unique_opens":200,"open_rate":0.2},"clicks":{"unique_subscriber_clicks":20,"click_rate":0.02},"ecommerce":{"total_revenue":150.25}},
		{"id":"c2","list_id":"main","subject_line":"Restock","send_time":"2026-10-05T09:00:00+00:00","emails_sent":1000,"unsubscribed":0,
		 "bounces":{"hard_bounces":0,"soft_bounces":0},"opens":{"unique_opens":200,"open_rate":0.2},"clicks":{"unique_subscriber_clicks":40,"click_rate":0.04},"ecommerce":{"total_revenue":0}},
		{"id":"c3","list_id":"main","subject_line":"VIP early access","send_time":"2026-10-10T09:00:00+00:00","emails_sent":100,"unsubscribed":0,
		 "bounces":{"hard_bounces":0,"soft_bounces":0},"opens":{"unique_opens":50,"open_rate":0.5},"clicks":{"unique_subscriber_clicks":25,"click_rate":0.25},"ecommerce":{"total_revenue":99.75}},
		{"id":"other","list_id":"small","send_time":"2026-10-10T09:00:00+00:00","emails_sent":10,"opens":{"unique_opens":9,"open_rate":0.9}},
		{"id":"old","list_id":"main","send_time":"2026-08-01T09:00:00+00:00","emails_sent":10,"opens":{"unique_opens":9,"open_rate":0.9}}
	]}`
	srv := newEmailServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("since_send_time"))
		jsonHandler(http.StatusOK, reports)(w, r)
	})

	got, err := newEmailConnector(srv).Fetch(context.Background(), &types.EmailMarketingCredential{APIKey: "key123-us21"})
	require.NoError(t, err)
	m := got.(*types.EmailMarketingMetrics)

	assert.Equal(t, 3, m.CampaignsSent30d)
	assert.Equal(t, int64(2100), m.EmailsSent30d)
	assert.Equal(t, RateSourceCampaigns, m.RateSource)
	assert.Equal(t, 0.3, m.OpenRate)
	// average of 0.1, 0.2 and 0.5, not 85/450
	assert.Equal(t, 0.2667, m.ClickToOpenRate)
	assert.Equal(t, 0.0033, m.BounceRate)
	assert.Equal(t, 250.0, m.AttributedRevenue30d)

	require.Len(t, m.TopCampaigns, 1)
	assert.Equal(t, "c3", m.TopCampaigns[0].ID)
	assert.Equal(t, "VIP early access", m.TopCampaigns[0].Subject)
}

func TestEmailMarketing_SecondaryFailureTolerated(t *testing.T) {
	srv := newEmailServer(t, jsonHandler(http.StatusInternalServerError, `{"title":"Internal Server Error","detail":"try later"}`))

	got, err := newEmailConnector(srv).Fetch(context.Background(), &types.EmailMarketingCredential{APIKey: "key123-us21"})
	require.NoError(t, err)
	m := got.(*types.EmailMarketingMetrics)
	assert.Equal(t, RateSourceReportsUnavailable, m.RateSource, "a failed reports call is not an empty window")
	assert.Equal(t, 0.42, m.OpenRate)
	assert.Zero(t, m.BounceRate)
}

func TestEmailMarketing_ZeroActivity(t *testing.T) {
	tests := []struct {
		name       string
		reports    string
		wantSource string
		wantSent   int
	}{
		{
			name:       "no campaigns and zero list averages",
			reports:    `{"reports":[]}`,
			wantSource: RateSourceListAverage,
		},
		{
			name: "campaign with nothing delivered",
			reports: `{"reports":[{"id":"c0","list_id":"quiet","subject_line":"Draft blast","send_time":"2026-10-10T09:00:00+00:00",
				"emails_sent":0,"unsubscribed":0,"bounces":{"hard_bounces":0,"soft_bounces":0},
				"opens":{"unique_opens":0,"open_rate":0},"clicks":{"unique_subscriber_clicks":0,"click_rate":0},
				"ecommerce":{"total_revenue":0}}]}`,
			wantSource: RateSourceCampaigns,
			wantSent:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/lists", jsonHandler(http.StatusOK,
				`{"lists":[{"id":"quiet","name":"Quiet list","stats":{"member_count":0,"unsubscribe_count":0,"avg_open_rate":0,"avg_click_rate":0}}]}`))
			mux.HandleFunc("/reports", jsonHandler(http.StatusOK, tt.reports))
			mux.HandleFunc("/lists/quiet/growth-history", jsonHandler(http.StatusOK, `{"history":[]}`))
			srv := httptest.NewServer(mux)
			t.Cleanup(srv.Close)

			got, err := newEmailConnector(srv).Fetch(context.Background(), &types.EmailMarketingCredential{APIKey: "key123-us21"})
			require.NoError(t, err)
			m := got.(*types.EmailMarketingMetrics)

			assert.Equal(t, tt.wantSource, m.RateSource)
			assert.Equal(t, tt.wantSent, m.CampaignsSent30d)
			assert.Zero(t, m.SubscriberCount)
			for name, rate := range map[string]float64{
				"open":          m.OpenRate,
				"click":         m.ClickRate,
				"click-to-open": m.ClickToOpenRate,
				"bounce":        m.BounceRate,
				"unsubscribe":   m.UnsubscribeRate,
				"revenue":       m.AttributedRevenue30d,
			} {
				assert.Zero(t, rate, name)
			}
			assert.Zero(t, m.NetGrowth12m)
			assert.Empty(t, m.GrowthHistory)
		})
	}
}

func TestEmailMarketing_AuthFailureSurfacesVendorText(t *testing.T) {
	srv := newEmailServer(t, jsonHandler(http.StatusOK, `{"reports":[]}`))

	_, err := newEmailConnector(srv).Fetch(context.Background(), &types.EmailMarketingCredential{APIKey: "wrong-us21"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuth))

	var connErr *errors.ConnectorError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "Your API key may be invalid, or you've attempted to access the wrong datacenter.", connErr.Message)
}

func TestEmailMarketing_NoLists(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, `{"lists":[]}`))
	defer srv.Close()

	_, err := newEmailConnector(srv).Fetch(context.Background(), &types.EmailMarketingCredential{APIKey: "key123-us21"})
	assert.True(t, errors.IsKind(err, errors.KindResourceNotFound))
}

func TestEmailMarketing_ConfiguredListMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/lists/gone", jsonHandler(http.StatusNotFound, `{"title":"Resource Not Found","detail":"The requested resource could not be found."}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newEmailConnector(srv).Fetch(context.Background(), &types.EmailMarketingCredential{APIKey: "key123-us21", ListID: "gone"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindResourceNotFound))
	assert.Contains(t, err.Error(), "list gone not found")
}

func TestEmailMarketing_KeyWithoutDataCenter(t *testing.T) {
	c := NewEmailMarketingConnector(EmailMarketingConfig{})
	_, err := c.Fetch(context.Background(), &types.EmailMarketingCredential{APIKey: "nodatacenter"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidCredential))
}

func TestEmailMarketing_WrongCredential(t *testing.T) {
	c := NewEmailMarketingConnector(EmailMarketingConfig{})
	_, err := c.Fetch(context.Background(), &types.StorefrontCredential{ShopDomain: "x"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidCredential))
}
