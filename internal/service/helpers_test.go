package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/types"
)

var syncedAt = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

// fakeConnector returns a fixed record or error and counts its calls
type fakeConnector struct {
	platform types.Platform
	metrics  types.Metrics
	err      error
	calls    atomic.Int32
}

func (f *fakeConnector) Platform() types.Platform { return f.platform }

func (f *fakeConnector) Fetch(_ context.Context, cred types.Credential) (types.Metrics, error) {
	f.calls.Add(1)
	if cred.Platform() != f.platform {
		return nil, errors.NewInvalidCredentialError(f.platform, "wrong credential")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.metrics, nil
}

type fakeSet struct {
	email, store, web, ads *fakeConnector
}

func newFakeSet() *fakeSet {
	return &fakeSet{
		email: &fakeConnector{platform: types.PlatformEmailMarketing, metrics: emailFixture()},
		store: &fakeConnector{platform: types.PlatformStorefront, metrics: storefrontFixture()},
		web:   &fakeConnector{platform: types.PlatformWebAnalytics, metrics: webFixture()},
		ads:   &fakeConnector{platform: types.PlatformPaidAds, metrics: adsFixture()},
	}
}

func (f *fakeSet) registry() *Registry {
	return NewRegistry(Connectors{
		EmailMarketing: f.email,
		Storefront:     f.store,
		WebAnalytics:   f.web,
		PaidAds:        f.ads,
	})
}

func emailCred() *types.EmailMarketingCredential {
	return &types.EmailMarketingCredential{APIKey: "key-us21"}
}

func storefrontCred() *types.StorefrontCredential {
	return &types.StorefrontCredential{ShopDomain: "demo.myshopify.com", ClientID: "id", ClientSecret: "secret"}
}

func webCred() *types.WebAnalyticsCredential {
	return &types.WebAnalyticsCredential{ServiceAccountJSON: `{"type":"service_account"}`}
}

func adsCred() *types.PaidAdsCredential {
	return &types.PaidAdsCredential{
		DeveloperToken: "dev", ClientID: "id", ClientSecret: "secret",
		RefreshToken: "refresh", CustomerID: "1234567890",
	}
}

func emailFixture() *types.EmailMarketingMetrics {
	return &types.EmailMarketingMetrics{
		RecordHeader:         types.NewRecordHeader(types.PlatformEmailMarketing, syncedAt),
		ListID:               "main",
		ListName:             "Customers",
		SubscriberCount:      5400,
		UnsubscribeCount:     87,
		CampaignsSent30d:     3,
		EmailsSent30d:        2100,
		OpenRate:             0.3,
		ClickRate:            0.1033,
		ClickToOpenRate:      0.2667,
		BounceRate:           0.0033,
		UnsubscribeRate:      0.0033,
		RateSource:           "campaigns_30d",
		AttributedRevenue30d: 250,
		TopCampaigns: []types.CampaignPerformance{
			{ID: "c3", Subject: "VIP early access", EmailsSent: 100, OpenRate: 0.5, ClickRate: 0.25},
		},
		GrowthHistory: []types.TimePoint{{Period: "2025-11", Value: 4100}, {Period: "2026-10", Value: 5400}},
		NetGrowth12m:  1300,
	}
}

func storefrontFixture() *types.StorefrontMetrics {
	return &types.StorefrontMetrics{
		RecordHeader:    types.NewRecordHeader(types.PlatformStorefront, syncedAt),
		ShopDomain:      "demo.myshopify.com",
		Currency:        "USD",
		TotalOrders30d:  3,
		TotalRevenue30d: 300,
		AOV30d:          100,
		TopProducts30d: []types.ProductSales{
			{Title: "Tea", Quantity: 3, Revenue: 150},
		},
		ProductCount:              42,
		AbandonedCheckouts30d:     1,
		CheckoutCompletionRate:    0.75,
		SampledOrders:             6,
		SampledCustomers:          3,
		RepeatCustomers:           2,
		RepeatCustomerRate:        0.6667,
		AvgDaysToSecondOrder:      15,
		TopSecondPurchaseProducts: []types.ProductFrequency{{Title: "Tea", Customers: 2}},
	}
}

func webFixture() *types.WebAnalyticsMetrics {
	return &types.WebAnalyticsMetrics{
		RecordHeader:          types.NewRecordHeader(types.PlatformWebAnalytics, syncedAt),
		PropertyID:            "123",
		PropertyName:          "Shop web",
		Sessions30d:           12500,
		Users30d:              9800,
		NewUsers30d:           7000,
		PageViews30d:          31000,
		Conversions30d:        250,
		EngagementRate:        0.6543,
		BounceRate:            0.3457,
		ConversionRate:        0.02,
		AvgSessionDurationSec: 95.12,
		PagesPerSession:       2.48,
		Channels: []types.ChannelBreakdown{
			{Channel: "Organic Search", Sessions: 7500, Conversions: 150, ConversionRate: 0.02, Share: 0.6},
		},
		TopLandingPages: []types.LandingPage{{Path: "/", Sessions: 7000, BounceRate: 0.3}},
		Devices:         []types.DeviceShare{{Device: "mobile", Sessions: 9375, Share: 0.75}},
	}
}

func adsFixture() *types.PaidAdsMetrics {
	return &types.PaidAdsMetrics{
		RecordHeader:       types.NewRecordHeader(types.PlatformPaidAds, syncedAt),
		CustomerID:         "1234567890",
		AccountName:        "Acme Outdoors",
		Currency:           "USD",
		Spend30d:           12345.67,
		Impressions30d:     220000,
		Clicks30d:          6200,
		Conversions30d:     600,
		ConversionValue30d: 86700,
		CTR:                0.0282,
		ConversionRate:     0.0968,
		AvgCPC:             1.99,
		CostPerConversion:  20.58,
		ROAS:               7.02,
		Campaigns: []types.AdCampaign{
			{ID: "1", Name: "Brand", Status: "ENABLED", Spend: 10000, Clicks: 5000, CTR: 0.05, ROAS: 8},
		},
		TopCampaigns: []types.AdCampaign{{ID: "1", Name: "Brand", CTR: 0.05}},
		MonthlySpend: []types.TimePoint{{Period: "2026-10", Value: 12345.67}},
		Spend12m:     12345.67,
	}
}
