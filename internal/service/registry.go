package service

import (
	"strings"

	"github.com/funnel-metrics/internal/adapter"
	"github.com/funnel-metrics/internal/config"
	"github.com/funnel-metrics/internal/types"
)

// PlatformEntry binds one platform to its connector and the two renderers of
// its cached metrics
type PlatformEntry struct {
	Platform  types.Platform
	Connector adapter.Connector
	preview   func(types.Metrics) []types.PreviewItem
	summary   func(*strings.Builder, types.Metrics)
}

// Preview renders the card items for a cached record
func (e PlatformEntry) Preview(m types.Metrics) []types.PreviewItem {
	return e.preview(m)
}

// Summary appends the prompt section for a cached record
func (e PlatformEntry) Summary(sb *strings.Builder, m types.Metrics) {
	e.summary(sb, m)
}

// newEntry ties a connector to renderers typed on its metrics variant. A
// record of another variant renders nothing.
func newEntry[M types.Metrics](
	platform types.Platform,
	connector adapter.Connector,
	preview func(M) []types.PreviewItem,
	summary func(*strings.Builder, M),
) PlatformEntry {
	return PlatformEntry{
		Platform:  platform,
		Connector: connector,
		preview: func(m types.Metrics) []types.PreviewItem {
			rec, ok := m.(M)
			if !ok {
				return nil
			}
			return preview(rec)
		},
		summary: func(sb *strings.Builder, m types.Metrics) {
			if rec, ok := m.(M); ok {
				summary(sb, rec)
			}
		},
	}
}

// Connectors is the set of connectors a registry is built from
type Connectors struct {
	EmailMarketing adapter.Connector
	Storefront     adapter.Connector
	WebAnalytics   adapter.Connector
	PaidAds        adapter.Connector
}

// NewConnectors builds the vendor connectors from configuration
func NewConnectors(cfg config.ConnectorsConfig) Connectors {
	client := adapter.ClientConfig{
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxAttempts:       cfg.MaxAttempts,
		RetryDelay:        cfg.RetryDelay,
	}

	return Connectors{
		EmailMarketing: adapter.NewEmailMarketingConnector(adapter.EmailMarketingConfig{
			BaseURL: cfg.EmailMarketingBaseURL,
			Client:  client,
		}),
		Storefront: adapter.NewStorefrontConnector(adapter.StorefrontConfig{
			APIVersion: cfg.StorefrontAPIVersion,
			BaseURL:    cfg.StorefrontBaseURL,
			Client:     client,
		}),
		WebAnalytics: adapter.NewWebAnalyticsConnector(adapter.WebAnalyticsConfig{
			DataURL:  cfg.WebAnalyticsDataURL,
			AdminURL: cfg.WebAnalyticsAdminURL,
			TokenURL: cfg.WebAnalyticsTokenURL,
			Client:   client,
		}),
		PaidAds: adapter.NewPaidAdsConnector(adapter.PaidAdsConfig{
			BaseURL:    cfg.PaidAdsBaseURL,
			APIVersion: cfg.PaidAdsAPIVersion,
			TokenURL:   cfg.PaidAdsTokenURL,
			Client:     client,
		}),
	}
}

// Registry maps every supported platform to its entry. It is built once at
// startup and read concurrently afterwards.
type Registry struct {
	entries map[types.Platform]PlatformEntry
}

// NewRegistry wires each connector to its platform's renderers
func NewRegistry(c Connectors) *Registry {
	entries := []PlatformEntry{
		newEntry(types.PlatformEmailMarketing, c.EmailMarketing, emailMarketingPreview, emailMarketingSummary),
		newEntry(types.PlatformStorefront, c.Storefront, storefrontPreview, storefrontSummary),
		newEntry(types.PlatformWebAnalytics, c.WebAnalytics, webAnalyticsPreview, webAnalyticsSummary),
		newEntry(types.PlatformPaidAds, c.PaidAds, paidAdsPreview, paidAdsSummary),
	}

	r := &Registry{entries: make(map[types.Platform]PlatformEntry, len(entries))}
	for _, e := range entries {
		r.entries[e.Platform] = e
	}
	return r
}

// Lookup returns the entry for platform
func (r *Registry) Lookup(platform types.Platform) (PlatformEntry, bool) {
	e, ok := r.entries[platform]
	return e, ok
}

// Entries returns every entry in display order
func (r *Registry) Entries() []PlatformEntry {
	out := make([]PlatformEntry, 0, len(r.entries))
	for _, p := range types.AllPlatforms() {
		if e, ok := r.entries[p]; ok {
			out = append(out, e)
		}
	}
	return out
}
