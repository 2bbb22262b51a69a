package service

import (
	"github.com/funnel-metrics/internal/format"
	"github.com/funnel-metrics/internal/types"
)

// BuildStatuses derives the connection status of every platform from the
// stored documents. It does no I/O; a platform without cached metrics has no
// preview and no last-synced time.
func (r *Registry) BuildStatuses(creds *types.StoredCredentials, metrics *types.StoredMetrics) types.AllPlatformStatuses {
	if creds == nil {
		creds = &types.StoredCredentials{}
	}
	if metrics == nil {
		metrics = &types.StoredMetrics{}
	}

	statuses := make(types.AllPlatformStatuses, len(r.entries))
	for _, e := range r.Entries() {
		status := types.ConnectionStatus{Connected: creds.Get(e.Platform) != nil}
		if m := metrics.Get(e.Platform); m != nil {
			fetched := m.FetchedAt()
			status.LastSynced = &fetched
			status.Preview = e.Preview(m)
		}
		statuses[e.Platform] = status
	}
	return statuses
}

func emailMarketingPreview(m *types.EmailMarketingMetrics) []types.PreviewItem {
	return []types.PreviewItem{
		{Label: "Subscribers", Value: format.Count(m.SubscriberCount)},
		{Label: "Open rate", Value: format.Percent(m.OpenRate)},
		{Label: "Click rate", Value: format.Percent(m.ClickRate)},
		{Label: "Campaigns (30d)", Value: format.Integer(int64(m.CampaignsSent30d))},
	}
}

func storefrontPreview(m *types.StorefrontMetrics) []types.PreviewItem {
	return []types.PreviewItem{
		{Label: "Revenue (30d)", Value: format.Currency(m.TotalRevenue30d)},
		{Label: "Orders (30d)", Value: format.Count(int64(m.TotalOrders30d))},
		{Label: "AOV", Value: format.Currency(m.AOV30d)},
		{Label: "Repeat rate", Value: format.Percent(m.RepeatCustomerRate)},
	}
}

func webAnalyticsPreview(m *types.WebAnalyticsMetrics) []types.PreviewItem {
	return []types.PreviewItem{
		{Label: "Sessions (30d)", Value: format.Count(m.Sessions30d)},
		{Label: "Users (30d)", Value: format.Count(m.Users30d)},
		{Label: "Conversion rate", Value: format.Percent(m.ConversionRate)},
		{Label: "Bounce rate", Value: format.Percent(m.BounceRate)},
	}
}

func paidAdsPreview(m *types.PaidAdsMetrics) []types.PreviewItem {
	return []types.PreviewItem{
		{Label: "Spend (30d)", Value: format.Currency(m.Spend30d)},
		{Label: "ROAS", Value: format.Ratio(m.ROAS)},
		{Label: "CTR", Value: format.Percent(m.CTR)},
		{Label: "Conversions (30d)", Value: format.Number(m.Conversions30d, 1)},
	}
}
