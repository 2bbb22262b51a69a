package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/funnel-metrics/internal/adapter"
	"github.com/funnel-metrics/internal/format"
	"github.com/funnel-metrics/internal/types"
)

const (
	promptHeading = "## Connected platform data (last 30 days unless noted)"
	promptClosing = "These figures were pulled directly from the connected platforms and are " +
		"authoritative. Prefer them over estimates, benchmarks or assumptions, and cite them when " +
		"making recommendations."
)

// Summarize renders every cached platform record as a prompt section, in
// display order. It returns "" when nothing is cached so callers can leave the
// section out entirely.
func (r *Registry) Summarize(metrics *types.StoredMetrics) string {
	if metrics == nil || metrics.IsEmpty() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(promptHeading)
	sb.WriteString("\n")
	for _, e := range r.Entries() {
		m := metrics.Get(e.Platform)
		if m == nil {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s (as of %s)\n", e.Platform.DisplayName(), asOf(m.FetchedAt()))
		e.Summary(&sb, m)
	}
	sb.WriteString("\n")
	sb.WriteString(promptClosing)
	sb.WriteString("\n")
	return sb.String()
}

func asOf(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func bullet(sb *strings.Builder, label, value string) {
	fmt.Fprintf(sb, "- %s: %s\n", label, value)
}

func subBullet(sb *strings.Builder, layout string, args ...interface{}) {
	sb.WriteString("  - ")
	fmt.Fprintf(sb, layout, args...)
	sb.WriteString("\n")
}

func emailMarketingSummary(sb *strings.Builder, m *types.EmailMarketingMetrics) {
	source := "average across campaigns sent in the last 30 days"
	switch m.RateSource {
	case adapter.RateSourceListAverage:
		source = "list-level average, no campaigns sent in the last 30 days"
	case adapter.RateSourceReportsUnavailable:
		source = "list-level average, campaign reports could not be loaded"
	}

	bullet(sb, "Audience list", fmt.Sprintf("%s (%s subscribers, %s unsubscribed)",
		m.ListName, format.Integer(m.SubscriberCount), format.Integer(m.UnsubscribeCount)))
	if m.RateSource != adapter.RateSourceReportsUnavailable {
		bullet(sb, "Campaigns sent", fmt.Sprintf("%s (%s emails)",
			format.Integer(int64(m.CampaignsSent30d)), format.Integer(m.EmailsSent30d)))
	}
	bullet(sb, "Open rate", fmt.Sprintf("%s (%s)", format.PercentPrecise(m.OpenRate), source))
	bullet(sb, "Click rate", format.PercentPrecise(m.ClickRate))
	bullet(sb, "Click-to-open rate", format.PercentPrecise(m.ClickToOpenRate))
	if m.RateSource == adapter.RateSourceCampaigns {
		bullet(sb, "Bounce rate", format.PercentPrecise(m.BounceRate))
		bullet(sb, "Unsubscribe rate", format.PercentPrecise(m.UnsubscribeRate))
	}
	bullet(sb, "Email-attributed revenue", format.Money(m.AttributedRevenue30d))
	if len(m.GrowthHistory) > 0 {
		bullet(sb, "Net subscriber growth (12 months)", format.Integer(m.NetGrowth12m))
	}
	if len(m.TopCampaigns) > 0 {
		sb.WriteString("- Top campaigns by open rate:\n")
		for _, c := range m.TopCampaigns {
			subBullet(sb, "%q: %s open, %s click, %s recipients",
				c.Subject, format.PercentPrecise(c.OpenRate), format.PercentPrecise(c.ClickRate), format.Integer(c.EmailsSent))
		}
	}
}

func storefrontSummary(sb *strings.Builder, m *types.StorefrontMetrics) {
	bullet(sb, "Store", fmt.Sprintf("%s (amounts in %s)", m.ShopDomain, m.Currency))
	bullet(sb, "Orders", format.Integer(int64(m.TotalOrders30d)))
	bullet(sb, "Revenue", format.Money(m.TotalRevenue30d))
	bullet(sb, "Average order value", format.Money(m.AOV30d))
	if m.ProductCount > 0 {
		bullet(sb, "Products in catalog", format.Integer(m.ProductCount))
	}
	if m.AbandonedCheckouts30d > 0 || m.CheckoutCompletionRate > 0 {
		bullet(sb, "Abandoned checkouts", format.Integer(int64(m.AbandonedCheckouts30d)))
		bullet(sb, "Checkout completion rate", format.PercentPrecise(m.CheckoutCompletionRate))
	}
	if m.SampledOrders > 0 {
		bullet(sb, "Repeat customer rate", fmt.Sprintf("%s (%s of %s customers in the latest %s orders)",
			format.PercentPrecise(m.RepeatCustomerRate), format.Integer(int64(m.RepeatCustomers)),
			format.Integer(int64(m.SampledCustomers)), format.Integer(int64(m.SampledOrders))))
		if m.RepeatCustomers > 0 {
			bullet(sb, "Average time to second order", format.Days(m.AvgDaysToSecondOrder))
		}
	}
	if len(m.TopProducts30d) > 0 {
		sb.WriteString("- Top products by revenue:\n")
		for _, p := range m.TopProducts30d {
			subBullet(sb, "%s: %s units, %s", p.Title, format.Integer(int64(p.Quantity)), format.Money(p.Revenue))
		}
	}
	if len(m.TopSecondPurchaseProducts) > 0 {
		sb.WriteString("- Most common second purchases:\n")
		for _, p := range m.TopSecondPurchaseProducts {
			subBullet(sb, "%s: %s customers", p.Title, format.Integer(int64(p.Customers)))
		}
	}
}

func webAnalyticsSummary(sb *strings.Builder, m *types.WebAnalyticsMetrics) {
	property := m.PropertyID
	if m.PropertyName != "" {
		property = fmt.Sprintf("%s (%s)", m.PropertyName, m.PropertyID)
	}
	bullet(sb, "Property", property)
	bullet(sb, "Sessions", format.Integer(m.Sessions30d))
	bullet(sb, "Users", fmt.Sprintf("%s (%s new)", format.Integer(m.Users30d), format.Integer(m.NewUsers30d)))
	bullet(sb, "Page views", fmt.Sprintf("%s (%s per session)", format.Integer(m.PageViews30d), format.Number(m.PagesPerSession, 2)))
	bullet(sb, "Engagement rate", format.PercentPrecise(m.EngagementRate))
	bullet(sb, "Bounce rate", format.PercentPrecise(m.BounceRate))
	bullet(sb, "Average session duration", format.Seconds(m.AvgSessionDurationSec))
	bullet(sb, "Conversions", fmt.Sprintf("%s (%s of sessions)", format.Number(m.Conversions30d, 2), format.PercentPrecise(m.ConversionRate)))
	if len(m.Channels) > 0 {
		sb.WriteString("- Traffic by channel:\n")
		for _, c := range m.Channels {
			subBullet(sb, "%s: %s sessions (%s of traffic), %s conversion rate",
				c.Channel, format.Integer(c.Sessions), format.Percent(c.Share), format.PercentPrecise(c.ConversionRate))
		}
	}
	if len(m.TopLandingPages) > 0 {
		sb.WriteString("- Top landing pages:\n")
		for _, p := range m.TopLandingPages {
			subBullet(sb, "%s: %s sessions, %s bounce rate", p.Path, format.Integer(p.Sessions), format.PercentPrecise(p.BounceRate))
		}
	}
	if len(m.Devices) > 0 {
		sb.WriteString("- Devices:\n")
		for _, d := range m.Devices {
			subBullet(sb, "%s: %s of sessions", d.Device, format.Percent(d.Share))
		}
	}
}

func paidAdsSummary(sb *strings.Builder, m *types.PaidAdsMetrics) {
	account := m.CustomerID
	if m.AccountName != "" {
		account = fmt.Sprintf("%s (%s)", m.AccountName, m.CustomerID)
	}
	bullet(sb, "Ads account", fmt.Sprintf("%s (amounts in %s)", account, m.Currency))
	bullet(sb, "Spend", format.Money(m.Spend30d))
	bullet(sb, "Impressions", format.Integer(m.Impressions30d))
	bullet(sb, "Clicks", fmt.Sprintf("%s (%s click-through rate)", format.Integer(m.Clicks30d), format.PercentPrecise(m.CTR)))
	bullet(sb, "Average cost per click", format.Money(m.AvgCPC))
	bullet(sb, "Conversions", fmt.Sprintf("%s (%s conversion rate)", format.Number(m.Conversions30d, 2), format.PercentPrecise(m.ConversionRate)))
	bullet(sb, "Cost per conversion", format.Money(m.CostPerConversion))
	bullet(sb, "Conversion value", format.Money(m.ConversionValue30d))
	bullet(sb, "Return on ad spend", format.Ratio(m.ROAS))
	if len(m.MonthlySpend) > 0 {
		bullet(sb, "Spend over the last 12 months", format.Money(m.Spend12m))
	}
	if len(m.Campaigns) > 0 {
		sb.WriteString("- Campaigns by spend:\n")
		for _, c := range m.Campaigns {
			subBullet(sb, "%s (%s): %s spend, %s clicks, %s CTR, %s ROAS",
				c.Name, strings.ToLower(c.Status), format.Money(c.Spend), format.Integer(c.Clicks),
				format.PercentPrecise(c.CTR), format.Ratio(c.ROAS))
		}
	}
	if len(m.TopCampaigns) > 0 {
		sb.WriteString("- Campaigns with outstanding click-through rate:\n")
		for _, c := range m.TopCampaigns {
			subBullet(sb, "%s: %s CTR", c.Name, format.PercentPrecise(c.CTR))
		}
	}
}
