package types

import "time"

// Metrics is one normalized record produced by a connector fetch.
// Implementations are the four *XxxMetrics structs below; a record is never
// merged with another, a newer fetch replaces it.
type Metrics interface {
	Platform() Platform
	FetchedAt() time.Time
	isMetrics()
}

// RecordHeader carries the discriminator and version stamp of a metrics record
type RecordHeader struct {
	Source    Platform  `json:"platform"`
	FetchedOn time.Time `json:"fetched_at"`
}

// NewRecordHeader stamps a record for platform at t (UTC)
func NewRecordHeader(platform Platform, t time.Time) RecordHeader {
	return RecordHeader{Source: platform, FetchedOn: t.UTC()}
}

// Platform returns the record's platform discriminator
func (h RecordHeader) Platform() Platform { return h.Source }

// FetchedAt returns when the record was produced
func (h RecordHeader) FetchedAt() time.Time { return h.FetchedOn }

// Rate fields are fractions in [0,1]. Money fields are decimal amounts in the
// platform currency.

// EmailMarketingMetrics summarizes one audience list and its recent campaigns
type EmailMarketingMetrics struct {
	RecordHeader
	ListID               string                `json:"list_id"`
	ListName             string                `json:"list_name"`
	SubscriberCount      int64                 `json:"subscriber_count"`
	UnsubscribeCount     int64                 `json:"unsubscribe_count"`
	CampaignsSent30d     int                   `json:"campaigns_sent_30d"`
	EmailsSent30d        int64                 `json:"emails_sent_30d"`
	OpenRate             float64               `json:"open_rate"`
	ClickRate            float64               `json:"click_rate"`
	ClickToOpenRate      float64               `json:"click_to_open_rate"`
	BounceRate           float64               `json:"bounce_rate"`
	UnsubscribeRate      float64               `json:"unsubscribe_rate"`
	RateSource           string                `json:"rate_source"` // "campaigns_30d", "list_average" or "reports_unavailable"
	AttributedRevenue30d float64               `json:"attributed_revenue_30d"`
	TopCampaigns         []CampaignPerformance `json:"top_campaigns"`
	GrowthHistory        []TimePoint           `json:"growth_history"`
	NetGrowth12m         int64                 `json:"net_growth_12m"`
}

// CampaignPerformance is one sent email campaign
type CampaignPerformance struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sent_at"`
	EmailsSent int64     `json:"emails_sent"`
	OpenRate   float64   `json:"open_rate"`
	ClickRate  float64   `json:"click_rate"`
}

// StorefrontMetrics summarizes orders, repeat purchasing and checkout completion
type StorefrontMetrics struct {
	RecordHeader
	ShopDomain                string             `json:"shop_domain"`
	Currency                  string             `json:"currency"`
	TotalOrders30d            int                `json:"total_orders_30d"`
	TotalRevenue30d           float64            `json:"total_revenue_30d"`
	AOV30d                    float64            `json:"aov_30d"`
	TopProducts30d            []ProductSales     `json:"top_products_30d"`
	ProductCount              int64              `json:"product_count"`
	AbandonedCheckouts30d     int                `json:"abandoned_checkouts_30d"`
	CheckoutCompletionRate    float64            `json:"checkout_completion_rate"`
	SampledOrders             int                `json:"sampled_orders"`
	SampledCustomers          int                `json:"sampled_customers"`
	RepeatCustomers           int                `json:"repeat_customers"`
	RepeatCustomerRate        float64            `json:"repeat_customer_rate"` // estimate from the sample
	AvgDaysToSecondOrder      float64            `json:"avg_days_to_second_order"`
	TopSecondPurchaseProducts []ProductFrequency `json:"top_second_purchase_products"`
}

// ProductSales is one product's sales within the window
type ProductSales struct {
	Title    string  `json:"title"`
	Quantity int     `json:"quantity"`
	Revenue  float64 `json:"revenue"`
}

// ProductFrequency counts how many customers bought a product
type ProductFrequency struct {
	Title     string `json:"title"`
	Customers int    `json:"customers"`
}

// WebAnalyticsMetrics summarizes traffic and engagement for one property
type WebAnalyticsMetrics struct {
	RecordHeader
	PropertyID            string             `json:"property_id"`
	PropertyName          string             `json:"property_name"`
	Sessions30d           int64              `json:"sessions_30d"`
	Users30d              int64              `json:"users_30d"`
	NewUsers30d           int64              `json:"new_users_30d"`
	PageViews30d          int64              `json:"page_views_30d"`
	Conversions30d        float64            `json:"conversions_30d"`
	EngagementRate        float64            `json:"engagement_rate"`
	BounceRate            float64            `json:"bounce_rate"`
	ConversionRate        float64            `json:"conversion_rate"`
	AvgSessionDurationSec float64            `json:"avg_session_duration_sec"`
	PagesPerSession       float64            `json:"pages_per_session"`
	Channels              []ChannelBreakdown `json:"channels"`
	TopLandingPages       []LandingPage      `json:"top_landing_pages"`
	Devices               []DeviceShare      `json:"devices"`
	DailySessions         []TimePoint        `json:"daily_sessions"`
}

// ChannelBreakdown is traffic from one acquisition channel
type ChannelBreakdown struct {
	Channel        string  `json:"channel"`
	Sessions       int64   `json:"sessions"`
	Conversions    float64 `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	Share          float64 `json:"share"`
}

// LandingPage is one entry page
type LandingPage struct {
	Path       string  `json:"path"`
	Sessions   int64   `json:"sessions"`
	BounceRate float64 `json:"bounce_rate"`
}

// DeviceShare is the session share of one device category
type DeviceShare struct {
	Device   string  `json:"device"`
	Sessions int64   `json:"sessions"`
	Share    float64 `json:"share"`
}

// PaidAdsMetrics summarizes ad spend and returns for one ads account
type PaidAdsMetrics struct {
	RecordHeader
	CustomerID         string       `json:"customer_id"`
	AccountName        string       `json:"account_name"`
	Currency           string       `json:"currency"`
	Spend30d           float64      `json:"spend_30d"`
	Impressions30d     int64        `json:"impressions_30d"`
	Clicks30d          int64        `json:"clicks_30d"`
	Conversions30d     float64      `json:"conversions_30d"`
	ConversionValue30d float64      `json:"conversion_value_30d"`
	CTR                float64      `json:"ctr"`
	ConversionRate     float64      `json:"conversion_rate"`
	AvgCPC             float64      `json:"avg_cpc"`
	CostPerConversion  float64      `json:"cost_per_conversion"`
	ROAS               float64      `json:"roas"`
	Campaigns          []AdCampaign `json:"campaigns"`
	TopCampaigns       []AdCampaign `json:"top_campaigns"`
	MonthlySpend       []TimePoint  `json:"monthly_spend"`
	Spend12m           float64      `json:"spend_12m"`
}

// AdCampaign is one campaign's 30 day performance
type AdCampaign struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Spend       float64 `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions float64 `json:"conversions"`
	CTR         float64 `json:"ctr"`
	ROAS        float64 `json:"roas"`
}

func (*EmailMarketingMetrics) isMetrics() {}
func (*StorefrontMetrics) isMetrics()     {}
func (*WebAnalyticsMetrics) isMetrics()   {}
func (*PaidAdsMetrics) isMetrics()        {}
