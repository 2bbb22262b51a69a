// Package types provides common type definitions for the funnel metrics service.
package types

import "time"

// Platform identifies a connected marketing or ecommerce platform
type Platform string

const (
	// PlatformEmailMarketing is the email marketing platform (lists, campaigns)
	PlatformEmailMarketing Platform = "email_marketing"
	// PlatformStorefront is the ecommerce storefront (orders, customers, products)
	PlatformStorefront Platform = "storefront"
	// PlatformWebAnalytics is the web analytics property (sessions, channels, pages)
	PlatformWebAnalytics Platform = "web_analytics"
	// PlatformPaidAds is the paid advertising account (campaign spend and conversions)
	PlatformPaidAds Platform = "paid_ads"
)

// AllPlatforms returns every supported platform in display order
func AllPlatforms() []Platform {
	return []Platform{
		PlatformEmailMarketing,
		PlatformStorefront,
		PlatformWebAnalytics,
		PlatformPaidAds,
	}
}

// ParsePlatform validates a platform name
func ParsePlatform(name string) (Platform, bool) {
	for _, p := range AllPlatforms() {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}

// DisplayName returns the human readable platform name
func (p Platform) DisplayName() string {
	switch p {
	case PlatformEmailMarketing:
		return "Email Marketing"
	case PlatformStorefront:
		return "Storefront"
	case PlatformWebAnalytics:
		return "Web Analytics"
	case PlatformPaidAds:
		return "Paid Ads"
	default:
		return string(p)
	}
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// PreviewItem is one formatted key metric shown on a platform card
type PreviewItem struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ConnectionStatus is the UI-facing view of one platform. It is derived on
// every request and never stored.
type ConnectionStatus struct {
	Connected  bool          `json:"connected"`
	LastSynced *time.Time    `json:"last_synced,omitempty"`
	Preview    []PreviewItem `json:"preview,omitempty"` // nil until metrics are cached
}

// AllPlatformStatuses maps every supported platform to its status
type AllPlatformStatuses map[Platform]ConnectionStatus

// TimePoint is one point of a time series
type TimePoint struct {
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}
