package types

import "time"

// StoredCredentials is the persisted platform-credentials document.
// A nil slot means the platform is not connected.
type StoredCredentials struct {
	EmailMarketing *EmailMarketingCredential `json:"email_marketing,omitempty"`
	Storefront     *StorefrontCredential     `json:"storefront,omitempty"`
	WebAnalytics   *WebAnalyticsCredential   `json:"web_analytics,omitempty"`
	PaidAds        *PaidAdsCredential        `json:"paid_ads,omitempty"`
}

// Get returns the credential stored for platform, or nil
func (s *StoredCredentials) Get(platform Platform) Credential {
	switch platform {
	case PlatformEmailMarketing:
		if s.EmailMarketing != nil {
			return s.EmailMarketing
		}
	case PlatformStorefront:
		if s.Storefront != nil {
			return s.Storefront
		}
	case PlatformWebAnalytics:
		if s.WebAnalytics != nil {
			return s.WebAnalytics
		}
	case PlatformPaidAds:
		if s.PaidAds != nil {
			return s.PaidAds
		}
	}
	return nil
}

// Set replaces the slot for the credential's platform
func (s *StoredCredentials) Set(cred Credential) {
	switch c := cred.(type) {
	case *EmailMarketingCredential:
		s.EmailMarketing = c
	case *StorefrontCredential:
		s.Storefront = c
	case *WebAnalyticsCredential:
		s.WebAnalytics = c
	case *PaidAdsCredential:
		s.PaidAds = c
	}
}

// Delete clears the slot for platform
func (s *StoredCredentials) Delete(platform Platform) {
	switch platform {
	case PlatformEmailMarketing:
		s.EmailMarketing = nil
	case PlatformStorefront:
		s.Storefront = nil
	case PlatformWebAnalytics:
		s.WebAnalytics = nil
	case PlatformPaidAds:
		s.PaidAds = nil
	}
}

// Platforms lists the connected platforms in display order
func (s *StoredCredentials) Platforms() []Platform {
	var out []Platform
	for _, p := range AllPlatforms() {
		if s.Get(p) != nil {
			out = append(out, p)
		}
	}
	return out
}

// StoredMetrics is the persisted platform-metrics document
type StoredMetrics struct {
	EmailMarketing *EmailMarketingMetrics `json:"email_marketing,omitempty"`
	Storefront     *StorefrontMetrics     `json:"storefront,omitempty"`
	WebAnalytics   *WebAnalyticsMetrics   `json:"web_analytics,omitempty"`
	PaidAds        *PaidAdsMetrics        `json:"paid_ads,omitempty"`
	LastSyncedAt   *time.Time             `json:"last_synced_at,omitempty"`
}

// Get returns the cached record for platform, or nil
func (s *StoredMetrics) Get(platform Platform) Metrics {
	switch platform {
	case PlatformEmailMarketing:
		if s.EmailMarketing != nil {
			return s.EmailMarketing
		}
	case PlatformStorefront:
		if s.Storefront != nil {
			return s.Storefront
		}
	case PlatformWebAnalytics:
		if s.WebAnalytics != nil {
			return s.WebAnalytics
		}
	case PlatformPaidAds:
		if s.PaidAds != nil {
			return s.PaidAds
		}
	}
	return nil
}

// Set replaces the slot for the record's platform
func (s *StoredMetrics) Set(m Metrics) {
	switch r := m.(type) {
	case *EmailMarketingMetrics:
		s.EmailMarketing = r
	case *StorefrontMetrics:
		s.Storefront = r
	case *WebAnalyticsMetrics:
		s.WebAnalytics = r
	case *PaidAdsMetrics:
		s.PaidAds = r
	}
}

// Delete clears the slot for platform
func (s *StoredMetrics) Delete(platform Platform) {
	switch platform {
	case PlatformEmailMarketing:
		s.EmailMarketing = nil
	case PlatformStorefront:
		s.Storefront = nil
	case PlatformWebAnalytics:
		s.WebAnalytics = nil
	case PlatformPaidAds:
		s.PaidAds = nil
	}
}

// Platforms lists the platforms with cached metrics in display order
func (s *StoredMetrics) Platforms() []Platform {
	var out []Platform
	for _, p := range AllPlatforms() {
		if s.Get(p) != nil {
			out = append(out, p)
		}
	}
	return out
}

// IsEmpty reports whether no platform has cached metrics
func (s *StoredMetrics) IsEmpty() bool {
	return len(s.Platforms()) == 0
}
