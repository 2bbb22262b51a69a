package types

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gookit/validate"
)

// Credential is the secret material needed to reach one platform.
// Implementations are the four *XxxCredential structs below.
type Credential interface {
	Platform() Platform
	isCredential()
}

// EmailMarketingCredential authenticates against the email marketing API.
// The API key carries the data center as a "-<dc>" suffix (e.g. "abc123-us21").
type EmailMarketingCredential struct {
	APIKey string `json:"api_key" validate:"required"`
	ListID string `json:"list_id,omitempty"` // empty: the largest list is selected
}

// StorefrontCredential holds the app client credentials for a shop
type StorefrontCredential struct {
	ShopDomain   string `json:"shop_domain" validate:"required"`
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

// WebAnalyticsCredential holds a service account key file and an optional property
type WebAnalyticsCredential struct {
	ServiceAccountJSON string `json:"service_account_json" validate:"required"`
	PropertyID         string `json:"property_id,omitempty"` // empty: first property visible to the account
}

// PaidAdsCredential holds the OAuth client, refresh token and account identifiers
type PaidAdsCredential struct {
	DeveloperToken  string `json:"developer_token" validate:"required"`
	ClientID        string `json:"client_id" validate:"required"`
	ClientSecret    string `json:"client_secret" validate:"required"`
	RefreshToken    string `json:"refresh_token" validate:"required"`
	CustomerID      string `json:"customer_id" validate:"required"`
	LoginCustomerID string `json:"login_customer_id,omitempty"`
}

func (*EmailMarketingCredential) Platform() Platform { return PlatformEmailMarketing }
func (*StorefrontCredential) Platform() Platform     { return PlatformStorefront }
func (*WebAnalyticsCredential) Platform() Platform   { return PlatformWebAnalytics }
func (*PaidAdsCredential) Platform() Platform        { return PlatformPaidAds }

func (*EmailMarketingCredential) isCredential() {}
func (*StorefrontCredential) isCredential()     {}
func (*WebAnalyticsCredential) isCredential()   {}
func (*PaidAdsCredential) isCredential()        {}

// DecodeCredential decodes the credential variant for platform from raw JSON
// and validates its required fields.
func DecodeCredential(platform Platform, raw []byte) (Credential, error) {
	var cred Credential
	switch platform {
	case PlatformEmailMarketing:
		cred = &EmailMarketingCredential{}
	case PlatformStorefront:
		cred = &StorefrontCredential{}
	case PlatformWebAnalytics:
		cred = &WebAnalyticsCredential{}
	case PlatformPaidAds:
		cred = &PaidAdsCredential{}
	default:
		return nil, fmt.Errorf("unknown platform: %s", platform)
	}

	if err := json.Unmarshal(raw, cred); err != nil {
		return nil, fmt.Errorf("invalid %s credential: %w", platform, err)
	}
	if err := ValidateCredential(cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// ValidateCredential checks that every required field is a non-empty string
func ValidateCredential(cred Credential) error {
	if cred == nil {
		return fmt.Errorf("credential is required")
	}
	trimCredential(cred)

	v := validate.Struct(cred)
	if !v.Validate() {
		return fmt.Errorf("invalid %s credential: %s", cred.Platform(), v.Errors.One())
	}
	return nil
}

// trimCredential strips surrounding whitespace pasted in with secrets
func trimCredential(cred Credential) {
	switch c := cred.(type) {
	case *EmailMarketingCredential:
		c.APIKey = strings.TrimSpace(c.APIKey)
		c.ListID = strings.TrimSpace(c.ListID)
	case *StorefrontCredential:
		c.ShopDomain = strings.TrimSpace(c.ShopDomain)
		c.ClientID = strings.TrimSpace(c.ClientID)
		c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	case *WebAnalyticsCredential:
		c.PropertyID = strings.TrimSpace(c.PropertyID)
	case *PaidAdsCredential:
		c.DeveloperToken = strings.TrimSpace(c.DeveloperToken)
		c.ClientID = strings.TrimSpace(c.ClientID)
		c.ClientSecret = strings.TrimSpace(c.ClientSecret)
		c.RefreshToken = strings.TrimSpace(c.RefreshToken)
		c.CustomerID = strings.ReplaceAll(strings.TrimSpace(c.CustomerID), "-", "")
		c.LoginCustomerID = strings.ReplaceAll(strings.TrimSpace(c.LoginCustomerID), "-", "")
	}
}
