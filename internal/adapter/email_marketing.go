package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/funnel-metrics/internal/calc"
	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/types"
)

const (
	// RateSourceCampaigns marks rates averaged over campaigns sent in the window
	RateSourceCampaigns = "campaigns_30d"
	// RateSourceListAverage marks rates taken from the vendor's list-level averages
	RateSourceListAverage = "list_average"
	// RateSourceReportsUnavailable marks list-level averages used because the
	// campaign reports call failed
	RateSourceReportsUnavailable = "reports_unavailable"

	emailBasicUser     = "anystring"
	emailPageSize      = 1000
	emailGrowthMonths  = 12
	defaultEmailAPIURL = "https://%s.api.mailchimp.com/3.0"
)

// EmailMarketingConfig configures the email marketing connector
type EmailMarketingConfig struct {
	// BaseURL may contain one %s, replaced by the data center taken from the API key
	BaseURL string
	Client  ClientConfig
	Clock   Clock
}

// EmailMarketingConnector reads audience list stats and campaign reports
type EmailMarketingConnector struct {
	baseURL string
	client  *APIClient
	clock   Clock
}

// NewEmailMarketingConnector creates the email marketing connector
func NewEmailMarketingConnector(cfg EmailMarketingConfig) *EmailMarketingConnector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEmailAPIURL
	}
	return &EmailMarketingConnector{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  NewAPIClient(types.PlatformEmailMarketing, cfg.Client),
		clock:   cfg.Clock,
	}
}

// Platform implements Connector
func (c *EmailMarketingConnector) Platform() types.Platform {
	return types.PlatformEmailMarketing
}

type emailList struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Stats struct {
		MemberCount      int64   `json:"member_count"`
		UnsubscribeCount int64   `json:"unsubscribe_count"`
		AvgOpenRate      float64 `json:"avg_open_rate"`
		AvgClickRate     float64 `json:"avg_click_rate"`
	} `json:"stats"`
}

type emailReport struct {
	ID            string `json:"id"`
	ListID        string `json:"list_id"`
	CampaignTitle string `json:"campaign_title"`
	SubjectLine   string `json:"subject_line"`
	SendTime      string `json:"send_time"`
	EmailsSent    int64  `json:"emails_sent"`
	Unsubscribed  int64  `json:"unsubscribed"`
	Bounces       struct {
		HardBounces int64 `json:"hard_bounces"`
		SoftBounces int64 `json:"soft_bounces"`
	} `json:"bounces"`
	Opens struct {
		UniqueOpens int64   `json:"unique_opens"`
		OpenRate    float64 `json:"open_rate"`
	} `json:"opens"`
	Clicks struct {
		UniqueSubscriberClicks int64   `json:"unique_subscriber_clicks"`
		ClickRate              float64 `json:"click_rate"`
	} `json:"clicks"`
	Ecommerce struct {
		TotalRevenue float64 `json:"total_revenue"`
	} `json:"ecommerce"`
}

type emailGrowthMonth struct {
	Month        string `json:"month"`
	Subscribed   int64  `json:"subscribed"`
	Unsubscribed int64  `json:"unsubscribed"`
}

// Fetch implements Connector
func (c *EmailMarketingConnector) Fetch(ctx context.Context, cred types.Credential) (types.Metrics, error) {
	ec, ok := cred.(*types.EmailMarketingCredential)
	if !ok || ec == nil {
		return nil, wrongCredential(types.PlatformEmailMarketing, cred)
	}

	dc, err := emailDataCenter(ec.APIKey)
	if err != nil {
		return nil, err
	}
	base := c.baseURL
	if strings.Contains(base, "%s") {
		base = fmt.Sprintf(base, dc)
	}
	now := c.clock.now()

	// The list call doubles as the credential check and is the primary call.
	list, err := c.resolveList(ctx, base, ec)
	if err != nil {
		return nil, errors.AsPrimary(err)
	}

	var (
		reports    []emailReport
		reportsErr error
		growth     []emailGrowthMonth
	)
	err = fanOut(ctx, types.PlatformEmailMarketing,
		call{name: "campaign reports", run: func(ctx context.Context) error {
			reports, reportsErr = c.fetchReports(ctx, base, ec.APIKey, list.ID, now)
			return reportsErr
		}},
		call{name: "growth history", run: func(ctx context.Context) error {
			var err error
			growth, err = c.fetchGrowth(ctx, base, ec.APIKey, list.ID)
			return err
		}},
	)
	if err != nil {
		return nil, err
	}

	return buildEmailMetrics(list, reports, reportsErr == nil, growth, now), nil
}

// emailDataCenter returns the "-<dc>" suffix of an API key
func emailDataCenter(apiKey string) (string, error) {
	idx := strings.LastIndex(apiKey, "-")
	if idx <= 0 || idx == len(apiKey)-1 {
		return "", errors.NewInvalidCredentialError(types.PlatformEmailMarketing,
			"API key must end with a data center suffix, e.g. -us21")
	}
	return apiKey[idx+1:], nil
}

func (c *EmailMarketingConnector) get(ctx context.Context, apiKey, operation, target string, query url.Values, out interface{}) (*Response, error) {
	return c.client.Do(ctx, Request{
		Operation: operation,
		Method:    http.MethodGet,
		URL:       target,
		Query:     query,
		BasicUser: emailBasicUser,
		BasicPass: apiKey,
	}, out)
}

// resolveList loads the configured list, or picks the list with the most
// members. Ties keep the vendor's order.
func (c *EmailMarketingConnector) resolveList(ctx context.Context, base string, cred *types.EmailMarketingCredential) (*emailList, error) {
	if cred.ListID != "" {
		var list emailList
		resp, err := c.get(ctx, cred.APIKey, "list lookup", base+"/lists/"+url.PathEscape(cred.ListID), nil, &list)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return nil, errors.NewResourceNotFoundError(types.PlatformEmailMarketing, "list",
					fmt.Sprintf("list %s not found", cred.ListID))
			}
			return nil, err
		}
		return &list, nil
	}

	var page struct {
		Lists []emailList `json:"lists"`
	}
	query := url.Values{}
	query.Set("count", fmt.Sprint(emailPageSize))
	if _, err := c.get(ctx, cred.APIKey, "list lookup", base+"/lists", query, &page); err != nil {
		return nil, err
	}
	if len(page.Lists) == 0 {
		return nil, errors.NewResourceNotFoundError(types.PlatformEmailMarketing, "list",
			"no audience lists found for this API key")
	}

	best := 0
	for i := 1; i < len(page.Lists); i++ {
		if page.Lists[i].Stats.MemberCount > page.Lists[best].Stats.MemberCount {
			best = i
		}
	}
	return &page.Lists[best], nil
}

func (c *EmailMarketingConnector) fetchReports(ctx context.Context, base, apiKey, listID string, now time.Time) ([]emailReport, error) {
	var page struct {
		Reports []emailReport `json:"reports"`
	}
	query := url.Values{}
	query.Set("count", fmt.Sprint(emailPageSize))
	query.Set("since_send_time", now.Add(-Window).Format(time.RFC3339))
	if _, err := c.get(ctx, apiKey, "campaign reports", base+"/reports", query, &page); err != nil {
		return nil, err
	}

	windowStart := now.Add(-Window)
	var out []emailReport
	for _, r := range page.Reports {
		if r.ListID != "" && r.ListID != listID {
			continue
		}
		if sent, ok := parseVendorTime(r.SendTime); ok && sent.Before(windowStart) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *EmailMarketingConnector) fetchGrowth(ctx context.Context, base, apiKey, listID string) ([]emailGrowthMonth, error) {
	var page struct {
		History []emailGrowthMonth `json:"history"`
	}
	query := url.Values{}
	query.Set("count", fmt.Sprint(emailGrowthMonths))
	query.Set("sort_field", "month")
	query.Set("sort_dir", "DESC")
	target := base + "/lists/" + url.PathEscape(listID) + "/growth-history"
	if _, err := c.get(ctx, apiKey, "growth history", target, query, &page); err != nil {
		return nil, err
	}
	return page.History, nil
}

// buildEmailMetrics falls back to the list-level averages when no report is
// available; reportsLoaded tells an empty window apart from a failed call.
func buildEmailMetrics(list *emailList, reports []emailReport, reportsLoaded bool, growth []emailGrowthMonth, now time.Time) *types.EmailMarketingMetrics {
	m := &types.EmailMarketingMetrics{
		RecordHeader:     types.NewRecordHeader(types.PlatformEmailMarketing, now),
		ListID:           list.ID,
		ListName:         list.Name,
		SubscriberCount:  list.Stats.MemberCount,
		UnsubscribeCount: list.Stats.UnsubscribeCount,
		CampaignsSent30d: len(reports),
		TopCampaigns:     []types.CampaignPerformance{},
		GrowthHistory:    []types.TimePoint{},
	}

	if len(reports) == 0 {
		// Nothing sent in the window: the list-level averages are the best estimate.
		m.OpenRate = calc.Round4(list.Stats.AvgOpenRate)
		m.ClickRate = calc.Round4(list.Stats.AvgClickRate)
		m.ClickToOpenRate = calc.Round4(calc.SafeDiv(list.Stats.AvgClickRate, list.Stats.AvgOpenRate))
		m.RateSource = RateSourceListAverage
		if !reportsLoaded {
			m.RateSource = RateSourceReportsUnavailable
		}
	} else {
		var opens, clicks, ctors, bounces, unsubs []float64
		var revenue float64
		campaigns := make([]types.CampaignPerformance, 0, len(reports))
		for _, r := range reports {
			m.EmailsSent30d += r.EmailsSent
			opens = append(opens, r.Opens.OpenRate)
			clicks = append(clicks, r.Clicks.ClickRate)
			ctors = append(ctors, calc.SafeDiv(float64(r.Clicks.UniqueSubscriberClicks), float64(r.Opens.UniqueOpens)))
			bounces = append(bounces, calc.SafeDiv(float64(r.Bounces.HardBounces+r.Bounces.SoftBounces), float64(r.EmailsSent)))
			unsubs = append(unsubs, calc.SafeDiv(float64(r.Unsubscribed), float64(r.EmailsSent)))
			revenue += r.Ecommerce.TotalRevenue

			subject := r.SubjectLine
			if subject == "" {
				subject = r.CampaignTitle
			}
			sent, _ := parseVendorTime(r.SendTime)
			campaigns = append(campaigns, types.CampaignPerformance{
				ID:         r.ID,
				Subject:    subject,
				SentAt:     sent,
				EmailsSent: r.EmailsSent,
				OpenRate:   calc.Round4(r.Opens.OpenRate),
				ClickRate:  calc.Round4(r.Clicks.ClickRate),
			})
		}
		m.OpenRate = calc.Round4(calc.AverageOfRates(opens))
		m.ClickRate = calc.Round4(calc.AverageOfRates(clicks))
		m.ClickToOpenRate = calc.Round4(calc.AverageOfRates(ctors))
		m.BounceRate = calc.Round4(calc.AverageOfRates(bounces))
		m.UnsubscribeRate = calc.Round4(calc.AverageOfRates(unsubs))
		m.AttributedRevenue30d = calc.Round2(revenue)
		m.RateSource = RateSourceCampaigns
		m.TopCampaigns = calc.TopPerformers(campaigns, func(cp types.CampaignPerformance) float64 {
			return cp.OpenRate
		})
	}

	months := append([]emailGrowthMonth(nil), growth...)
	sort.SliceStable(months, func(i, j int) bool { return months[i].Month < months[j].Month })
	for _, g := range months {
		m.GrowthHistory = append(m.GrowthHistory, types.TimePoint{Period: g.Month, Value: float64(g.Subscribed)})
	}
	if len(months) >= 2 {
		m.NetGrowth12m = months[len(months)-1].Subscribed - months[0].Subscribed
	}
	return m
}

// parseVendorTime accepts RFC 3339 timestamps with or without fractional seconds
func parseVendorTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
