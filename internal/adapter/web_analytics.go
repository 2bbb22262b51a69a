package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/funnel-metrics/internal/calc"
	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/types"
)

const (
	analyticsScope          = "https://www.googleapis.com/auth/analytics.readonly"
	defaultAnalyticsDataURL = "https://analyticsdata.googleapis.com/v1beta"
	defaultAnalyticsAdmin   = "https://analyticsadmin.googleapis.com/v1beta"
	propertyPrefix          = "properties/"
)

// WebAnalyticsConfig configures the web analytics connector
type WebAnalyticsConfig struct {
	DataURL  string
	AdminURL string
	// TokenURL overrides the token_uri of the service account key file
	TokenURL string
	Client   ClientConfig
	Clock    Clock
}

// WebAnalyticsConnector runs traffic reports for one analytics property using
// a service account
type WebAnalyticsConnector struct {
	dataURL  string
	adminURL string
	tokenURL string
	client   *APIClient
	clock    Clock
}

// NewWebAnalyticsConnector creates the web analytics connector
func NewWebAnalyticsConnector(cfg WebAnalyticsConfig) *WebAnalyticsConnector {
	if cfg.DataURL == "" {
		cfg.DataURL = defaultAnalyticsDataURL
	}
	if cfg.AdminURL == "" {
		cfg.AdminURL = defaultAnalyticsAdmin
	}
	return &WebAnalyticsConnector{
		dataURL:  strings.TrimRight(cfg.DataURL, "/"),
		adminURL: strings.TrimRight(cfg.AdminURL, "/"),
		tokenURL: cfg.TokenURL,
		client:   NewAPIClient(types.PlatformWebAnalytics, cfg.Client),
		clock:    cfg.Clock,
	}
}

// Platform implements Connector
func (c *WebAnalyticsConnector) Platform() types.Platform {
	return types.PlatformWebAnalytics
}

type gaName struct {
	Name string `json:"name"`
}

type gaDateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type gaOrderBy struct {
	Desc      bool                `json:"desc,omitempty"`
	Metric    *gaMetricOrderBy    `json:"metric,omitempty"`
	Dimension *gaDimensionOrderBy `json:"dimension,omitempty"`
}

type gaMetricOrderBy struct {
	MetricName string `json:"metricName"`
}

type gaDimensionOrderBy struct {
	DimensionName string `json:"dimensionName"`
}

type gaReportRequest struct {
	DateRanges []gaDateRange `json:"dateRanges"`
	Dimensions []gaName      `json:"dimensions,omitempty"`
	Metrics    []gaName      `json:"metrics"`
	OrderBys   []gaOrderBy   `json:"orderBys,omitempty"`
	Limit      string        `json:"limit,omitempty"`
}

type gaValue struct {
	Value string `json:"value"`
}

type gaRow struct {
	DimensionValues []gaValue `json:"dimensionValues"`
	MetricValues    []gaValue `json:"metricValues"`
}

func (r gaRow) dimension(i int) string {
	if i < len(r.DimensionValues) {
		return r.DimensionValues[i].Value
	}
	return ""
}

func (r gaRow) metric(i int) string {
	if i < len(r.MetricValues) {
		return r.MetricValues[i].Value
	}
	return ""
}

type gaReportResponse struct {
	Rows []gaRow `json:"rows"`
}

type gaProperty struct {
	ID   string
	Name string
}

type gaSession struct {
	token    string
	property string
}

var last30Days = []gaDateRange{{StartDate: "30daysAgo", EndDate: "today"}}

// Metric order of the totals report
var totalsMetrics = []gaName{
	{Name: "sessions"},
	{Name: "totalUsers"},
	{Name: "newUsers"},
	{Name: "screenPageViews"},
	{Name: "engagementRate"},
	{Name: "bounceRate"},
	{Name: "averageSessionDuration"},
	{Name: "keyEvents"},
}

// Fetch implements Connector
func (c *WebAnalyticsConnector) Fetch(ctx context.Context, cred types.Credential) (types.Metrics, error) {
	wc, ok := cred.(*types.WebAnalyticsCredential)
	if !ok || wc == nil {
		return nil, wrongCredential(types.PlatformWebAnalytics, cred)
	}

	token, err := c.accessToken(ctx, wc.ServiceAccountJSON)
	if err != nil {
		return nil, err
	}

	prop, err := c.resolveProperty(ctx, token, wc.PropertyID)
	if err != nil {
		return nil, errors.AsPrimary(err)
	}
	sess := gaSession{token: token, property: prop.ID}
	now := c.clock.now()

	var (
		totals    *gaReportResponse
		channels  *gaReportResponse
		landing   *gaReportResponse
		devices   *gaReportResponse
		dailyRows *gaReportResponse
	)
	err = fanOut(ctx, types.PlatformWebAnalytics,
		call{name: "totals report", primary: true, run: func(ctx context.Context) error {
			var err error
			totals, err = c.runReport(ctx, sess, "totals report", gaReportRequest{DateRanges: last30Days, Metrics: totalsMetrics})
			return err
		}},
		call{name: "channel report", run: func(ctx context.Context) error {
			var err error
			channels, err = c.runReport(ctx, sess, "channel report", gaReportRequest{
				DateRanges: last30Days,
				Dimensions: []gaName{{Name: "sessionDefaultChannelGroup"}},
				Metrics:    []gaName{{Name: "sessions"}, {Name: "keyEvents"}},
				OrderBys:   []gaOrderBy{{Desc: true, Metric: &gaMetricOrderBy{MetricName: "sessions"}}},
				Limit:      fmt.Sprint(calc.TopN),
			})
			return err
		}},
		call{name: "landing page report", run: func(ctx context.Context) error {
			var err error
			landing, err = c.runReport(ctx, sess, "landing page report", gaReportRequest{
				DateRanges: last30Days,
				Dimensions: []gaName{{Name: "landingPage"}},
				Metrics:    []gaName{{Name: "sessions"}, {Name: "bounceRate"}},
				OrderBys:   []gaOrderBy{{Desc: true, Metric: &gaMetricOrderBy{MetricName: "sessions"}}},
				Limit:      fmt.Sprint(calc.TopN),
			})
			return err
		}},
		call{name: "device report", run: func(ctx context.Context) error {
			var err error
			devices, err = c.runReport(ctx, sess, "device report", gaReportRequest{
				DateRanges: last30Days,
				Dimensions: []gaName{{Name: "deviceCategory"}},
				Metrics:    []gaName{{Name: "sessions"}},
			})
			return err
		}},
		call{name: "daily sessions report", run: func(ctx context.Context) error {
			var err error
			dailyRows, err = c.runReport(ctx, sess, "daily sessions report", gaReportRequest{
				DateRanges: last30Days,
				Dimensions: []gaName{{Name: "date"}},
				Metrics:    []gaName{{Name: "sessions"}},
				OrderBys:   []gaOrderBy{{Dimension: &gaDimensionOrderBy{DimensionName: "date"}}},
			})
			return err
		}},
	)
	if err != nil {
		return nil, err
	}

	m := buildWebAnalyticsMetrics(prop, totals, now)
	applyChannels(m, channels)
	applyLandingPages(m, landing)
	applyDevices(m, devices)
	applyDailySessions(m, dailyRows)
	return m, nil
}

// accessToken signs a JWT assertion with the service account key and
// exchanges it for an access token
func (c *WebAnalyticsConnector) accessToken(ctx context.Context, keyJSON string) (string, error) {
	conf, err := google.JWTConfigFromJSON([]byte(keyJSON), analyticsScope)
	if err != nil {
		return "", errors.NewInvalidCredentialError(types.PlatformWebAnalytics,
			fmt.Sprintf("invalid service account key: %v", err))
	}
	if c.tokenURL != "" {
		conf.TokenURL = c.tokenURL
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client.HTTPClient())
	tok, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return "", tokenError(types.PlatformWebAnalytics, err)
	}
	return tok.AccessToken, nil
}

// resolveProperty returns the configured property, or the first property in
// the account summaries listing
func (c *WebAnalyticsConnector) resolveProperty(ctx context.Context, token, configured string) (gaProperty, error) {
	if configured != "" {
		id := strings.TrimPrefix(configured, propertyPrefix)
		return gaProperty{ID: id, Name: propertyPrefix + id}, nil
	}

	var body struct {
		AccountSummaries []struct {
			PropertySummaries []struct {
				Property    string `json:"property"`
				DisplayName string `json:"displayName"`
			} `json:"propertySummaries"`
		} `json:"accountSummaries"`
	}
	query := url.Values{}
	query.Set("pageSize", "200")
	_, err := c.client.Do(ctx, Request{
		Operation: "property lookup",
		URL:       c.adminURL + "/accountSummaries",
		Query:     query,
		Header:    bearer(token),
	}, &body)
	if err != nil {
		return gaProperty{}, err
	}

	for _, account := range body.AccountSummaries {
		for _, p := range account.PropertySummaries {
			if p.Property == "" {
				continue
			}
			return gaProperty{ID: strings.TrimPrefix(p.Property, propertyPrefix), Name: p.DisplayName}, nil
		}
	}
	return gaProperty{}, errors.NewResourceNotFoundError(types.PlatformWebAnalytics, "property",
		"no analytics properties are visible to this service account")
}

func (c *WebAnalyticsConnector) runReport(ctx context.Context, sess gaSession, operation string, req gaReportRequest) (*gaReportResponse, error) {
	var out gaReportResponse
	resp, err := c.client.Do(ctx, Request{
		Operation: operation,
		Method:    http.MethodPost,
		URL:       c.dataURL + "/" + propertyPrefix + url.PathEscape(sess.property) + ":runReport",
		Header:    bearer(sess.token),
		JSON:      req,
		ReadOnly:  true,
	}, &out)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, errors.NewResourceNotFoundError(types.PlatformWebAnalytics, "property",
				fmt.Sprintf("property %s not found", sess.property))
		}
		return nil, err
	}
	return &out, nil
}

func buildWebAnalyticsMetrics(prop gaProperty, totals *gaReportResponse, now time.Time) *types.WebAnalyticsMetrics {
	m := &types.WebAnalyticsMetrics{
		RecordHeader:    types.NewRecordHeader(types.PlatformWebAnalytics, now),
		PropertyID:      prop.ID,
		PropertyName:    prop.Name,
		Channels:        []types.ChannelBreakdown{},
		TopLandingPages: []types.LandingPage{},
		Devices:         []types.DeviceShare{},
		DailySessions:   []types.TimePoint{},
	}
	if totals == nil || len(totals.Rows) == 0 {
		return m
	}

	row := totals.Rows[0]
	m.Sessions30d = calc.ParseInt(row.metric(0))
	m.Users30d = calc.ParseInt(row.metric(1))
	m.NewUsers30d = calc.ParseInt(row.metric(2))
	m.PageViews30d = calc.ParseInt(row.metric(3))
	m.EngagementRate = calc.Round4(calc.ParseFloat(row.metric(4)))
	m.BounceRate = calc.Round4(calc.ParseFloat(row.metric(5)))
	m.AvgSessionDurationSec = calc.Round2(calc.ParseFloat(row.metric(6)))
	conversions := calc.ParseFloat(row.metric(7))
	m.Conversions30d = calc.Round2(conversions)
	m.ConversionRate = calc.Round4(calc.SafeDiv(conversions, float64(m.Sessions30d)))
	m.PagesPerSession = calc.Round2(calc.SafeDiv(float64(m.PageViews30d), float64(m.Sessions30d)))
	return m
}

func applyChannels(m *types.WebAnalyticsMetrics, report *gaReportResponse) {
	if report == nil {
		return
	}
	for _, row := range report.Rows {
		sessions := calc.ParseInt(row.metric(0))
		conversions := calc.ParseFloat(row.metric(1))
		m.Channels = append(m.Channels, types.ChannelBreakdown{
			Channel:        row.dimension(0),
			Sessions:       sessions,
			Conversions:    calc.Round2(conversions),
			ConversionRate: calc.Round4(calc.SafeDiv(conversions, float64(sessions))),
			Share:          calc.Round4(calc.SafeDiv(float64(sessions), float64(m.Sessions30d))),
		})
	}
	sort.SliceStable(m.Channels, func(i, j int) bool { return m.Channels[i].Sessions > m.Channels[j].Sessions })
	if len(m.Channels) > calc.TopN {
		m.Channels = m.Channels[:calc.TopN]
	}
}

func applyLandingPages(m *types.WebAnalyticsMetrics, report *gaReportResponse) {
	if report == nil {
		return
	}
	for _, row := range report.Rows {
		m.TopLandingPages = append(m.TopLandingPages, types.LandingPage{
			Path:       row.dimension(0),
			Sessions:   calc.ParseInt(row.metric(0)),
			BounceRate: calc.Round4(calc.ParseFloat(row.metric(1))),
		})
	}
	sort.SliceStable(m.TopLandingPages, func(i, j int) bool {
		return m.TopLandingPages[i].Sessions > m.TopLandingPages[j].Sessions
	})
	if len(m.TopLandingPages) > calc.TopN {
		m.TopLandingPages = m.TopLandingPages[:calc.TopN]
	}
}

func applyDevices(m *types.WebAnalyticsMetrics, report *gaReportResponse) {
	if report == nil {
		return
	}
	for _, row := range report.Rows {
		sessions := calc.ParseInt(row.metric(0))
		m.Devices = append(m.Devices, types.DeviceShare{
			Device:   row.dimension(0),
			Sessions: sessions,
			Share:    calc.Round4(calc.SafeDiv(float64(sessions), float64(m.Sessions30d))),
		})
	}
	sort.SliceStable(m.Devices, func(i, j int) bool { return m.Devices[i].Sessions > m.Devices[j].Sessions })
}

func applyDailySessions(m *types.WebAnalyticsMetrics, report *gaReportResponse) {
	if report == nil {
		return
	}
	for _, row := range report.Rows {
		m.DailySessions = append(m.DailySessions, types.TimePoint{
			Period: isoDate(row.dimension(0)),
			Value:  float64(calc.ParseInt(row.metric(0))),
		})
	}
	sort.SliceStable(m.DailySessions, func(i, j int) bool { return m.DailySessions[i].Period < m.DailySessions[j].Period })
}

// isoDate turns the report's YYYYMMDD into YYYY-MM-DD
func isoDate(s string) string {
	if len(s) != 8 {
		return s
	}
	return s[:4] + "-" + s[4:6] + "-" + s[6:]
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// tokenError turns a failed OAuth exchange into an auth failure carrying the
// token endpoint's own message
func tokenError(platform types.Platform, err error) error {
	var re *oauth2.RetrieveError
	if stderrors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		msg := re.ErrorDescription
		if msg == "" {
			msg = VendorMessage(re.Body, status)
		}
		authErr := errors.NewAuthError(platform, "token exchange", status, msg)
		authErr.Cause = err
		return authErr
	}
	return &errors.ConnectorError{
		Platform:  platform,
		Kind:      errors.KindAuth,
		Operation: "token exchange",
		Message:   err.Error(),
		Cause:     err,
	}
}
