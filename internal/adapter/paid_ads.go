package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/funnel-metrics/internal/calc"
	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/types"
)

const (
	defaultAdsBaseURL  = "https://googleads.googleapis.com"
	defaultAdsVersion  = "v19"
	defaultAdsTokenURL = "https://oauth2.googleapis.com/token"
	defaultAdsCurrency = "USD"
	adsSpendMonths     = 12
)

const campaignQuery = `SELECT campaign.id, campaign.name, campaign.status, metrics.cost_micros, metrics.impressions, metrics.clicks, metrics.conversions, metrics.conversions_value FROM campaign WHERE segments.date DURING LAST_30_DAYS`

const customerQuery = `SELECT customer.descriptive_name, customer.currency_code FROM customer LIMIT 1`

// PaidAdsConfig configures the paid ads connector
type PaidAdsConfig struct {
	BaseURL    string
	APIVersion string
	TokenURL   string
	Client     ClientConfig
	Clock      Clock
}

// PaidAdsConnector reports campaign spend and returns for one ads customer
type PaidAdsConnector struct {
	baseURL    string
	apiVersion string
	tokenURL   string
	client     *APIClient
	clock      Clock
}

// NewPaidAdsConnector creates the paid ads connector
func NewPaidAdsConnector(cfg PaidAdsConfig) *PaidAdsConnector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAdsBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAdsVersion
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultAdsTokenURL
	}
	return &PaidAdsConnector{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		tokenURL:   cfg.TokenURL,
		client:     NewAPIClient(types.PlatformPaidAds, cfg.Client),
		clock:      cfg.Clock,
	}
}

// Platform implements Connector
func (c *PaidAdsConnector) Platform() types.Platform {
	return types.PlatformPaidAds
}

type adsRow struct {
	Campaign struct {
		ID     flexNumber `json:"id"`
		Name   string     `json:"name"`
		Status string     `json:"status"`
	} `json:"campaign"`
	Customer struct {
		DescriptiveName string `json:"descriptiveName"`
		CurrencyCode    string `json:"currencyCode"`
	} `json:"customer"`
	Segments struct {
		Month string `json:"month"`
	} `json:"segments"`
	Metrics struct {
		CostMicros       flexNumber `json:"costMicros"`
		Impressions      flexNumber `json:"impressions"`
		Clicks           flexNumber `json:"clicks"`
		Conversions      flexNumber `json:"conversions"`
		ConversionsValue flexNumber `json:"conversionsValue"`
	} `json:"metrics"`
}

// searchStream answers with a JSON array of result batches
type adsBatch struct {
	Results []adsRow `json:"results"`
}

type adsSession struct {
	token           string
	developerToken  string
	customerID      string
	loginCustomerID string
}

// Fetch implements Connector
func (c *PaidAdsConnector) Fetch(ctx context.Context, cred types.Credential) (types.Metrics, error) {
	pc, ok := cred.(*types.PaidAdsCredential)
	if !ok || pc == nil {
		return nil, wrongCredential(types.PlatformPaidAds, cred)
	}
	if pc.CustomerID == "" {
		return nil, errors.NewInvalidCredentialError(types.PlatformPaidAds, "customer_id is required")
	}

	token, err := c.accessToken(ctx, pc)
	if err != nil {
		return nil, err
	}
	sess := adsSession{
		token:           token,
		developerToken:  pc.DeveloperToken,
		customerID:      strings.ReplaceAll(pc.CustomerID, "-", ""),
		loginCustomerID: strings.ReplaceAll(pc.LoginCustomerID, "-", ""),
	}
	now := c.clock.now()

	var campaigns, customer, monthly []adsRow
	err = fanOut(ctx, types.PlatformPaidAds,
		call{name: "campaign report", primary: true, run: func(ctx context.Context) error {
			var err error
			campaigns, err = c.search(ctx, sess, "campaign report", campaignQuery)
			return err
		}},
		call{name: "account details", run: func(ctx context.Context) error {
			var err error
			customer, err = c.search(ctx, sess, "account details", customerQuery)
			return err
		}},
		call{name: "monthly spend", run: func(ctx context.Context) error {
			var err error
			monthly, err = c.search(ctx, sess, "monthly spend", monthlySpendQuery(now))
			return err
		}},
	)
	if err != nil {
		return nil, err
	}

	m := buildPaidAdsMetrics(sess.customerID, campaigns, now)
	applyAccount(m, customer)
	applyMonthlySpend(m, monthly)
	return m, nil
}

// accessToken trades the stored refresh token for an access token
func (c *PaidAdsConnector) accessToken(ctx context.Context, pc *types.PaidAdsCredential) (string, error) {
	conf := &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client.HTTPClient())
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: pc.RefreshToken}).Token()
	if err != nil {
		return "", tokenError(types.PlatformPaidAds, err)
	}
	return tok.AccessToken, nil
}

func (c *PaidAdsConnector) search(ctx context.Context, sess adsSession, operation, query string) ([]adsRow, error) {
	header := bearer(sess.token)
	header.Set("developer-token", sess.developerToken)
	if sess.loginCustomerID != "" {
		header.Set("login-customer-id", sess.loginCustomerID)
	}

	var batches []adsBatch
	resp, err := c.client.Do(ctx, Request{
		Operation: operation,
		Method:    http.MethodPost,
		URL:       fmt.Sprintf("%s/%s/customers/%s/googleAds:searchStream", c.baseURL, c.apiVersion, sess.customerID),
		Header:    header,
		JSON:      map[string]string{"query": query},
		ReadOnly:  true,
	}, &batches)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, errors.NewResourceNotFoundError(types.PlatformPaidAds, "customer",
				fmt.Sprintf("customer %s not found", sess.customerID))
		}
		return nil, err
	}

	var rows []adsRow
	for _, b := range batches {
		rows = append(rows, b.Results...)
	}
	return rows, nil
}

// monthlySpendQuery covers the current month and the eleven before it
func monthlySpendQuery(now time.Time) string {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(adsSpendMonths - 1), 0)
	return fmt.Sprintf("SELECT segments.month, metrics.cost_micros FROM customer WHERE segments.date BETWEEN '%s' AND '%s'",
		start.Format("2006-01-02"), now.Format("2006-01-02"))
}

type campaignAgg struct {
	id, name, status string
	micros           int64
	impressions      int64
	clicks           int64
	conversions      float64
	value            float64
}

func buildPaidAdsMetrics(customerID string, rows []adsRow, now time.Time) *types.PaidAdsMetrics {
	m := &types.PaidAdsMetrics{
		RecordHeader: types.NewRecordHeader(types.PlatformPaidAds, now),
		CustomerID:   customerID,
		Currency:     defaultAdsCurrency,
		Campaigns:    []types.AdCampaign{},
		TopCampaigns: []types.AdCampaign{},
		MonthlySpend: []types.TimePoint{},
	}

	// Rows can repeat per campaign when the report is segmented; fold by id.
	var order []string
	byID := make(map[string]*campaignAgg)
	var totalMicros int64
	var conversions, value float64
	for _, r := range rows {
		id := string(r.Campaign.ID)
		agg, ok := byID[id]
		if !ok {
			agg = &campaignAgg{id: id, name: r.Campaign.Name, status: r.Campaign.Status}
			byID[id] = agg
			order = append(order, id)
		}
		micros := r.Metrics.CostMicros.Int()
		agg.micros += micros
		agg.impressions += r.Metrics.Impressions.Int()
		agg.clicks += r.Metrics.Clicks.Int()
		agg.conversions += r.Metrics.Conversions.Float()
		agg.value += r.Metrics.ConversionsValue.Float()

		totalMicros += micros
		m.Impressions30d += r.Metrics.Impressions.Int()
		m.Clicks30d += r.Metrics.Clicks.Int()
		conversions += r.Metrics.Conversions.Float()
		value += r.Metrics.ConversionsValue.Float()
	}

	spend := calc.MicrosToUnits(totalMicros)
	m.Spend30d = spend
	m.Conversions30d = calc.Round2(conversions)
	m.ConversionValue30d = calc.Round2(value)
	m.CTR = calc.Round4(calc.SafeDiv(float64(m.Clicks30d), float64(m.Impressions30d)))
	m.ConversionRate = calc.Round4(calc.SafeDiv(conversions, float64(m.Clicks30d)))
	m.AvgCPC = calc.Round2(calc.SafeDiv(spend, float64(m.Clicks30d)))
	m.CostPerConversion = calc.Round2(calc.SafeDiv(spend, conversions))
	m.ROAS = calc.Round2(calc.SafeDiv(value, spend))

	var active []types.AdCampaign
	for _, id := range order {
		agg := byID[id]
		if agg.impressions == 0 && agg.micros == 0 {
			continue
		}
		campaignSpend := calc.MicrosToUnits(agg.micros)
		active = append(active, types.AdCampaign{
			ID:          agg.id,
			Name:        agg.name,
			Status:      agg.status,
			Spend:       campaignSpend,
			Impressions: agg.impressions,
			Clicks:      agg.clicks,
			Conversions: calc.Round2(agg.conversions),
			CTR:         calc.Round4(calc.SafeDiv(float64(agg.clicks), float64(agg.impressions))),
			ROAS:        calc.Round2(calc.SafeDiv(agg.value, campaignSpend)),
		})
	}

	bySpend := append([]types.AdCampaign(nil), active...)
	sort.SliceStable(bySpend, func(i, j int) bool { return bySpend[i].Spend > bySpend[j].Spend })
	if len(bySpend) > calc.TopN {
		bySpend = bySpend[:calc.TopN]
	}
	if bySpend != nil {
		m.Campaigns = bySpend
	}
	m.TopCampaigns = calc.TopPerformers(active, func(c types.AdCampaign) float64 { return c.CTR })
	return m
}

func applyAccount(m *types.PaidAdsMetrics, rows []adsRow) {
	if len(rows) == 0 {
		return
	}
	m.AccountName = rows[0].Customer.DescriptiveName
	if code := rows[0].Customer.CurrencyCode; code != "" {
		m.Currency = code
	}
}

func applyMonthlySpend(m *types.PaidAdsMetrics, rows []adsRow) {
	byMonth := make(map[string]int64)
	var total int64
	for _, r := range rows {
		month := r.Segments.Month
		if len(month) >= 7 {
			month = month[:7]
		}
		micros := r.Metrics.CostMicros.Int()
		byMonth[month] += micros
		total += micros
	}
	for month, micros := range byMonth {
		m.MonthlySpend = append(m.MonthlySpend, types.TimePoint{Period: month, Value: calc.MicrosToUnits(micros)})
	}
	sort.Slice(m.MonthlySpend, func(i, j int) bool { return m.MonthlySpend[i].Period < m.MonthlySpend[j].Period })
	m.Spend12m = calc.MicrosToUnits(total)
}
