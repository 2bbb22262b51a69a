package adapter

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/funnel-metrics/internal/calc"
	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/types"
)

const (
	// CohortSampleSize bounds the recent-order sample used for repeat analysis
	CohortSampleSize = 200

	storefrontPageSize        = 250
	storefrontMaxPages        = 20
	storefrontTokenHeader     = "X-Shopify-Access-Token"
	storefrontTotalHeader     = "X-Total-Count"
	defaultStorefrontVersion  = "2025-01"
	defaultStorefrontCurrency = "USD"
)

// StorefrontConfig configures the storefront connector
type StorefrontConfig struct {
	APIVersion string
	// BaseURL overrides https://<shop_domain>, e.g. for tests
	BaseURL string
	Client  ClientConfig
	Clock   Clock
}

// StorefrontConnector reads orders, products and abandoned checkouts from a
// shop's admin API
type StorefrontConnector struct {
	apiVersion string
	baseURL    string
	client     *APIClient
	clock      Clock
}

// NewStorefrontConnector creates the storefront connector
func NewStorefrontConnector(cfg StorefrontConfig) *StorefrontConnector {
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultStorefrontVersion
	}
	return &StorefrontConnector{
		apiVersion: cfg.APIVersion,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		client:     NewAPIClient(types.PlatformStorefront, cfg.Client),
		clock:      cfg.Clock,
	}
}

// Platform implements Connector
func (c *StorefrontConnector) Platform() types.Platform {
	return types.PlatformStorefront
}

type shopOrder struct {
	ID         flexNumber `json:"id"`
	CreatedAt  string     `json:"created_at"`
	TotalPrice string     `json:"total_price"`
	Currency   string     `json:"currency"`
	Customer   *struct {
		ID flexNumber `json:"id"`
	} `json:"customer"`
	LineItems []shopLineItem `json:"line_items"`
}

type shopLineItem struct {
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

type shopSession struct {
	base  string
	token string
}

// Fetch implements Connector
func (c *StorefrontConnector) Fetch(ctx context.Context, cred types.Credential) (types.Metrics, error) {
	sc, ok := cred.(*types.StorefrontCredential)
	if !ok || sc == nil {
		return nil, wrongCredential(types.PlatformStorefront, cred)
	}

	base := c.baseURL
	if base == "" {
		base = "https://" + strings.TrimRight(strings.TrimPrefix(strings.TrimPrefix(sc.ShopDomain, "https://"), "http://"), "/")
	}

	token, err := c.exchangeToken(ctx, base, sc)
	if err != nil {
		return nil, err
	}
	sess := shopSession{base: base, token: token}
	now := c.clock.now()

	var (
		orders       []shopOrder
		sample       []shopOrder
		productCount int64
		abandoned    int
		checkoutsOK  bool
	)
	err = fanOut(ctx, types.PlatformStorefront,
		call{name: "orders", primary: true, run: func(ctx context.Context) error {
			var err error
			orders, err = c.fetchWindowOrders(ctx, sess, now)
			return err
		}},
		call{name: "cohort sample", run: func(ctx context.Context) error {
			var err error
			sample, err = c.fetchRecentOrders(ctx, sess)
			return err
		}},
		call{name: "product count", run: func(ctx context.Context) error {
			var err error
			productCount, err = c.fetchProductCount(ctx, sess)
			return err
		}},
		call{name: "abandoned checkouts", run: func(ctx context.Context) error {
			var err error
			abandoned, err = c.fetchAbandonedCheckouts(ctx, sess, now)
			checkoutsOK = err == nil
			return err
		}},
	)
	if err != nil {
		return nil, err
	}

	m := buildStorefrontMetrics(sc.ShopDomain, orders, now)
	m.ProductCount = productCount
	if checkoutsOK {
		m.AbandonedCheckouts30d = abandoned
		m.CheckoutCompletionRate = calc.Round4(calc.SafeDiv(float64(m.TotalOrders30d), float64(m.TotalOrders30d+abandoned)))
	}
	applyCohort(m, sample)
	return m, nil
}

// exchangeToken trades the app's client credentials for an access token
func (c *StorefrontConnector) exchangeToken(ctx context.Context, base string, sc *types.StorefrontCredential) (string, error) {
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	_, err := c.client.Do(ctx, Request{
		Operation: "token exchange",
		Method:    http.MethodPost,
		URL:       base + "/admin/oauth/access_token",
		JSON: map[string]string{
			"client_id":     sc.ClientID,
			"client_secret": sc.ClientSecret,
			"grant_type":    "client_credentials",
		},
	}, &tok)
	if err != nil {
		return "", asAuth(err)
	}
	if tok.AccessToken == "" {
		return "", errors.NewAuthError(types.PlatformStorefront, "token exchange", 0,
			"token response did not contain an access token")
	}
	return tok.AccessToken, nil
}

func (c *StorefrontConnector) adminURL(sess shopSession, resource string) string {
	return sess.base + "/admin/api/" + c.apiVersion + "/" + resource
}

func (c *StorefrontConnector) get(ctx context.Context, sess shopSession, operation, target string, query url.Values, out interface{}) (*Response, error) {
	return c.client.Do(ctx, Request{
		Operation: operation,
		URL:       target,
		Query:     query,
		Header:    http.Header{storefrontTokenHeader: []string{sess.token}},
	}, out)
}

func (c *StorefrontConnector) fetchWindowOrders(ctx context.Context, sess shopSession, now time.Time) ([]shopOrder, error) {
	query := url.Values{}
	query.Set("status", "any")
	query.Set("limit", strconv.Itoa(storefrontPageSize))
	query.Set("created_at_min", now.Add(-Window).Format(time.RFC3339))

	var all []shopOrder
	target := c.adminURL(sess, "orders.json")
	for page := 0; page < storefrontMaxPages && target != ""; page++ {
		var body struct {
			Orders []shopOrder `json:"orders"`
		}
		resp, err := c.get(ctx, sess, "orders", target, query, &body)
		if err != nil {
			return nil, err
		}
		all = append(all, body.Orders...)
		// The next link already carries the cursor and filters.
		target = nextLink(resp.Header.Get("Link"))
		query = nil
	}
	return all, nil
}

func (c *StorefrontConnector) fetchRecentOrders(ctx context.Context, sess shopSession) ([]shopOrder, error) {
	query := url.Values{}
	query.Set("status", "any")
	query.Set("limit", strconv.Itoa(CohortSampleSize))
	query.Set("order", "created_at desc")
	var body struct {
		Orders []shopOrder `json:"orders"`
	}
	if _, err := c.get(ctx, sess, "cohort sample", c.adminURL(sess, "orders.json"), query, &body); err != nil {
		return nil, err
	}
	if len(body.Orders) > CohortSampleSize {
		body.Orders = body.Orders[:CohortSampleSize]
	}
	return body.Orders, nil
}

func (c *StorefrontConnector) fetchProductCount(ctx context.Context, sess shopSession) (int64, error) {
	query := url.Values{}
	query.Set("limit", "1")
	query.Set("fields", "id")
	resp, err := c.get(ctx, sess, "product count", c.adminURL(sess, "products.json"), query, nil)
	if err != nil {
		return 0, err
	}
	return calc.HeaderInt(resp.Header, storefrontTotalHeader), nil
}

func (c *StorefrontConnector) fetchAbandonedCheckouts(ctx context.Context, sess shopSession, now time.Time) (int, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(storefrontPageSize))
	query.Set("created_at_min", now.Add(-Window).Format(time.RFC3339))

	total := 0
	target := c.adminURL(sess, "checkouts.json")
	for page := 0; page < storefrontMaxPages && target != ""; page++ {
		var body struct {
			Checkouts []struct {
				ID flexNumber `json:"id"`
			} `json:"checkouts"`
		}
		resp, err := c.get(ctx, sess, "abandoned checkouts", target, query, &body)
		if err != nil {
			return 0, err
		}
		total += len(body.Checkouts)
		target = nextLink(resp.Header.Get("Link"))
		query = nil
	}
	return total, nil
}

func buildStorefrontMetrics(shopDomain string, orders []shopOrder, now time.Time) *types.StorefrontMetrics {
	m := &types.StorefrontMetrics{
		RecordHeader:              types.NewRecordHeader(types.PlatformStorefront, now),
		ShopDomain:                shopDomain,
		Currency:                  defaultStorefrontCurrency,
		TotalOrders30d:            len(orders),
		TopProducts30d:            []types.ProductSales{},
		TopSecondPurchaseProducts: []types.ProductFrequency{},
	}

	prices := make([]string, 0, len(orders))
	type productAgg struct {
		quantity int
		revenue  decimal.Decimal
	}
	products := make(map[string]*productAgg)
	currencySet := false
	for _, o := range orders {
		prices = append(prices, o.TotalPrice)
		if o.Currency != "" && !currencySet {
			m.Currency = o.Currency
			currencySet = true
		}
		for _, li := range o.LineItems {
			agg, ok := products[li.Title]
			if !ok {
				agg = &productAgg{}
				products[li.Title] = agg
			}
			agg.quantity += li.Quantity
			agg.revenue = agg.revenue.Add(calc.SumDecimalStrings(li.Price).Mul(decimal.NewFromInt(int64(li.Quantity))))
		}
	}

	revenue := calc.SumDecimalStrings(prices...)
	m.TotalRevenue30d, _ = revenue.Round(2).Float64()
	if len(orders) > 0 {
		m.AOV30d, _ = revenue.Div(decimal.NewFromInt(int64(len(orders)))).Round(2).Float64()
	}

	for title, agg := range products {
		rev, _ := agg.revenue.Round(2).Float64()
		m.TopProducts30d = append(m.TopProducts30d, types.ProductSales{Title: title, Quantity: agg.quantity, Revenue: rev})
	}
	sort.Slice(m.TopProducts30d, func(i, j int) bool {
		a, b := m.TopProducts30d[i], m.TopProducts30d[j]
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		return a.Title < b.Title
	})
	if len(m.TopProducts30d) > calc.TopN {
		m.TopProducts30d = m.TopProducts30d[:calc.TopN]
	}
	return m
}

// applyCohort estimates repeat purchasing from a bounded sample of recent
// orders. Only the chronologically second order of each repeat customer
// feeds the second-purchase ranking.
func applyCohort(m *types.StorefrontMetrics, sample []shopOrder) {
	m.SampledOrders = len(sample)

	type dated struct {
		at    time.Time
		order *shopOrder
	}
	byCustomer := make(map[string][]dated)
	for i := range sample {
		o := &sample[i]
		if o.Customer == nil || o.Customer.ID == "" {
			continue
		}
		at, _ := parseVendorTime(o.CreatedAt)
		id := string(o.Customer.ID)
		byCustomer[id] = append(byCustomer[id], dated{at: at, order: o})
	}

	m.SampledCustomers = len(byCustomer)
	secondCounts := make(map[string]int)
	var gapDays []float64
	for _, history := range byCustomer {
		if len(history) < 2 {
			continue
		}
		m.RepeatCustomers++
		sort.SliceStable(history, func(i, j int) bool { return history[i].at.Before(history[j].at) })

		second := history[1]
		gapDays = append(gapDays, second.at.Sub(history[0].at).Hours()/24)
		seen := make(map[string]bool)
		for _, li := range second.order.LineItems {
			if li.Title == "" || seen[li.Title] {
				continue
			}
			seen[li.Title] = true
			secondCounts[li.Title]++
		}
	}

	m.RepeatCustomerRate = calc.Round4(calc.SafeDiv(float64(m.RepeatCustomers), float64(m.SampledCustomers)))
	m.AvgDaysToSecondOrder = calc.Round2(calc.AverageOfRates(gapDays))

	for title, n := range secondCounts {
		m.TopSecondPurchaseProducts = append(m.TopSecondPurchaseProducts, types.ProductFrequency{Title: title, Customers: n})
	}
	sort.Slice(m.TopSecondPurchaseProducts, func(i, j int) bool {
		a, b := m.TopSecondPurchaseProducts[i], m.TopSecondPurchaseProducts[j]
		if a.Customers != b.Customers {
			return a.Customers > b.Customers
		}
		return a.Title < b.Title
	})
	if len(m.TopSecondPurchaseProducts) > calc.TopN {
		m.TopSecondPurchaseProducts = m.TopSecondPurchaseProducts[:calc.TopN]
	}
}
