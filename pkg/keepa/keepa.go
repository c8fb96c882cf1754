package keepa

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sellerwatch/sellerwatch/internal/utils"
	"github.com/sellerwatch/sellerwatch/pkg/badge"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://api.keepa.com"

	// MaxBatchSize is Keepa's hard cap on ASINs per /product call.
	MaxBatchSize = 100

	// healthCheckASIN is a long-lived product used to probe the API.
	healthCheckASIN = "B0088PUEPK"
)

var (
	// ErrTransport covers timeouts, network failures and retryable HTTP
	// statuses. Callers may retry these with backoff.
	ErrTransport = errors.New("keepa: transport error")

	// ErrConfiguration covers bad credentials, exhausted plans and
	// malformed requests. These will not self-heal within a run and must
	// not be retried.
	ErrConfiguration = errors.New("keepa: configuration error")
)

// CallMeta reports the token accounting of a single API call. Keepa bills
// one token per ASIN; TokensConsumed falls back to the request size when
// the response omits it.
type CallMeta struct {
	TokensConsumed int
	TokensLeft     int
	RefillIn       int
	RefillRate     int
	Duration       time.Duration
}

// Client fetches product data from the Keepa API.
type Client struct {
	apiKey  string
	domain  int // 1 = amazon.com
	baseURL string
	http    *retryablehttp.Client
}

// NewClient builds a Keepa client. Transport-level retries are handled by
// retryablehttp; operation-level retry policy is the caller's concern.
func NewClient(apiKey string, domain int, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = stdlog.New(io.Discard, "", 0)
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = timeout

	if domain <= 0 {
		domain = 1
	}

	return &Client{
		apiKey:  apiKey,
		domain:  domain,
		baseURL: DefaultBaseURL,
		http:    rc,
	}
}

// SetBaseURL overrides the API endpoint; used in tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// FetchBatch retrieves current product data for up to MaxBatchSize ASINs
// in a single call and normalizes each product into a badge.Snapshot.
// Products the API returns as null (unknown ASINs) are silently absent
// from the result; callers detect them by lookup.
func (c *Client) FetchBatch(ctx context.Context, asins []string) ([]badge.Snapshot, CallMeta, error) {
	if len(asins) == 0 {
		return nil, CallMeta{}, nil
	}
	if len(asins) > MaxBatchSize {
		return nil, CallMeta{}, fmt.Errorf("%w: %d ASINs exceeds the %d per-call limit", ErrConfiguration, len(asins), MaxBatchSize)
	}
	if c.apiKey == "" {
		return nil, CallMeta{}, fmt.Errorf("%w: missing API key", ErrConfiguration)
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("domain", fmt.Sprintf("%d", c.domain))
	params.Set("asin", strings.Join(asins, ","))
	params.Set("stats", "7")
	params.Set("history", "0")

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", c.baseURL+"/product?"+params.Encode(), nil)
	if err != nil {
		return nil, CallMeta{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, CallMeta{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, CallMeta{}, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	switch {
	case res.StatusCode == 200:
		// fall through to parsing
	case res.StatusCode == 400 || res.StatusCode == 401 || res.StatusCode == 402:
		return nil, CallMeta{}, fmt.Errorf("%w: status %d: %s", ErrConfiguration, res.StatusCode, gjson.GetBytes(body, "error.message").Str)
	default:
		return nil, CallMeta{}, fmt.Errorf("%w: status %d", ErrTransport, res.StatusCode)
	}

	fetchedAt := time.Now().UTC()
	meta := CallMeta{
		TokensConsumed: int(gjson.GetBytes(body, "tokensConsumed").Int()),
		TokensLeft:     int(gjson.GetBytes(body, "tokensLeft").Int()),
		RefillIn:       int(gjson.GetBytes(body, "refillIn").Int()),
		RefillRate:     int(gjson.GetBytes(body, "refillRate").Int()),
		Duration:       time.Since(start),
	}
	if meta.TokensConsumed == 0 {
		meta.TokensConsumed = len(asins)
	}

	var snapshots []badge.Snapshot
	for _, product := range gjson.GetBytes(body, "products").Array() {
		if !product.IsObject() {
			continue // Keepa returns null for unknown ASINs
		}
		snapshots = append(snapshots, parseProduct(product, fetchedAt))
	}

	utils.Log.Debugf("keepa: fetched %d/%d products, %d tokens left", len(snapshots), len(asins), meta.TokensLeft)
	return snapshots, meta, nil
}

// parseProduct normalizes one raw Keepa product into a strict Snapshot.
// salesRanks values are [keepaTime, rank] pairs with history=0; the
// current rank sits at index 1.
func parseProduct(product gjson.Result, fetchedAt time.Time) badge.Snapshot {
	s := badge.Snapshot{
		ASIN:          product.Get("asin").Str,
		FetchedAt:     fetchedAt,
		Title:         product.Get("title").Str,
		Brand:         product.Get("brand").Str,
		MonthlySold:   int(product.Get("monthlySold").Int()),
		Ranks:         make(map[string]int),
		CategoryNames: make(map[string]string),
		Raw:           product.Raw,
	}

	product.Get("salesRanks").ForEach(func(catID, rankData gjson.Result) bool {
		pairs := rankData.Array()
		if len(pairs) >= 2 {
			s.Ranks[catID.Str] = int(pairs[1].Int())
		}
		return true
	})

	for _, cat := range product.Get("categoryTree").Array() {
		id := cat.Get("catId")
		name := cat.Get("name").Str
		if id.Exists() && name != "" {
			s.CategoryNames[id.String()] = name
		}
	}

	return s
}

// EstimateCostCents converts a token count into an approximate cost:
// Keepa charges $1 per 1000 tokens, one token per ASIN, minimum 1 cent.
func EstimateCostCents(tokens int) int {
	cents := tokens / 10
	if cents < 1 {
		cents = 1
	}
	return cents
}

// HealthCheck probes the API with a known ASIN.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, _, err := c.FetchBatch(ctx, []string{healthCheckASIN})
	return err
}
