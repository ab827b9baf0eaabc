package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	// Name is the provider identity. Required.
	Name string

	// BaseURL is the daily-bars endpoint. Required. The symbol and date
	// range are passed as query parameters: symbol, start, end (YYYYMMDD).
	BaseURL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// Timeout bounds one request. Default: 30 seconds.
	Timeout time.Duration

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// HTTPProvider retrieves daily bars from a CSV-over-HTTP endpoint, the
// lowest common denominator the free market-data feeds share. Response
// rows are `date,open,high,low,close,volume` with a header line.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates an HTTP daily-bars provider.
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if cfg.Name == "" {
		return nil, errors.New("feed: provider name is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("feed: provider %q: base URL is required", cfg.Name)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("feed: provider %q: invalid base URL: %w", cfg.Name, err)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPProvider{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
	}, nil
}

func (p *HTTPProvider) Name() string { return p.name }

// DailyBars retrieves bars for the symbol over [start, end]. Network
// failures and 5xx responses come back transient; auth and validation
// failures come back fatal.
func (p *HTTPProvider) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, Fatal(p.name, "invalid base URL", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("start", start.UTC().Format("20060102"))
	q.Set("end", end.UTC().Format("20060102"))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, Fatal(p.name, "build request", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Transient(p.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parsing
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, Fatal(p.name, "authentication rejected", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, Transient(p.name, fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil, Fatal(p.name, "request rejected", fmt.Errorf("status %d", resp.StatusCode))
	}

	bars, err := parseBarsCSV(symbol, resp.Body)
	if err != nil {
		return nil, Fatal(p.name, "malformed response", err)
	}
	return bars, nil
}

func parseBarsCSV(symbol string, r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 6

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("empty response")
	}

	bars := make([]Bar, 0, len(records)-1)
	for i, record := range records[1:] { // skip header
		day, err := time.ParseInLocation("2006-01-02", record[0], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad date %q", i+2, record[0])
		}
		var vals [4]float64
		for j := 0; j < 4; j++ {
			v, err := strconv.ParseFloat(record[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad price %q", i+2, record[j+1])
			}
			vals[j] = v
		}
		volume, err := strconv.ParseInt(record[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad volume %q", i+2, record[5])
		}
		bars = append(bars, Bar{
			Symbol: symbol,
			Day:    day,
			Open:   vals[0], High: vals[1], Low: vals[2], Close: vals[3],
			Volume: volume,
		})
	}
	return bars, nil
}
