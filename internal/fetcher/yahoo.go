package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	chartPath  = "/v8/finance/chart/"
	searchPath = "/v1/finance/search"

	defaultBaseURL       = "https://query1.finance.yahoo.com"
	defaultDetailURLBase = "https://finance.yahoo.co.jp/quote/"
	defaultUserAgent     = "Mozilla/5.0"
	tokyoSuffix          = ".T"
)

// YahooOptions parameterise the Yahoo Finance client.
type YahooOptions struct {
	BaseURL       string
	DetailURLBase string
	Timeout       time.Duration
	UserAgent     string
	MaxCandidates int
}

// Yahoo fetches quotes and ticker candidates from Yahoo Finance.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if opts.DetailURLBase == "" {
		opts.DetailURLBase = defaultDetailURLBase
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 5
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchSnapshot retrieves the latest daily quote for ticker.
func (y *Yahoo) FetchSnapshot(ctx context.Context, ticker string) (Snapshot, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return Snapshot{}, fmt.Errorf("ticker is required")
	}

	query := url.Values{}
	query.Set("interval", "1d")
	query.Set("range", "1d")
	endpoint := y.baseURL + chartPath + url.PathEscape(ticker) + "?" + query.Encode()

	payload, status, err := y.get(ctx, endpoint)
	if err != nil {
		return Snapshot{}, err
	}
	if status == http.StatusNotFound {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}
	if status != http.StatusOK {
		return Snapshot{}, parseHTTPError(status, payload)
	}

	var res chartResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return Snapshot{}, fmt.Errorf("decode chart response: %w", err)
	}
	if res.Chart.Error != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %s", ErrTickerNotFound, ticker, res.Chart.Error.Description)
	}
	if len(res.Chart.Result) == 0 {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}

	result := res.Chart.Result[0]
	meta := result.Meta

	snap := Snapshot{
		Ticker:        ticker,
		Name:          firstNonEmpty(meta.LongName, meta.ShortName, ticker),
		Currency:      meta.Currency,
		CurrentPrice:  meta.RegularMarketPrice,
		PreviousClose: firstValid(meta.PreviousClose, meta.ChartPreviousClose),
		DayHigh:       meta.RegularMarketDayHigh,
		DayLow:        meta.RegularMarketDayLow,
		Volume:        meta.RegularMarketVolume,
		DetailURL:     y.opts.DetailURLBase + ticker,
		FetchedAt:     y.now().UTC(),
	}
	if len(result.Indicators.Quote) > 0 {
		quote := result.Indicators.Quote[0]
		snap.Open = lastValid(quote.Open)
		if !snap.DayHigh.Valid {
			snap.DayHigh = lastValid(quote.High)
		}
		if !snap.DayLow.Valid {
			snap.DayLow = lastValid(quote.Low)
		}
		if !snap.Volume.Valid {
			snap.Volume = lastValid(quote.Volume)
		}
	}

	if snap.Currency == "JPY" {
		snap.LimitLow, snap.LimitHigh = DailyPriceLimit(snap.PreviousClose)
	}

	y.logger.Debug().Str("ticker", ticker).
		Bool("has_price", snap.CurrentPrice.Valid).
		Bool("has_prev_close", snap.PreviousClose.Valid).
		Msg("snapshot fetched")
	return snap, nil
}

// SearchTickers returns up to MaxCandidates Tokyo-listed tickers matching query.
func (y *Yahoo) SearchTickers(ctx context.Context, q string) ([]Candidate, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("search query is required")
	}

	query := url.Values{}
	query.Set("q", q)
	query.Set("quotesCount", "20")
	query.Set("newsCount", "0")
	query.Set("lang", "ja-JP")
	query.Set("region", "JP")

	payload, status, err := y.get(ctx, y.baseURL+searchPath+"?"+query.Encode())
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, parseHTTPError(status, payload)
	}

	var res searchResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	candidates := make([]Candidate, 0, y.opts.MaxCandidates)
	seen := make(map[string]struct{})
	for _, quote := range res.Quotes {
		if !strings.HasSuffix(quote.Symbol, tokyoSuffix) {
			continue
		}
		if _, dup := seen[quote.Symbol]; dup {
			continue
		}
		seen[quote.Symbol] = struct{}{}
		candidates = append(candidates, Candidate{
			Ticker: quote.Symbol,
			Name:   firstNonEmpty(quote.LongName, quote.ShortName, quote.Symbol),
		})
		if len(candidates) >= y.opts.MaxCandidates {
			break
		}
	}
	return candidates, nil
}

func (y *Yahoo) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return payload, resp.StatusCode, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency             string              `json:"currency"`
				Symbol               string              `json:"symbol"`
				LongName             string              `json:"longName"`
				ShortName            string              `json:"shortName"`
				RegularMarketPrice   decimal.NullDecimal `json:"regularMarketPrice"`
				PreviousClose        decimal.NullDecimal `json:"previousClose"`
				ChartPreviousClose   decimal.NullDecimal `json:"chartPreviousClose"`
				RegularMarketDayHigh decimal.NullDecimal `json:"regularMarketDayHigh"`
				RegularMarketDayLow  decimal.NullDecimal `json:"regularMarketDayLow"`
				RegularMarketVolume  decimal.NullDecimal `json:"regularMarketVolume"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Open   []decimal.NullDecimal `json:"open"`
					High   []decimal.NullDecimal `json:"high"`
					Low    []decimal.NullDecimal `json:"low"`
					Volume []decimal.NullDecimal `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"chart"`
}

type searchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func parseHTTPError(status int, payload []byte) error {
	var wrapped struct {
		Chart struct {
			Error *apiError `json:"error"`
		} `json:"chart"`
		Finance struct {
			Error *apiError `json:"error"`
		} `json:"finance"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil {
		for _, apiErr := range []*apiError{wrapped.Chart.Error, wrapped.Finance.Error} {
			if apiErr == nil {
				continue
			}
			if apiErr.Description != "" {
				return fmt.Errorf("yahoo api error (%d): %s", status, apiErr.Description)
			}
			if apiErr.Code != "" {
				return fmt.Errorf("yahoo api error (%d): %s", status, apiErr.Code)
			}
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("yahoo api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("yahoo api error (%d)", status)
}

func firstValid(values ...decimal.NullDecimal) decimal.NullDecimal {
	for _, v := range values {
		if v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}

func lastValid(values []decimal.NullDecimal) decimal.NullDecimal {
	for i := len(values) - 1; i >= 0; i-- {
		if values[i].Valid {
			return values[i]
		}
	}
	return decimal.NullDecimal{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var (
	_ PriceFetcher   = (*Yahoo)(nil)
	_ TickerResolver = (*Yahoo)(nil)
)
