package collectors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"ingest-quality-service/internal/loaders"
	"ingest-quality-service/internal/record"
)

const userAgent = "ingest-quality-service/1.0"

// AuthConfig holds upstream credentials. Login is "user:password" for basic
// auth; Token is sent as a bearer token and wins when both are set.
type AuthConfig struct {
	Login string `yaml:"login"`
	Token string `yaml:"token"`
}

// Pagination pages through an offset-based API. Paging stops at the first
// short page or after MaxPages.
type Pagination struct {
	PageSize    int    `yaml:"page_size"`
	LimitParam  string `yaml:"limit_param"`
	OffsetParam string `yaml:"offset_param"`
	MaxPages    int    `yaml:"max_pages"`
}

// HTTPFetcher downloads a JSON record batch from an upstream API.
type HTTPFetcher struct {
	URL         string
	RecordsPath string
	Auth        AuthConfig
	Headers     map[string]string
	Pagination  Pagination
	Client      *http.Client
	RetryCount  int
	// RetryWait is multiplied by the attempt number between retries.
	RetryWait time.Duration

	limiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher. ratePerSecond <= 0 disables rate limiting.
func NewHTTPFetcher(rawURL, recordsPath string, ratePerSecond float64) *HTTPFetcher {
	f := &HTTPFetcher{
		URL:         rawURL,
		RecordsPath: recordsPath,
		Client:      &http.Client{Timeout: 30 * time.Second},
		RetryCount:  2,
		RetryWait:   time.Second,
		limiter:     rate.NewLimiter(rate.Inf, 1),
	}
	if ratePerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return f
}

// SetRetryCount sets the number of retry attempts for failed requests
func (f *HTTPFetcher) SetRetryCount(count int) {
	f.RetryCount = count
}

// Fetch downloads every page and returns the records in upstream order.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]record.Record, error) {
	if f.Pagination.PageSize <= 0 {
		return f.fetchPage(ctx, f.URL)
	}

	limitParam := f.Pagination.LimitParam
	if limitParam == "" {
		limitParam = "limit"
	}
	offsetParam := f.Pagination.OffsetParam
	if offsetParam == "" {
		offsetParam = "skip"
	}

	var all []record.Record
	for page := 0; f.Pagination.MaxPages <= 0 || page < f.Pagination.MaxPages; page++ {
		pageURL, err := withQuery(f.URL, map[string]string{
			limitParam:  strconv.Itoa(f.Pagination.PageSize),
			offsetParam: strconv.Itoa(page * f.Pagination.PageSize),
		})
		if err != nil {
			return nil, err
		}
		records, err := f.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, eris.Wrapf(err, "page %d", page)
		}
		all = append(all, records...)
		if len(records) < f.Pagination.PageSize {
			break
		}
	}
	return all, nil
}

func withQuery(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "invalid url %s", rawURL)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *HTTPFetcher) fetchPage(ctx context.Context, endpoint string) ([]record.Record, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter")
	}

	resp, err := f.doRequestWithRetry(ctx, endpoint)
	if err != nil {
		return nil, eris.Wrapf(err, "request to %s failed", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, eris.Errorf("HTTP %d from %s: %s", resp.StatusCode, endpoint, strings.TrimSpace(string(body)))
	}

	records, err := loaders.DecodeJSON(resp.Body, f.RecordsPath)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse response from %s", endpoint)
	}
	return records, nil
}

// doRequestWithRetry retries transport errors and 429/502/503/504 responses.
func (f *HTTPFetcher) doRequestWithRetry(ctx context.Context, endpoint string) (*http.Response, error) {
	var lastErr error
	var resp *http.Response

	for attempt := 0; attempt <= f.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * f.RetryWait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		f.decorate(req)

		resp, lastErr = f.Client.Do(req)
		if lastErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < f.RetryCount {
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (f *HTTPFetcher) decorate(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range f.Headers {
		req.Header.Set(k, v)
	}

	switch {
	case f.Auth.Token != "":
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", f.Auth.Token))
	case f.Auth.Login != "":
		if user, pass, ok := strings.Cut(f.Auth.Login, ":"); ok {
			req.SetBasicAuth(user, pass)
		}
	}
}
