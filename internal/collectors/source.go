package collectors

import (
	"strings"

	"github.com/rotisserie/eris"

	"ingest-quality-service/internal/loaders"
)

// Source types.
const (
	SourceHTTP = "http"
	SourceFile = "file"
)

// Source describes one upstream feed.
type Source struct {
	ID          string            `yaml:"id"`
	Type        string            `yaml:"type"`
	URL         string            `yaml:"url"`
	Path        string            `yaml:"path"`
	RecordsPath string            `yaml:"records_path"`
	Schedule    string            `yaml:"schedule"`
	RateLimit   float64           `yaml:"rate_limit"`
	RetryCount  *int              `yaml:"retry_count"`
	Auth        AuthConfig        `yaml:"auth"`
	Headers     map[string]string `yaml:"headers"`
	Pagination  Pagination        `yaml:"pagination"`
}

// NewFetcher builds the fetcher a source describes.
func NewFetcher(src Source) (Fetcher, error) {
	if strings.TrimSpace(src.ID) == "" {
		return nil, eris.New("source id is required")
	}

	switch src.Type {
	case SourceHTTP, "":
		if src.URL == "" {
			return nil, eris.Errorf("source %s: url is required", src.ID)
		}
		f := NewHTTPFetcher(src.URL, src.RecordsPath, src.RateLimit)
		f.Auth = src.Auth
		f.Headers = src.Headers
		f.Pagination = src.Pagination
		if src.RetryCount != nil {
			f.SetRetryCount(*src.RetryCount)
		}
		return f, nil
	case SourceFile:
		if src.Path == "" {
			return nil, eris.Errorf("source %s: path is required", src.ID)
		}
		return &FileFetcher{Path: src.Path, Options: loaders.Options{RecordsPath: src.RecordsPath}}, nil
	}
	return nil, eris.Errorf("source %s: unknown type %q", src.ID, src.Type)
}
