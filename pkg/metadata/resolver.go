package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Defaults for Resolver.
const (
	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "Mozilla/5.0"

	// maxPageBytes bounds how much of a page is read.
	maxPageBytes = 4 << 20
)

// Config tunes page fetching.
type Config struct {
	Timeout   time.Duration
	UserAgent string

	// RateLimit is the maximum page fetches per second. Zero is unlimited.
	RateLimit float64
}

// Resolver fetches workshop pages and parses them.
type Resolver struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewResolver builds a resolver. client may be nil.
func NewResolver(cfg Config, client *http.Client, logger *zap.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Resolver{
		client:    client,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return r
}

// Resolve fetches pageURL and extracts its metadata.
func (r *Resolver) Resolve(ctx context.Context, pageURL string) (Metadata, error) {
	contentID, err := ContentIDFromURL(pageURL)
	if err != nil {
		return Metadata{}, err
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return Metadata{}, err
		}
	}

	html, err := r.fetch(ctx, pageURL)
	if err != nil {
		return Metadata{}, err
	}

	meta, err := Parse(html, contentID)
	if err != nil {
		r.logger.Warn("workshop page parse failed", zap.String("url", pageURL), zap.Error(err))
		return Metadata{}, err
	}
	r.logger.Debug("workshop page resolved",
		zap.String("source_ref", meta.SourceRef()),
		zap.String("title", meta.Title),
	)
	return meta, nil
}

func (r *Resolver) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch workshop page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch workshop page: unexpected status %d", resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read workshop page: %w", err)
	}
	return string(b), nil
}
