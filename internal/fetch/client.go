// Package fetch retrieves collection metadata from remote sources.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/neomarket/rarity-engine/internal/circuitbreaker"
	"github.com/neomarket/rarity-engine/internal/model"
	tracing "github.com/neomarket/rarity-engine/internal/otel"
	"github.com/neomarket/rarity-engine/internal/validation"
)

// ErrNotFound is returned when the source answers 404
var ErrNotFound = errors.New("metadata not found")

// ErrBodyTooLarge is returned when a response exceeds Options.MaxBodyBytes
var ErrBodyTooLarge = errors.New("metadata response too large")

// Options configures a MetadataClient
type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RequestsPerSecond caps outgoing requests, 0 disables the limit
	RequestsPerSecond float64
	Burst             int

	// MaxBodyBytes bounds a single response body
	MaxBodyBytes int64

	// Concurrency bounds parallel requests in FetchTokens
	Concurrency int

	// MaxItems bounds the items accepted from one collection document, 0 means unlimited
	MaxItems int

	// Breaker short-circuits hosts that keep failing, nil disables it
	Breaker *circuitbreaker.CircuitBreaker
}

// DefaultOptions returns sensible defaults for fetching metadata
func DefaultOptions() Options {
	return Options{
		Timeout:           30 * time.Second,
		RetryMax:          3,
		RetryWaitMin:      500 * time.Millisecond,
		RetryWaitMax:      3 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
		MaxBodyBytes:      64 << 20,
		Concurrency:       8,
	}
}

// MetadataClient downloads collection and token metadata documents
type MetadataClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	opts       Options
}

// NewMetadataClient creates a client with retries and rate limiting
func NewMetadataClient(opts Options) *MetadataClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil

	httpClient := retryClient.StandardClient()
	httpClient.Timeout = opts.Timeout

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(opts.Burst, 1))
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	return &MetadataClient{
		httpClient: httpClient,
		limiter:    limiter,
		opts:       opts,
	}
}

// FetchCollection downloads a collection document and parses its items
func (c *MetadataClient) FetchCollection(ctx context.Context, metadataURL string) ([]model.Item, error) {
	ctx, span := tracing.Tracer().Start(ctx, "fetch.collection")
	span.SetAttributes(attribute.String("metadata.url", metadataURL))
	defer span.End()

	body, err := c.get(ctx, metadataURL)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	opts := validation.DefaultParseOptions()
	opts.MaxItems = c.opts.MaxItems
	items, err := validation.ParseItemsConcurrently(body, opts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error parsing collection from %s: %w", metadataURL, err)
	}

	logrus.WithFields(logrus.Fields{
		"url":   metadataURL,
		"items": len(items),
		"bytes": len(body),
	}).Info("Fetched collection metadata")
	return items, nil
}

// FetchTokens downloads one metadata document per token id. baseURL may contain
// an "{id}" placeholder; otherwise the id is appended as a path segment.
// Tokens the source does not know are skipped. Result order follows ids.
func (c *MetadataClient) FetchTokens(ctx context.Context, baseURL string, ids []string) ([]model.Item, error) {
	ctx, span := tracing.Tracer().Start(ctx, "fetch.tokens")
	span.SetAttributes(
		attribute.String("metadata.url", baseURL),
		attribute.Int("metadata.tokens", len(ids)),
	)
	defer span.End()

	fetched := make([]*model.Item, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			body, err := c.get(ctx, TokenURL(baseURL, id))
			if errors.Is(err, ErrNotFound) {
				logrus.WithField("token", id).Warn("Token metadata not found, skipping")
				return nil
			}
			if err != nil {
				return err
			}

			item, err := validation.ParseItem(body, id)
			if err != nil {
				return fmt.Errorf("error parsing token %s: %w", id, err)
			}
			fetched[i] = &item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	items := make([]model.Item, 0, len(ids))
	for _, item := range fetched {
		if item != nil {
			items = append(items, *item)
		}
	}
	logrus.Debugf("Fetched %d of %d token documents from %s", len(items), len(ids), baseURL)
	return items, nil
}

// TokenURL builds the metadata URL of one token
func TokenURL(baseURL, id string) string {
	if strings.Contains(baseURL, "{id}") {
		return strings.ReplaceAll(baseURL, "{id}", id)
	}
	return strings.TrimRight(baseURL, "/") + "/" + id
}

// sourceKey returns the host a circuit is kept for
func sourceKey(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}

// get performs a rate limited GET and returns the body of a 200 response.
// Transport errors and 5xx answers count against the host's circuit; other
// answers mean the host is healthy.
func (c *MetadataClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	source := sourceKey(rawURL)
	if c.opts.Breaker != nil {
		if err := c.opts.Breaker.Allow(source); err != nil {
			return nil, err
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	logrus.Debugf("Fetching metadata: %s", rawURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.recordFailure(source, err)
		}
		return nil, fmt.Errorf("error fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		err := fmt.Errorf("metadata source error: status %d", resp.StatusCode)
		c.recordFailure(source, err)
		return nil, err
	case resp.StatusCode == http.StatusNotFound:
		c.recordSuccess(source)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode != http.StatusOK:
		c.recordSuccess(source)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("metadata source error: status %d, body: %s", resp.StatusCode, string(body))
	}
	c.recordSuccess(source)

	reader := io.Reader(resp.Body)
	if c.opts.MaxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if c.opts.MaxBodyBytes > 0 && int64(len(body)) > c.opts.MaxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrBodyTooLarge, c.opts.MaxBodyBytes, rawURL)
	}
	return body, nil
}

func (c *MetadataClient) recordSuccess(source string) {
	if c.opts.Breaker != nil {
		c.opts.Breaker.RecordSuccess(source)
	}
}

func (c *MetadataClient) recordFailure(source string, err error) {
	if c.opts.Breaker != nil {
		c.opts.Breaker.RecordFailure(source, err)
	}
}
