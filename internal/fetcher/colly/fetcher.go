// Package collyfetcher performs the archiver's HTTP GETs and file downloads
// using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archiver"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Limiter paces requests per host; nil means unlimited.
	Limiter Waiter
	Logger  *zap.Logger
}

// Waiter blocks until a request to url may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Putter persists downloaded bodies.
type Putter interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Response is a completed GET.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// IsNotFound reports whether err carries a 404 status.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Fetcher issues GETs through a shared Colly backend.
type Fetcher struct {
	cfg           Config
	store         Putter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

var _ archiver.Downloader = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. store receives Download bodies and may be nil when
// only Get is used.
func New(cfg Config, store Putter) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
	)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(timeout)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, store: store, logger: logger, baseCollector: c}
}

// Get fetches url and returns the body. Non-success statuses surface as
// *StatusError.
func (f *Fetcher) Get(ctx context.Context, url string) (Response, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, url); err != nil {
			return Response{}, err
		}
	}
	var (
		result   Response
		status   int
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &result, &status, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		// The collector may still be running after cancellation.
		if ctx.Err() != nil {
			return Response{}, err
		}
		if status > 0 {
			return Response{}, &StatusError{URL: url, StatusCode: status}
		}
		return Response{}, err
	}
	return result, nil
}

// Download fetches url and stores the body at path under the archive root.
func (f *Fetcher) Download(ctx context.Context, url string, path string) error {
	if f.store == nil {
		return fmt.Errorf("download %s: no store configured", url)
	}
	resp, err := f.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("%w: %w", archiver.ErrDownloadFailed, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if _, err := f.store.PutObject(ctx, path, contentType, bytes.NewReader(resp.Body)); err != nil {
		return fmt.Errorf("%w: store %s: %w", archiver.ErrDownloadFailed, path, err)
	}
	f.logger.Debug("downloaded file",
		zap.String("url", url),
		zap.String("path", path),
		zap.Int("bytes", len(resp.Body)))
	return nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	result *Response,
	status *int,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "*/*")
	})

	hooks.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		*status = r.StatusCode
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
