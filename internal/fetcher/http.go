package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/diligence-cli/internal/config"
	"github.com/sells-group/diligence-cli/internal/resilience"
)

// HTTPFetcher downloads documents over HTTP with per-host rate limiting
// and conditional requests. A 304 reuses the file from a prior fetch.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	etags    map[string]string
}

// NewHTTP builds an HTTP fetcher from config defaults.
func NewHTTP(cfg config.FetchConfig) *HTTPFetcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	agent := cfg.UserAgent
	if agent == "" {
		agent = "diligence-cli/1.0"
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: agent,
		limiters:  map[string]*rate.Limiter{},
		etags:     map[string]string{},
	}
}

func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(5, 5)
		f.limiters[host] = lim
	}
	return lim
}

// Fetch downloads one URL into destDir. The local filename comes from
// the URL path.
func (f *HTTPFetcher) Fetch(ctx context.Context, source, destDir string) ([]string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", source)
	}
	if err := ensureDir(destDir); err != nil {
		return nil, err
	}
	dest := filepath.Join(destDir, safeFilename(u.Path))

	if err := f.limiterFor(u.Host).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limit wait")
	}

	path, err := resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) (string, error) {
		return f.download(ctx, source, dest)
	})
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

func (f *HTTPFetcher) download(ctx context.Context, source, dest string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)

	f.mu.Lock()
	etag := f.etags[source]
	f.mu.Unlock()
	if etag != "" {
		if _, statErr := os.Stat(dest); statErr == nil {
			req.Header.Set("If-None-Match", etag)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		zap.L().Debug("fetcher: not modified", zap.String("url", source))
		return dest, nil
	case resp.StatusCode == http.StatusOK:
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return "", resilience.NewTransientError(
			eris.Errorf("fetcher: http %d from %s", resp.StatusCode, source), resp.StatusCode)
	default:
		return "", eris.Errorf("fetcher: http %d from %s", resp.StatusCode, source)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: create %s", tmp)
	}
	n, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmp)
		return "", resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), 0)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return "", eris.Wrapf(closeErr, "fetcher: close %s", tmp)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", eris.Wrapf(err, "fetcher: rename %s", dest)
	}

	if tag := resp.Header.Get("ETag"); tag != "" {
		f.mu.Lock()
		f.etags[source] = tag
		f.mu.Unlock()
	}

	zap.L().Info("fetcher: downloaded",
		zap.String("url", source),
		zap.String("dest", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}
