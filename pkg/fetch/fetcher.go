package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/lj-archiver/pkg/config"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// maxPageBytes bounds a single journal page body held in memory
const maxPageBytes = 32 << 20

// Fetcher makes HTTP requests with the configured retry policy
type Fetcher struct {
	client *http.Client
	cfg    *config.AppConfig // retry settings and user agent
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// retryDelay returns the backoff before the given attempt: initial * 2^(attempt-1),
// capped by max, with +/- 10% jitter.
func (f *Fetcher) retryDelay(attempt int) time.Duration {
	backoff := float64(f.cfg.InitialRetryDelay) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay <= 0 || (f.cfg.MaxRetryDelay > 0 && delay > f.cfg.MaxRetryDelay) {
		delay = f.cfg.MaxRetryDelay
	}
	if delay/5 > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/5)) - delay/10
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// drain discards and closes a response body so the connection can be reused
func drain(resp *http.Response) {
	if resp == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// FetchWithRetry performs an HTTP request, retrying network errors and 5xx
// responses with exponential backoff. A returned non-nil response always has a
// 2xx status and its body must be closed by the caller.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	reqLog := f.log.WithField("url", req.URL.String())
	maxRetries := f.cfg.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := f.retryDelay(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).Warn("Retrying request...")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		} else if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled before first attempt: %w", err)
		}

		resp, err := f.client.Do(req.WithContext(ctx))
		if err != nil {
			drain(resp)
			// Context errors are never retried
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				reqLog.Debugf("Context cancelled/timed out during HTTP request: %v", err)
				return nil, err
			}
			reqLog.WithField("attempt", attempt).Warnf("Network error: %v", err)
			lastErr = err
			continue
		}

		statusCode := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})
		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return resp, nil
		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, http.StatusText(statusCode))
			drain(resp)
			continue
		case statusCode >= 400:
			drain(resp)
			resLog.Debug("Client error (4xx), not retrying")
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, http.StatusText(statusCode))
		default:
			drain(resp)
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, http.StatusText(statusCode))
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr == nil {
		return nil, utils.ErrRetryFailed
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

func (f *Fetcher) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrRequestCreation, rawURL, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	return req, nil
}

// Fetch retrieves rawURL and returns the whole response body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := f.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := f.FetchWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrResponseBodyRead, rawURL, err)
	}
	if len(body) > maxPageBytes {
		return nil, fmt.Errorf("%w: page %s larger than %d bytes", utils.ErrResponseBodyRead, rawURL, maxPageBytes)
	}
	return body, nil
}

// Download streams rawURL into dest, writing through a temporary file in the same
// directory that is renamed into place only on success. maxBytes <= 0 means unlimited.
// Returns the number of bytes written.
func (f *Fetcher) Download(ctx context.Context, rawURL, dest string, maxBytes int64) (written int64, err error) {
	req, err := f.newRequest(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	resp, err := f.FetchWithRetry(ctx, req)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	if maxBytes > 0 {
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if size, perr := strconv.ParseInt(cl, 10, 64); perr == nil && size > maxBytes {
				return 0, fmt.Errorf("%w: %s declares %d bytes (limit %d)", utils.ErrAssetTooLarge, rawURL, size, maxBytes)
			}
		}
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("%w: creating directory %s: %w", utils.ErrFilesystem, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, fmt.Errorf("%w: creating temp file in %s: %w", utils.ErrFilesystem, dir, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	var reader io.Reader = resp.Body
	if maxBytes > 0 {
		// One extra byte distinguishes "exactly at limit" from "over limit"
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	written, err = io.Copy(tmp, reader)
	if err != nil {
		return written, fmt.Errorf("%w: copying %s (copied %d bytes): %w", utils.ErrResponseBodyRead, rawURL, written, err)
	}
	if maxBytes > 0 && written > maxBytes {
		err = fmt.Errorf("%w: %s exceeded %d bytes", utils.ErrAssetTooLarge, rawURL, maxBytes)
		return 0, err
	}
	if err = tmp.Close(); err != nil {
		return written, fmt.Errorf("%w: closing %s: %w", utils.ErrFilesystem, tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return written, fmt.Errorf("%w: moving download to %s: %w", utils.ErrFilesystem, dest, err)
	}
	return written, nil
}
