package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

// Prober derives a connectivity signal by polling a health endpoint of the
// sync server
type Prober struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	retries    uint64
	logger     *loggy.Logger
}

// NewProber creates a prober for url. Each probe gives up after timeout.
func NewProber(url string, interval, timeout time.Duration, logger *loggy.Logger) *Prober {
	return &Prober{
		url:        url,
		interval:   interval,
		httpClient: &http.Client{Timeout: timeout},
		retries:    2,
		logger:     logger,
	}
}

// Probe reports whether the server answered. Any HTTP response counts as
// reachable; server errors are retried briefly before giving up so a single
// dropped packet does not flip the state.
func (p *Prober) Probe(ctx context.Context) bool {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating probe request: %w", err))
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("probe returned %s", resp.Status)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = time.Second

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, p.retries), ctx))
	if err != nil {
		p.logger.Debug("Probe failed", "url", p.url, "error", err)
		return false
	}
	return true
}

// Run probes immediately and then every interval, sending each result on the
// returned channel. The channel is closed when ctx is done.
func (p *Prober) Run(ctx context.Context) <-chan bool {
	out := make(chan bool, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case out <- p.Probe(ctx):
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
