package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/depthsync/depthsync/internal/feed"
)

// DepthPollerConfig holds tunable parameters for the REST depth poller.
type DepthPollerConfig struct {
	BaseURL string
	Symbols []string

	// Limit is the number of levels requested per side.
	Limit int

	// PollSleep is the pause between full polling cycles.
	PollSleep time.Duration

	// RetryWait is the fallback pause after a rate-limit response that
	// carries no Retry-After header.
	RetryWait time.Duration
}

// DepthPoller periodically fetches deep depth snapshots over REST and
// enqueues them as snapshot envelopes. Snapshots anchor the book against
// drift accumulated by the truncated stream restatements.
type DepthPoller struct {
	cfg    DepthPollerConfig
	client *http.Client
	out    feed.Enqueuer
	log    zerolog.Logger
}

// NewDepthPoller creates a DepthPoller. A nil client defaults to one with a
// 10s request timeout.
func NewDepthPoller(cfg DepthPollerConfig, client *http.Client, out feed.Enqueuer, log zerolog.Logger) *DepthPoller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 500
	}
	return &DepthPoller{
		cfg:    cfg,
		client: client,
		out:    out,
		log:    log.With().Str("component", "depth-poller").Str("exchange", "binance").Logger(),
	}
}

// Run polls every configured symbol in round-robin until ctx is cancelled.
// Rate-limit responses (403/418/429) back the whole poller off, honoring
// Retry-After when present.
func (p *DepthPoller) Run(ctx context.Context) error {
	for {
		for _, symbol := range p.cfg.Symbols {
			wait, err := p.poll(ctx, symbol)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.log.Warn().Err(err).Str("symbol", symbol).Msg("depth poll failed")
			}
			if wait > 0 {
				p.log.Warn().Dur("wait", wait).Msg("rate limited, backing off")
				if !sleep(ctx, wait) {
					return nil
				}
			}
		}
		if !sleep(ctx, p.cfg.PollSleep) {
			return nil
		}
	}
}

// poll fetches one symbol's depth. The returned duration is non-zero when
// the venue asked us to back off.
func (p *DepthPoller) poll(ctx context.Context, symbol string) (time.Duration, error) {
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", p.cfg.BaseURL, symbol, p.cfg.Limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests, 418:
		// 418 is Binance's auto-ban status for repeat offenders.
		return retryAfter(resp, p.cfg.RetryWait), fmt.Errorf("depth request rejected: %s", resp.Status)
	default:
		return 0, fmt.Errorf("depth request failed: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	var d rawDepth
	if err := json.Unmarshal(body, &d); err != nil {
		return 0, err
	}

	p.out.Enqueue(&feed.Envelope{
		Exchange:  feed.ExchangeBinance,
		Symbol:    symbol,
		Kind:      feed.KindOrderBook,
		Action:    feed.ActionSnapshot,
		Sequence:  d.LastUpdateID,
		Timestamp: time.Now().UnixMilli(),
		Book: &feed.BookPayload{
			Asks: parseLevels(d.Asks),
			Bids: parseLevels(d.Bids),
		},
	})
	return 0, nil
}

// retryAfter reads the Retry-After header, falling back to def.
func retryAfter(resp *http.Response, def time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
