// Package fetch downloads ICS feeds from the configured calendar
// sources. Each refresh round fans out across sources with bounded
// parallelism, retries transient failures with exponential backoff,
// and uses conditional requests so unchanged feeds cost a 304.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sonroyaalmerol/voicecal/internal/clock"
	"github.com/sonroyaalmerol/voicecal/internal/config"
	"github.com/sonroyaalmerol/voicecal/internal/health"
)

const maxBodyBytes = 50 << 20

// Response is the outcome of one successful source fetch. NotModified
// means the server answered 304 and Body holds the previously cached
// payload.
type Response struct {
	Body         []byte
	Status       int
	ETag         string
	LastModified string
	NotModified  bool
	FetchedAt    time.Time
}

// Result pairs a source with its fetch outcome. Err is nil on success.
type Result struct {
	Source   config.Source
	Response *Response
	Err      error
}

type hint struct {
	etag         string
	lastModified string
	body         []byte
}

// Orchestrator coordinates fetch rounds. It remembers validators and
// bodies per source between rounds to serve conditional requests.
type Orchestrator struct {
	cfg    config.FetchConfig
	client *Client
	health *health.Tracker
	clk    clock.Clock
	log    zerolog.Logger

	mu    sync.Mutex
	hints map[string]hint

	// initialBackoff is the first retry delay. Tests shrink it.
	initialBackoff time.Duration
}

func NewOrchestrator(cfg config.FetchConfig, client *Client, tracker *health.Tracker, clk clock.Clock, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:            cfg,
		client:         client,
		health:         tracker,
		clk:            clk,
		log:            log,
		hints:          make(map[string]hint),
		initialBackoff: time.Second,
	}
}

// FetchAll fetches every source with bounded parallelism under the
// round deadline. The returned slice is index-aligned with sources;
// failures are reported per Result rather than aborting the round.
func (o *Orchestrator) FetchAll(ctx context.Context, sources []config.Source) []Result {
	if o.cfg.GlobalDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.GlobalDeadline)
		defer cancel()
	}

	results := make([]Result, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			start := o.clk.Now()
			resp, err := o.fetchOne(gctx, src)
			results[i] = Result{Source: src, Response: resp, Err: err}
			if err != nil {
				o.log.Warn().Err(err).Str("source", src.ID).Msg("source fetch failed")
				return nil
			}
			o.log.Debug().
				Str("source", src.ID).
				Bool("not_modified", resp.NotModified).
				Int("bytes", len(resp.Body)).
				Float64("duration_ms", float64(o.clk.Since(start).Microseconds())/1000.0).
				Msg("source fetched")
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) fetchOne(ctx context.Context, src config.Source) (*Response, error) {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = o.cfg.RequestTimeout
	}

	var resp *Response
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		r, err := o.request(attemptCtx, src)
		if err != nil {
			o.health.RecordFetch(src.ID, outcomeFor(err))
			var fe *Error
			if errors.As(err, &fe) && !fe.Temporary() {
				return backoff.Permanent(err)
			}
			return err
		}
		if r.NotModified {
			o.health.RecordFetch(src.ID, "not_modified")
		} else {
			o.health.RecordFetch(src.ID, "success")
		}
		resp = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.initialBackoff
	bo.Multiplier = o.cfg.BackoffFactor
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.cfg.MaxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (o *Orchestrator) request(ctx context.Context, src config.Source) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Source: src.ID, Err: err}
	}
	req.Header.Set("User-Agent", "voicecal/1.0")
	req.Header.Set("Accept", "text/calendar")
	switch src.Auth.Kind {
	case "basic":
		req.SetBasicAuth(src.Auth.Username, src.Auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+src.Auth.Token)
	}
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}
	h := o.hint(src.ID)
	if h.etag != "" {
		req.Header.Set("If-None-Match", h.etag)
	}
	if h.lastModified != "" {
		req.Header.Set("If-Modified-Since", h.lastModified)
	}

	resp, err := o.client.Do(req, src.InsecureSkipVerify)
	if err != nil {
		return nil, &Error{Kind: classify(err), Source: src.ID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if len(h.body) == 0 {
			// 304 without a cached body: drop the hint so the next
			// attempt refetches unconditionally.
			o.forget(src.ID)
			return nil, &Error{Kind: KindHTTP, Source: src.ID, Status: resp.StatusCode}
		}
		return &Response{
			Body:         h.body,
			Status:       resp.StatusCode,
			ETag:         h.etag,
			LastModified: h.lastModified,
			NotModified:  true,
			FetchedAt:    o.clk.Now(),
		}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		o.log.Warn().
			Str("class", "SECURITY").
			Str("source", src.ID).
			Int("status", resp.StatusCode).
			Msg("calendar source rejected credentials")
		return nil, &Error{Kind: KindAuth, Source: src.ID, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{Kind: KindHTTP, Source: src.ID, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Source: src.ID, Err: err}
	}
	if len(body) > maxBodyBytes {
		return nil, &Error{Kind: KindHTTP, Source: src.ID, Err: fmt.Errorf("response exceeds %d bytes", maxBodyBytes)}
	}

	r := &Response{
		Body:         body,
		Status:       resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FetchedAt:    o.clk.Now(),
	}
	o.remember(src.ID, r)
	return r, nil
}

func (o *Orchestrator) hint(id string) hint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hints[id]
}

func (o *Orchestrator) remember(id string, r *Response) {
	if r.ETag == "" && r.LastModified == "" {
		o.forget(id)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hints[id] = hint{etag: r.ETag, lastModified: r.LastModified, body: r.Body}
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.hints, id)
}

func classify(err error) Kind {
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &nerr) && nerr.Timeout():
		return KindTimeout
	default:
		return KindNetwork
	}
}

func outcomeFor(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return string(KindNetwork)
}
