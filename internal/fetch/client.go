package fetch

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/voicecal/internal/clock"
)

const (
	recreateAfterErrors = 3
	recreateAfterStale  = 5 * time.Minute
)

// Client owns the HTTP transports shared by all calendar fetches and
// replaces them when the connection pool looks wedged: after three
// consecutive transport errors, or when failures keep arriving five
// minutes past the last good response.
type Client struct {
	log zerolog.Logger
	clk clock.Clock

	mu          sync.Mutex
	hc          *http.Client
	hcInsecure  *http.Client
	consecutive int
	lastGood    time.Time
	lastSuccess time.Time
	recreations int
}

// ClientHealth is a point-in-time view of the transport state.
type ClientHealth struct {
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastSuccess       time.Time `json:"last_success,omitzero"`
	Recreations       int       `json:"recreations"`
}

func NewClient(clk clock.Clock, log zerolog.Logger) *Client {
	return &Client{
		log:      log,
		clk:      clk,
		hc:       newHTTPClient(false),
		lastGood: clk.Now(),
	}
}

func newHTTPClient(insecure bool) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		// IPv4 only: dual-stack dials stall for minutes against hosts
		// that publish AAAA records without a working IPv6 route.
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp4", addr)
		},
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: tr}
}

// Do executes the request on the shared client, swapping in a fresh
// transport first when the current one has gone stale. Only transport
// errors count against the client; HTTP error statuses do not.
func (c *Client) Do(req *http.Request, insecureTLS bool) (*http.Response, error) {
	hc := c.acquire(insecureTLS)
	resp, err := hc.Do(req)
	c.observe(err)
	return resp, err
}

func (c *Client) acquire(insecure bool) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.needsRecreate() {
		c.recreate()
	}
	if insecure {
		if c.hcInsecure == nil {
			c.hcInsecure = newHTTPClient(true)
		}
		return c.hcInsecure
	}
	return c.hc
}

func (c *Client) needsRecreate() bool {
	if c.consecutive >= recreateAfterErrors {
		return true
	}
	return c.consecutive > 0 && c.clk.Since(c.lastGood) > recreateAfterStale
}

func (c *Client) recreate() {
	c.hc.CloseIdleConnections()
	if c.hcInsecure != nil {
		c.hcInsecure.CloseIdleConnections()
	}
	c.hc = newHTTPClient(false)
	c.hcInsecure = nil
	c.consecutive = 0
	c.lastGood = c.clk.Now()
	c.recreations++
	c.log.Warn().Int("recreations", c.recreations).Msg("recreated http client")
}

func (c *Client) observe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.consecutive++
		return
	}
	c.consecutive = 0
	c.lastGood = c.clk.Now()
	c.lastSuccess = c.lastGood
}

func (c *Client) Health() ClientHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientHealth{
		ConsecutiveErrors: c.consecutive,
		LastSuccess:       c.lastSuccess,
		Recreations:       c.recreations,
	}
}

// Close releases idle connections held by the transports.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hc.CloseIdleConnections()
	if c.hcInsecure != nil {
		c.hcInsecure.CloseIdleConnections()
	}
}
