// Package api is a typed client for the clinic backend REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"klinika-scheduler/internal/logger"
	"klinika-scheduler/internal/metrics"
	"klinika-scheduler/internal/session"
)

type Options struct {
	BaseURL string
	Timeout time.Duration
	// RPS and Burst pace outgoing calls, zero RPS disables pacing
	RPS        float64
	Burst      int
	HTTPClient *http.Client
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
}

type Client struct {
	base    string
	http    *http.Client
	sess    *session.Session
	lim     *rate.Limiter
	log     *logrus.Entry
	metrics *metrics.Metrics
}

func New(sess *session.Session, o Options) (*Client, error) {
	u, err := url.Parse(o.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("bad base url %q", o.BaseURL)
	}
	hc := o.HTTPClient
	if hc == nil {
		timeout := o.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := o.Logger
	if log == nil {
		log = logger.Discard()
	}
	c := &Client{
		base:    strings.TrimRight(o.BaseURL, "/"),
		http:    hc,
		sess:    sess,
		log:     log.WithComponent("api"),
		metrics: o.Metrics,
	}
	if o.RPS > 0 {
		burst := o.Burst
		if burst < 1 {
			burst = 1
		}
		c.lim = rate.NewLimiter(rate.Limit(o.RPS), burst)
	}
	return c, nil
}

// call describes one request. endpoint is the path template used for logs
// and metrics, path the concrete path.
type call struct {
	method   string
	endpoint string
	path     string
	query    url.Values
	body     any
	// public calls send the token when there is one but do not need it
	public bool
	// anon calls never carry the session token
	anon bool
	// bearer is a caller's own token, used instead of the session's
	bearer string
}

func (c *Client) do(ctx context.Context, r call, out any) error {
	tok := r.bearer
	fromSession := false
	if tok == "" && !r.anon {
		if t, err := c.sess.Token(); err == nil {
			tok, fromSession = t, true
		} else if !r.public {
			return fmt.Errorf("%s: %w", r.endpoint, err)
		}
	}

	if c.lim != nil {
		if err := c.lim.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", r.endpoint, err)
		}
		body = bytes.NewReader(b)
	}

	u := c.base + "/" + strings.TrimLeft(r.path, "/")
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return err
	}
	reqID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(r.endpoint, 0, time.Since(start))
		return fmt.Errorf("%s: %w", r.endpoint, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(r.endpoint, resp.StatusCode, time.Since(start))

	log := c.log.WithFields(logrus.Fields{
		"request_id": reqID,
		"endpoint":   r.endpoint,
		"status":     resp.StatusCode,
		"duration":   time.Since(start).Milliseconds(),
	})

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", r.endpoint, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && fromSession {
		log.Warn("token rejected, clearing session")
		if err := c.sess.Invalidate(ctx); err != nil {
			log.WithError(err).Error("clear token")
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug("backend error")
		return &Error{StatusCode: resp.StatusCode, Endpoint: r.endpoint, Message: errorMessage(data)}
	}
	log.Debug("backend call")

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode: %w", r.endpoint, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, out any) error {
	return c.do(ctx, call{method: http.MethodGet, endpoint: endpoint, path: path}, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, path string, in, out any) error {
	return c.do(ctx, call{method: method, endpoint: endpoint, path: path, body: in}, out)
}

func esc(s string) string { return url.PathEscape(s) }

var errEmptyID = errors.New("empty id")
