// Package fetch performs blocking HTTP GETs with fixed phase timeouts and a
// capped body. Callers run it on pool goroutines.
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/tunez/coverart/internal/metrics"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultSendTimeout          = 10 * time.Second
	DefaultReceiveHeaderTimeout = 15 * time.Second
	DefaultReceiveTimeout       = 30 * time.Second
	DefaultMaxBodyBytes         = 20 << 20
	DefaultUserAgent            = "coverart/1.0"

	chunkSize = 8 << 10
)

// Outcome describes how much of the body was received.
type Outcome int

const (
	Complete Outcome = iota
	// Truncated bodies are usable but partial; Result.Err says why.
	Truncated
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case Truncated:
		return "truncated"
	}
	return "unknown"
}

// Result is a received response.
type Result struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
	Outcome     Outcome
	Err         error
}

// Text decodes the body to UTF-8 using the charset in the Content-Type
// header, falling back to UTF-8 with invalid sequences replaced.
func (r Result) Text() string {
	if _, params, err := mime.ParseMediaType(r.ContentType); err == nil {
		if cs := params["charset"]; cs != "" && !strings.EqualFold(cs, "utf-8") {
			if enc, err := htmlindex.Get(cs); err == nil {
				if out, err := enc.NewDecoder().Bytes(r.Body); err == nil {
					return string(out)
				}
			}
		}
	}
	return strings.ToValidUTF8(string(r.Body), "\uFFFD")
}

func (r Result) clone() Result {
	r.Body = bytes.Clone(r.Body)
	return r
}

// Options configures a Client.
type Options struct {
	ConnectTimeout       time.Duration
	SendTimeout          time.Duration
	ReceiveHeaderTimeout time.Duration
	// ReceiveTimeout bounds the whole exchange including the body.
	ReceiveTimeout time.Duration
	MaxBodyBytes   int64
	UserAgent      string
	Logger         *slog.Logger
	Metrics        metrics.Metrics
}

// Client is safe for concurrent use.
type Client struct {
	opts      Options
	metrics   metrics.Metrics
	http      *http.Client
	transport *http.Transport
	group     singleflight.Group
	closed    atomic.Bool
}

// New builds a client. Zero options take the package defaults.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.ReceiveHeaderTimeout <= 0 {
		opts.ReceiveHeaderTimeout = DefaultReceiveHeaderTimeout
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   opts.SendTimeout,
		ResponseHeaderTimeout: opts.ReceiveHeaderTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		opts:      opts,
		metrics:   metrics.OrNop(opts.Metrics),
		transport: transport,
		http:      &http.Client{Transport: transport, Timeout: opts.ReceiveTimeout},
	}
}

// Get fetches rawURL. A nil error means a 2xx/3xx response whose body may
// still be Truncated. Identical concurrent requests share one round-trip;
// every caller receives its own copy of the result.
func (c *Client) Get(ctx context.Context, rawURL string) (Result, error) {
	if c.closed.Load() {
		return Result{URL: rawURL}, ErrSession
	}
	u, err := parseURL(rawURL)
	if err != nil {
		return Result{URL: rawURL}, err
	}
	v, err, shared := c.group.Do(u.String(), func() (any, error) {
		return c.do(ctx, u)
	})
	res, _ := v.(Result)
	if shared {
		res = res.clone()
	}
	return res, err
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrURL, rawURL)
	}
	return u, nil
}

// phase tracks how far a request got so a transport error can be attributed.
type phase struct {
	connected atomic.Bool
	sent      atomic.Bool
}

func (c *Client) do(ctx context.Context, u *url.URL) (Result, error) {
	id := uuid.NewString()
	res := Result{URL: u.String()}
	start := time.Now()
	log := c.opts.Logger.With(slog.String("request", id), slog.String("url", res.URL))

	var ph phase
	trace := &httptrace.ClientTrace{
		GotConn:      func(httptrace.GotConnInfo) { ph.connected.Store(true) },
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				ph.sent.Store(true)
			}
		},
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, res.URL, nil)
	if err != nil {
		return c.finish(log, res, start, fmt.Errorf("%w: %w", ErrRequest, err))
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return c.finish(log, res, start, classify(&ph, err))
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	res.ContentType = resp.Header.Get("Content-Type")
	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, chunkSize))
		return c.finish(log, res, start, &StatusError{URL: res.URL, Status: resp.StatusCode})
	}

	res.Body, res.Err = c.readBody(resp.Body)
	if res.Err != nil {
		res.Outcome = Truncated
	}
	return c.finish(log, res, start, nil)
}

// readBody accumulates at most MaxBodyBytes. A non-nil error means the body
// is partial.
func (c *Client) readBody(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, chunkSize)
	limit := c.opts.MaxBodyBytes
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if room := limit - int64(buf.Len()); int64(n) > room {
				buf.Write(chunk[:room])
				return buf.Bytes(), fmt.Errorf("%w: %s", ErrBodyTooLarge, humanize.IBytes(uint64(limit)))
			}
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), fmt.Errorf("%w: %w", ErrReceive, err)
		}
	}
}

func classify(ph *phase, err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	switch {
	case ph.sent.Load():
		return fmt.Errorf("%w: %w", ErrReceive, err)
	case ph.connected.Load():
		return fmt.Errorf("%w: %w", ErrSend, err)
	default:
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
}

func (c *Client) finish(log *slog.Logger, res Result, start time.Time, err error) (Result, error) {
	elapsed := time.Since(start)
	outcome := res.Outcome.String()
	if err != nil {
		outcome = "error"
		log.Debug("http get failed", slog.Duration("elapsed", elapsed), slog.Any("err", err))
	} else {
		log.Debug("http get",
			slog.Int("status", res.Status),
			slog.String("outcome", outcome),
			slog.String("size", humanize.IBytes(uint64(len(res.Body)))),
			slog.Duration("elapsed", elapsed))
	}
	c.metrics.HTTPDone(outcome, elapsed, len(res.Body))
	return res, err
}

// Close makes further Gets fail with ErrSession and drops idle connections.
func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.transport.CloseIdleConnections()
	}
}
