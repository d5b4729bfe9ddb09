package mgmt

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/f5-conx-go/auth"
	"github.com/ggoodman/f5-conx-go/hooks"
	"github.com/ggoodman/f5-conx-go/internal/logctx"
	"github.com/google/uuid"
)

// Doer executes a single authenticated device request. *Client satisfies it;
// the transfer and jobs packages depend only on this interface.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

var _ Doer = (*Client)(nil)

// Config configures a Client.
type Config struct {
	// Host is a hostname or address, optionally with a port or scheme.
	Host string
	// Port is used when Host carries none. Defaults to 443.
	Port int

	User     string
	Password string
	// Provider is the login provider name. Defaults to "tmos".
	Provider string

	Policy Policy

	// HTTPClient overrides the transport built from Policy.
	HTTPClient *http.Client

	// Events receives request lifecycle notifications. Optional.
	Events hooks.Events

	// LogHandler is an optional slog.Handler. If nil, logging is discarded.
	LogHandler slog.Handler
}

// Client is the request executor for one device. Every call goes through
// Do, which attaches the session token, tags the call with a correlation
// ID, and reports it to the configured hooks.
type Client struct {
	base    *url.URL
	host    string
	user    string
	http    *http.Client
	session *auth.Session
	events  hooks.Events
	log     *slog.Logger
	policy  Policy
}

// NewClient builds a Client. No network traffic happens until the first call.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("host is required")
	}
	base, err := baseURL(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	policy := cfg.Policy.withDefaults()

	hc := cfg.HTTPClient
	if hc == nil {
		hc = newHTTPClient(policy)
	}
	events := cfg.Events
	if events == nil {
		events = hooks.Nop{}
	}
	log := logctx.NewLogger(cfg.LogHandler).With(slog.String("host", base.Host))

	sess, err := auth.NewSession(auth.Config{
		BaseURL: base.String(),
		Credentials: auth.Credentials{
			Host:     base.Hostname(),
			Port:     portOf(base),
			User:     cfg.User,
			Password: cfg.Password,
			Provider: cfg.Provider,
		},
		Client:       hc,
		Threshold:    policy.TokenThreshold,
		TickInterval: policy.TickInterval,
		Events:       events,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		base:    base,
		host:    base.Hostname(),
		user:    cfg.User,
		http:    hc,
		session: sess,
		events:  events,
		log:     log,
		policy:  policy,
	}, nil
}

func newHTTPClient(p Policy) *http.Client {
	dialer := &net.Dialer{Timeout: p.TCPTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: p.TCPTimeout,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !p.RejectUnauthorized,
			},
			MaxIdleConnsPerHost: 4,
		},
	}
}

func baseURL(host string, port int) (*url.URL, error) {
	raw := host
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", host, err)
	}
	if u.Port() == "" && port != 0 && port != 443 {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	u.Path = ""
	u.RawQuery = ""
	return u, nil
}

func portOf(u *url.URL) int {
	if p, err := strconv.Atoi(u.Port()); err == nil {
		return p
	}
	if u.Scheme == "http" {
		return 80
	}
	return 443
}

// Host returns the device hostname.
func (c *Client) Host() string { return c.host }

// BaseURL returns the device management URL.
func (c *Client) BaseURL() string { return c.base.String() }

// Session returns the token session shared by every call of this client.
func (c *Client) Session() *auth.Session { return c.session }

// Policy returns the effective policy.
func (c *Client) Policy() Policy { return c.policy }

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger { return c.log }

// WithDevice decorates ctx for logging with the device this client targets.
func (c *Client) WithDevice(ctx context.Context) context.Context {
	return logctx.WithDeviceData(ctx, &logctx.DeviceData{Host: c.host, User: c.user})
}

// Close discards the token and stops its countdown.
func (c *Client) Close() error { return c.session.Close() }

// Do executes req with the session token attached. It performs exactly one
// HTTP exchange after a token is held: there are no retries. Non-2xx
// responses are returned as *RequestError, missing responses as
// *TransportError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	id := newCorrelationID()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolve(req.URI)
	ctx = logctx.WithRequestData(c.WithDevice(ctx), &logctx.RequestData{ID: id, Method: method, URI: req.URI})

	token, err := c.session.Token(ctx)
	if err != nil {
		c.log.ErrorContext(ctx, "token unavailable", slog.String("err", err.Error()))
		return nil, fmt.Errorf("[%s] %s %s: %w", id, method, target, err)
	}

	body := req.Body
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if body == nil && req.JSON != nil {
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("[%s] failed to encode request body: %w", id, err)
		}
		body = bytes.NewReader(data)
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
	}

	hreq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("[%s] failed to build request: %w", id, err)
	}
	hreq.Header = header
	if req.ContentLength > 0 {
		hreq.ContentLength = req.ContentLength
	}

	c.events.RequestIssued(ctx, hooks.RequestEvent{ID: id, Method: method, URL: target, Header: header.Clone()})
	hreq.Header.Set(TokenHeader, token)
	c.log.DebugContext(ctx, "http.request")

	start := time.Now()
	hresp, err := c.http.Do(hreq)
	if err != nil {
		terr := &TransportError{ID: id, Method: method, URL: target, Err: err}
		c.log.ErrorContext(ctx, "http.transport_error", slog.String("err", err.Error()), slog.Duration("elapsed", time.Since(start)))
		c.events.TransportFailed(ctx, hooks.TransportEvent{ID: id, Method: method, URL: target, Err: err})
		return nil, terr
	}
	defer hresp.Body.Close()

	resp := &Response{
		ID:     id,
		Method: method,
		URL:    target,
		Status: hresp.StatusCode,
		Header: hresp.Header,
	}
	ok := hresp.StatusCode >= 200 && hresp.StatusCode <= 299

	if ok && req.Sink != nil {
		resp.Written, err = io.Copy(req.Sink, hresp.Body)
	} else {
		resp.Body, err = io.ReadAll(hresp.Body)
	}
	resp.Duration = time.Since(start)
	if err != nil {
		terr := &TransportError{ID: id, Method: method, URL: target, Err: fmt.Errorf("reading response body: %w", err)}
		c.log.ErrorContext(ctx, "http.body_error", slog.String("err", err.Error()))
		c.events.TransportFailed(ctx, hooks.TransportEvent{ID: id, Method: method, URL: target, Err: terr.Err})
		return nil, terr
	}

	c.log.DebugContext(ctx, "http.response", slog.Int("status", resp.Status), slog.Duration("elapsed", resp.Duration))
	c.events.ResponseReceived(ctx, hooks.ResponseEvent{
		ID:       id,
		Method:   method,
		URL:      target,
		Status:   resp.Status,
		Header:   resp.Header,
		Duration: resp.Duration,
	})

	if ok {
		return resp, nil
	}

	rerr := &RequestError{
		ID:     id,
		Method: method,
		URL:    target,
		Status: resp.Status,
		Header: resp.Header,
		Body:   resp.Body,
	}
	if rerr.IsAuthFailure() {
		c.session.ReportAuthFailure(ctx, token, hooks.AuthFailedEvent{
			ID:     id,
			Host:   c.host,
			Status: resp.Status,
			Body:   resp.Body,
		})
	} else {
		c.log.WarnContext(ctx, "http.request_failed", slog.Int("status", resp.Status))
	}
	return nil, rerr
}

// Get issues a GET for uri.
func (c *Client) Get(ctx context.Context, uri string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URI: uri})
}

// Post issues a POST with body encoded as JSON.
func (c *Client) Post(ctx context.Context, uri string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, URI: uri, JSON: body})
}

// Put issues a PUT with body encoded as JSON.
func (c *Client) Put(ctx context.Context, uri string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, URI: uri, JSON: body})
}

// Patch issues a PATCH with body encoded as JSON.
func (c *Client) Patch(ctx context.Context, uri string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, URI: uri, JSON: body})
}

// Delete issues a DELETE for uri.
func (c *Client) Delete(ctx context.Context, uri string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, URI: uri})
}

// resolve maps uri onto the device base URL. Absolute URLs keep only their
// path and query since devices report selfLinks against "localhost".
func (c *Client) resolve(uri string) string {
	u := *c.base
	if abs, err := url.Parse(uri); err == nil && abs.IsAbs() {
		u.Path = abs.Path
		u.RawPath = abs.RawPath
		u.RawQuery = abs.RawQuery
		return u.String()
	}
	path, query, _ := strings.Cut(uri, "?")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawQuery = query
	return u.String()
}

// newCorrelationID returns a short identifier for log correlation.
// Collisions are harmless.
func newCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
}
