package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/f5-conx-go/hooks"
	"golang.org/x/sync/singleflight"
)

// Doer executes a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Session.
type Config struct {
	// BaseURL is the device management URL, e.g. "https://10.0.0.4:8443".
	BaseURL     string
	Credentials Credentials
	Client      Doer

	// Threshold is the countdown value at which a token is discarded before
	// the device would expire it. Defaults to 10.
	Threshold int
	// TickInterval is the countdown period. Defaults to one second.
	TickInterval time.Duration
	// DefaultTimeout is used when the login response carries no usable
	// timeout. Defaults to 1200 seconds.
	DefaultTimeout int

	Events hooks.Events
	Logger *slog.Logger
}

// applyDefaults populates zero values with conservative defaults.
func (c *Config) applyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 10
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 1200
	}
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
	if c.Events == nil {
		c.Events = hooks.Nop{}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Session holds the token for one set of credentials. It is safe for
// concurrent use.
type Session struct {
	cfg      Config
	loginURL string
	flight   singleflight.Group

	mu        sync.Mutex
	token     *Token
	remaining int
	gen       uint64
	stop      chan struct{}
	closed    bool
}

// NewSession validates cfg and returns a Session without a token.
func NewSession(cfg Config) (*Session, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if cfg.Credentials.User == "" {
		return nil, errors.New("user is required")
	}
	cfg.applyDefaults()
	return &Session{
		cfg:      cfg,
		loginURL: strings.TrimSuffix(cfg.BaseURL, "/") + LoginPath,
	}, nil
}

// Token returns the value of the held token, logging in first when no
// token is held. Login failures are returned unchanged and not retried.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if s.token != nil {
		v := s.token.Value
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	// The shared login must not die with whichever caller started it.
	ch := s.flight.DoChan("login", func() (any, error) {
		return s.login(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*Token).Value, nil
	}
}

// Current returns a copy of the held token.
func (s *Session) Current() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return Token{}, false
	}
	return *s.token, true
}

// State reports whether a token is held.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return StateNoToken
	}
	return StateTokenValid
}

// Remaining returns the current countdown value.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Invalidate discards the held token, stops the countdown and returns the
// countdown value that remained. It returns zero when no token is held.
func (s *Session) Invalidate() int {
	return s.discard(context.Background(), "", hooks.TokenReasonInvalidated)
}

// ReportAuthFailure is called by the request executor when the device
// answered a request made with tokenValue with its authentication-failure
// response. The token is discarded, unless a newer one has already replaced
// it, and an AuthFailed event is emitted.
func (s *Session) ReportAuthFailure(ctx context.Context, tokenValue string, ev hooks.AuthFailedEvent) {
	s.discard(ctx, tokenValue, hooks.TokenReasonAuthFailure)
	s.cfg.Logger.WarnContext(ctx, "authentication failed", slog.Int("status", ev.Status), slog.Bool("login", ev.Login))
	s.cfg.Events.AuthFailed(ctx, ev)
}

// Close discards the token and makes further Token calls fail.
func (s *Session) Close() error {
	s.Invalidate()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// discard drops the held token. A non-empty match restricts the discard to
// that token value.
func (s *Session) discard(ctx context.Context, match string, reason hooks.TokenReason) int {
	s.mu.Lock()
	tok := s.token
	if tok == nil || (match != "" && tok.Value != match) {
		if tok == nil {
			s.stopLocked()
		}
		s.mu.Unlock()
		return 0
	}
	remaining := s.remaining
	s.token = nil
	s.remaining = 0
	s.stopLocked()
	s.mu.Unlock()

	s.cfg.Logger.DebugContext(ctx, "token discarded", slog.String("reason", string(reason)), slog.Int("remaining", remaining))
	s.cfg.Events.TokenDiscarded(ctx, s.tokenEvent(tok, remaining, reason))
	return remaining
}

// stopLocked ends the running countdown. s.mu must be held.
func (s *Session) stopLocked() {
	s.gen++
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

type loginRequest struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	LoginProviderName string `json:"loginProviderName"`
}

type loginResponse struct {
	Token struct {
		Token            string `json:"token"`
		Timeout          int    `json:"timeout"`
		UserName         string `json:"userName"`
		AuthProviderName string `json:"authProviderName"`
		// BIG-IQ issues exp/iat instead of a timeout.
		Exp int64 `json:"exp"`
		Iat int64 `json:"iat"`
	} `json:"token"`
}

func (s *Session) login(ctx context.Context) (*Token, error) {
	// A login that finished between the caller's check and this flight is
	// still valid.
	if tok, ok := s.Current(); ok {
		return &tok, nil
	}

	creds := s.cfg.Credentials
	body, err := json.Marshal(loginRequest{
		Username:          creds.User,
		Password:          creds.Password,
		LoginProviderName: creds.provider(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, bytes.NewReader(body))
	if err != nil {
		return nil, &LoginError{URL: s.loginURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	s.cfg.Logger.DebugContext(ctx, "logging in", slog.String("url", s.loginURL), slog.String("provider", creds.provider()))
	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, &LoginError{URL: s.loginURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &LoginError{URL: s.loginURL, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		lerr := &LoginError{URL: s.loginURL, Status: resp.StatusCode, Body: data, Err: errors.New("login rejected")}
		if resp.StatusCode == http.StatusUnauthorized {
			lerr.Err = ErrAuthenticationFailed
			s.ReportAuthFailure(ctx, "", hooks.AuthFailedEvent{
				Host:   creds.Host,
				Status: resp.StatusCode,
				Body:   data,
				Login:  true,
			})
		}
		return nil, lerr
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, &LoginError{URL: s.loginURL, Status: resp.StatusCode, Body: data, Err: fmt.Errorf("invalid login response: %w", err)}
	}
	if lr.Token.Token == "" {
		return nil, &LoginError{URL: s.loginURL, Status: resp.StatusCode, Body: data, Err: errors.New("login response carried no token")}
	}

	tok := &Token{
		Value:    lr.Token.Token,
		Timeout:  lr.Token.Timeout,
		UserName: lr.Token.UserName,
		Provider: lr.Token.AuthProviderName,
	}
	if tok.Timeout <= 0 && lr.Token.Exp > lr.Token.Iat && lr.Token.Iat > 0 {
		tok.Timeout = int(lr.Token.Exp - lr.Token.Iat)
	}
	if tok.Timeout <= 0 {
		tok.Timeout = s.cfg.DefaultTimeout
	}
	if tok.UserName == "" {
		tok.UserName = creds.User
	}
	if tok.Provider == "" {
		tok.Provider = creds.provider()
	}

	s.store(tok)
	s.cfg.Logger.InfoContext(ctx, "token acquired", slog.Int("timeout", tok.Timeout))
	s.cfg.Events.TokenAcquired(ctx, s.tokenEvent(tok, tok.Timeout, ""))
	return tok, nil
}

// store installs tok and starts its countdown, replacing any previous one.
func (s *Session) store(tok *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked()
	s.token = tok
	s.remaining = tok.Timeout
	stop := make(chan struct{})
	s.stop = stop
	go s.countdown(s.gen, stop)
}

func (s *Session) countdown(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.remaining--
		remaining := s.remaining
		var expired *Token
		if remaining <= s.cfg.Threshold && s.token != nil {
			expired = s.token
			s.token = nil
		}
		done := remaining <= 0
		if done {
			s.remaining = 0
			s.stop = nil
		}
		s.mu.Unlock()

		if expired != nil {
			ctx := context.Background()
			s.cfg.Logger.DebugContext(ctx, "token discarded", slog.String("reason", string(hooks.TokenReasonPreemptive)), slog.Int("remaining", remaining))
			s.cfg.Events.TokenDiscarded(ctx, s.tokenEvent(expired, remaining, hooks.TokenReasonPreemptive))
		}
		if done {
			return
		}
	}
}

func (s *Session) tokenEvent(tok *Token, remaining int, reason hooks.TokenReason) hooks.TokenEvent {
	return hooks.TokenEvent{
		Host:      s.cfg.Credentials.Host,
		UserName:  tok.UserName,
		Provider:  tok.Provider,
		Timeout:   tok.Timeout,
		Remaining: remaining,
		Reason:    reason,
	}
}

type authFailureBody struct {
	Message string `json:"message"`
}

// IsAuthFailure reports whether a response is the device's
// authentication-failure signature: a 401 whose JSON body message is
// "Authentication failed.".
func IsAuthFailure(status int, body []byte) bool {
	if status != http.StatusUnauthorized {
		return false
	}
	var b authFailureBody
	if err := json.Unmarshal(body, &b); err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(b.Message), "Authentication failed.")
}
