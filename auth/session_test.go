package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/f5-conx-go/hooks"
	"github.com/ggoodman/f5-conx-go/hooks/hookstest"
	"github.com/ggoodman/f5-conx-go/internal/fakebigip"
	"github.com/ggoodman/f5-conx-go/internal/testlog"
)

func newTestSession(t *testing.T, baseURL string, mutate func(*Config)) (*Session, *hookstest.Recorder) {
	t.Helper()
	rec := &hookstest.Recorder{}
	cfg := Config{
		BaseURL:     baseURL,
		Credentials: Credentials{Host: "bigip.test", User: "admin", Password: "admin"},
		Events:      rec,
		Logger:      slog.New(testlog.Handler(t)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession(Config{Credentials: Credentials{User: "admin"}}); err == nil {
		t.Error("expected error without base url")
	}
	if _, err := NewSession(Config{BaseURL: "https://bigip.test"}); err == nil {
		t.Error("expected error without user")
	}
}

func TestSessionTokenLogsInOnce(t *testing.T) {
	d := fakebigip.New(t, fakebigip.Options{})
	s, rec := newTestSession(t, d.URL(), nil)
	ctx := context.Background()

	if s.State() != StateNoToken {
		t.Fatalf("expected %v before first call, got %v", StateNoToken, s.State())
	}

	first, err := s.Token(ctx)
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	second, err := s.Token(ctx)
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}

	if first == "" || first != second {
		t.Errorf("expected one stable token, got %q and %q", first, second)
	}
	if got := d.Logins(); got != 1 {
		t.Errorf("expected 1 login, got %d", got)
	}
	if s.State() != StateTokenValid {
		t.Errorf("expected %v, got %v", StateTokenValid, s.State())
	}

	tok, ok := s.Current()
	if !ok {
		t.Fatal("expected a current token")
	}
	if tok.Timeout != 1200 || tok.UserName != "admin" || tok.Provider != DefaultProvider {
		t.Errorf("unexpected token %+v", tok)
	}

	acquired := rec.TokensAcquired()
	if len(acquired) != 1 || acquired[0].Timeout != 1200 || acquired[0].Host != "bigip.test" {
		t.Errorf("unexpected acquisition events %+v", acquired)
	}
}

func TestSessionPreemptiveExpiry(t *testing.T) {
	d := fakebigip.New(t, fakebigip.Options{Timeout: 12})
	s, rec := newTestSession(t, d.URL(), func(c *Config) {
		c.TickInterval = 5 * time.Millisecond
	})
	ctx := context.Background()

	first, err := s.Token(ctx)
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}

	// Two ticks take the countdown from 12 to the threshold of 10.
	waitFor(t, "pre-emptive discard", func() bool { return s.State() == StateNoToken })

	discarded := rec.TokensDiscarded()
	if len(discarded) != 1 {
		t.Fatalf("expected 1 discard event, got %d", len(discarded))
	}
	if discarded[0].Reason != hooks.TokenReasonPreemptive {
		t.Errorf("expected reason %q, got %q", hooks.TokenReasonPreemptive, discarded[0].Reason)
	}
	if discarded[0].Remaining != 10 {
		t.Errorf("expected discard at 10, got %d", discarded[0].Remaining)
	}
	if !d.Valid(first) {
		t.Error("device should still accept the discarded token")
	}

	second, err := s.Token(ctx)
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if second == first {
		t.Error("expected a fresh token after pre-emptive expiry")
	}
	if got := d.Logins(); got != 2 {
		t.Errorf("expected 2 logins, got %d", got)
	}
}

func TestSessionCountdownStopsAtZero(t *testing.T) {
	d := fakebigip.New(t, fakebigip.Options{Timeout: 3})
	s, _ := newTestSession(t, d.URL(), func(c *Config) {
		c.TickInterval = time.Millisecond
	})

	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	// Timeout 3 is already below the threshold, so the first tick discards.
	waitFor(t, "countdown to reach zero", func() bool { return s.Remaining() == 0 })
	time.Sleep(10 * time.Millisecond)
	if got := s.Remaining(); got != 0 {
		t.Errorf("countdown kept running: %d", got)
	}
	if s.State() != StateNoToken {
		t.Errorf("expected %v, got %v", StateNoToken, s.State())
	}
}

func TestSessionInvalidate(t *testing.T) {
	d := fakebigip.New(t, fakebigip.Options{})
	s, rec := newTestSession(t, d.URL(), nil)

	if got := s.Invalidate(); got != 0 {
		t.Errorf("Invalidate() without token = %d, want 0", got)
	}

	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	remaining := s.Invalidate()
	if remaining <= 0 || remaining > 1200 {
		t.Errorf("Invalidate() = %d, want (0, 1200]", remaining)
	}
	if s.State() != StateNoToken {
		t.Errorf("expected %v, got %v", StateNoToken, s.State())
	}
	if got := s.Invalidate(); got != 0 {
		t.Errorf("second Invalidate() = %d, want 0", got)
	}

	discarded := rec.TokensDiscarded()
	if len(discarded) != 1 || discarded[0].Reason != hooks.TokenReasonInvalidated {
		t.Errorf("unexpected discard events %+v", discarded)
	}
}

func TestSessionLoginAuthFailure(t *testing.T) {
	d := fakebigip.New(t, fakebigip.Options{Password: "secret"})
	s, rec := newTestSession(t, d.URL(), func(c *Config) {
		c.Credentials.Password = "wrong"
	})

	_, err := s.Token(context.Background())
	if err == nil {
		t.Fatal("expected login to fail")
	}
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
	var lerr *LoginError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LoginError, got %T", err)
	}
	if lerr.Status != http.StatusUnauthorized || len(lerr.Body) == 0 {
		t.Errorf("unexpected login error %+v", lerr)
	}

	fails := rec.AuthFailures()
	if len(fails) != 1 || !fails[0].Login {
		t.Errorf("expected one login auth failure, got %+v", fails)
	}
	if d.Logins() != 0 {
		t.Errorf("expected no successful logins, got %d", d.Logins())
	}
}

func TestSessionLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":503,"message":"restjavad restarting"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, rec := newTestSession(t, srv.URL, nil)
	_, err := s.Token(context.Background())
	var lerr *LoginError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LoginError, got %v", err)
	}
	if lerr.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", lerr.Status)
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		t.Error("a 503 is not an authentication failure")
	}
	if len(rec.AuthFailures()) != 0 {
		t.Error("unexpected auth failure event")
	}
}

func TestSessionLoginTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, _ := newTestSession(t, url, nil)
	_, err := s.Token(context.Background())
	var lerr *LoginError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LoginError, got %v", err)
	}
	if lerr.Status != 0 {
		t.Errorf("expected no status for a transport failure, got %d", lerr.Status)
	}
}

func TestSessionTimeoutFromExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":{"token":"bigiq-token","exp":1700000300,"iat":1700000000}}`))
	}))
	defer srv.Close()

	s, _ := newTestSession(t, srv.URL, nil)
	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	tok, _ := s.Current()
	if tok.Timeout != 300 {
		t.Errorf("expected timeout 300 from exp-iat, got %d", tok.Timeout)
	}
	if tok.UserName != "admin" {
		t.Errorf("expected user name to fall back to credentials, got %q", tok.UserName)
	}
}

func TestSessionConcurrentTokens(t *testing.T) {
	d := fakebigip.New(t, fakebigip.Options{LoginDelay: 50 * time.Millisecond})
	s, _ := newTestSession(t, d.URL(), nil)

	const n = 16
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = s.Token(context.Background())
		}()
	}
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] == "" || tokens[i] != tokens[0] {
			t.Errorf("caller %d got %q, want %q", i, tokens[i], tokens[0])
		}
	}
	if got := d.Logins(); got != 1 {
		t.Errorf("expected concurrent callers to share 1 login, got %d", got)
	}
}

func TestSessionTokenHonoursContext(t *testing.T) {
	d := fakebigip.New(t, fakebigip.Options{LoginDelay: 200 * time.Millisecond})
	s, _ := newTestSession(t, d.URL(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Token(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The shared login carries on and serves the next caller.
	tok, err := s.Token(context.Background())
	if err != nil || tok == "" {
		t.Fatalf("Token() = %q, %v", tok, err)
	}
	if got := d.Logins(); got != 1 {
		t.Errorf("expected 1 login, got %d", got)
	}
}

func TestSessionReportAuthFailure(t *testing.T) {
	d := fakebigip.New(t, fakebigip.Options{})
	s, rec := newTestSession(t, d.URL(), nil)
	ctx := context.Background()

	tok, err := s.Token(ctx)
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}

	s.ReportAuthFailure(ctx, "stale-token", hooks.AuthFailedEvent{ID: "a", Status: 401})
	if s.State() != StateTokenValid {
		t.Error("a failure reported for another token must not discard the held one")
	}

	s.ReportAuthFailure(ctx, tok, hooks.AuthFailedEvent{ID: "b", Status: 401})
	if s.State() != StateNoToken {
		t.Error("expected the token to be discarded")
	}

	if got := len(rec.AuthFailures()); got != 2 {
		t.Errorf("expected 2 auth failure events, got %d", got)
	}
	discarded := rec.TokensDiscarded()
	if len(discarded) != 1 || discarded[0].Reason != hooks.TokenReasonAuthFailure {
		t.Errorf("unexpected discard events %+v", discarded)
	}
}

func TestSessionClose(t *testing.T) {
	d := fakebigip.New(t, fakebigip.Options{})
	s, _ := newTestSession(t, d.URL(), nil)

	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := s.Token(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"device signature", 401, fakebigip.AuthFailedBody, true},
		{"loose casing", 401, `{"message":" authentication failed. "}`, true},
		{"other 401 message", 401, `{"message":"Unauthorized"}`, false},
		{"not json", 401, `Authentication failed.`, false},
		{"wrong status", 403, `{"message":"Authentication failed."}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthFailure(tt.status, []byte(tt.body)); got != tt.want {
				t.Errorf("IsAuthFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateNoToken.String() != "no-token" || StateTokenValid.String() != "token-valid" {
		t.Error("unexpected state names")
	}
	if State(7).String() != "state(7)" {
		t.Errorf("unexpected fallback %q", State(7).String())
	}
}
