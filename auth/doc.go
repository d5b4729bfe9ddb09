// Package auth manages the token-based session used to talk to a BIG-IP or
// BIG-IQ device over iControl REST.
//
// A Session owns the device credentials and at most one live token. Token
// returns the held token or performs a login when there is none. Every
// acquired token starts a countdown that ticks once per second; when the
// remaining lifetime reaches the pre-emptive threshold (10 seconds by
// default) the token is discarded so the next caller logs in again before the
// device would reject it. There is no refresh in place: a token is either
// held or absent.
//
// # Concurrency
//
// Callers that find no token at the same time share a single login through
// golang.org/x/sync/singleflight. Every invalidation still leads to at least
// one new login on the next Token call.
//
// Example:
//
//	sess, err := auth.NewSession(auth.Config{
//	    BaseURL:     "https://10.0.0.4:8443",
//	    Credentials: auth.Credentials{User: "admin", Password: "secret"},
//	    Client:      httpClient,
//	})
//	if err != nil { return err }
//	defer sess.Close()
//
//	tok, err := sess.Token(ctx)
//	if errors.Is(err, auth.ErrAuthenticationFailed) { /* wrong credentials */ }
//
// # Errors
//
// Login failures are returned as *LoginError and never retried here. A 401
// from the login endpoint additionally matches ErrAuthenticationFailed.
package auth
