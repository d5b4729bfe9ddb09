// Package mgmt executes authenticated iControl REST requests against a
// single BIG-IP or BIG-IQ device.
//
// A Client owns one auth.Session. Each call made through Do obtains a token
// from the session (logging in if none is held), attaches it as the
// X-F5-Auth-Token header and tags the call with a short correlation ID used
// in logs, events and errors.
//
//	c, err := mgmt.NewClient(mgmt.Config{
//		Host:     "10.0.0.4",
//		User:     "admin",
//		Password: os.Getenv("F5_PASS"),
//	})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	resp, err := c.Get(ctx, mgmt.PathDeviceInfo)
//
// # Errors
//
// Do performs exactly one exchange and never retries. A request that got no
// response fails with *TransportError. A non-2xx response fails with
// *RequestError, which keeps the status, headers, body and correlation ID.
// When the device answers with its authentication-failure response the
// session token is discarded before the error is returned, and
// errors.Is(err, auth.ErrAuthenticationFailed) reports true.
package mgmt
