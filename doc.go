// Package f5conx connects to F5 BIG-IP and BIG-IQ devices over iControl
// REST.
//
// An F5Client owns one authenticated session. The token is obtained on the
// first call, counted down locally and discarded shortly before the device
// would expire it, so callers never handle tokens themselves. On top of the
// session the client offers chunked file transfer, a follower for
// asynchronous device jobs, and wrappers for the Automation Toolchain
// services (AS3, DO, TS, CF, FAST), UCS archives and qkviews.
//
// # Getting started
//
//	cfg, err := f5conx.LoadConfig() // F5_HOST, F5_USER, F5_PASS, ...
//	if err != nil {
//		log.Fatal(err)
//	}
//	c, err := f5conx.New(cfg, f5conx.WithLogHandler(slog.NewTextHandler(os.Stderr, nil)))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	dev, err := c.Connect(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(dev.Hostname, dev.Version)
//
//	if as3 := c.AS3(); as3 != nil {
//		res, err := as3.Post(ctx, decl)
//		...
//	}
//
// # Errors
//
// Requests fail with *mgmt.TransportError when no response arrived and
// with *mgmt.RequestError for any non-2xx status. Jobs that the device
// reports as failed return *jobs.FailedError; downloads whose size on disk
// does not match the device's total return *transfer.IntegrityError.
package f5conx
