// Package atc wraps the Automation Toolchain services that run on a BIG-IP:
// AS3, Declarative Onboarding, Telemetry Streaming, Cloud Failover and FAST,
// plus the package manager that installs them.
//
// Declarations are passed through as json.RawMessage; this package does not
// interpret their schema. Calls that start device jobs follow them with a
// jobs.Follower and return the terminal *jobs.Result.
//
// A service wrapper is normally obtained from f5conx.F5Client after Connect
// has probed the service's info endpoint:
//
//	if as3 := c.AS3(); as3 != nil {
//		res, err := as3.Post(ctx, decl)
//		...
//	}
package atc
