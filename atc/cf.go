package atc

import (
	"context"
	"encoding/json"

	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
)

// CF is the Cloud Failover extension.
type CF struct {
	service
}

// NewCF returns a CF wrapper.
func NewCF(doer mgmt.Doer, f *jobs.Follower, info Info) *CF {
	return &CF{service{doer: doer, follow: f, info: info}}
}

// Get returns the current declaration.
func (c *CF) Get(ctx context.Context) (*mgmt.Response, error) {
	return c.get(ctx, mgmt.PathCFDeclare)
}

// Post applies decl.
func (c *CF) Post(ctx context.Context, decl json.RawMessage) (*mgmt.Response, error) {
	return c.post(ctx, mgmt.PathCFDeclare, decl)
}

// Inspect returns the resources CF manages.
func (c *CF) Inspect(ctx context.Context) (*mgmt.Response, error) {
	return c.get(ctx, mgmt.PathCFInspect)
}

// Trigger starts a failover, or only reports what it would do when dryRun
// is set.
func (c *CF) Trigger(ctx context.Context, dryRun bool) (*mgmt.Response, error) {
	action := "execute"
	if dryRun {
		action = "dry-run"
	}
	return c.post(ctx, mgmt.PathCFTrigger, map[string]string{"action": action})
}

// Reset clears the failover state file.
func (c *CF) Reset(ctx context.Context) (*mgmt.Response, error) {
	return c.post(ctx, mgmt.PathCFReset, map[string]bool{"resetStateFile": true})
}
