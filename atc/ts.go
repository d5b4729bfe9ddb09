package atc

import (
	"context"
	"encoding/json"

	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
)

// TS is the Telemetry Streaming extension. Its declarations apply
// synchronously.
type TS struct {
	service
}

// NewTS returns a TS wrapper.
func NewTS(doer mgmt.Doer, f *jobs.Follower, info Info) *TS {
	return &TS{service{doer: doer, follow: f, info: info}}
}

// Get returns the current declaration.
func (t *TS) Get(ctx context.Context) (*mgmt.Response, error) {
	return t.get(ctx, mgmt.PathTSDeclare)
}

// Post applies decl.
func (t *TS) Post(ctx context.Context, decl json.RawMessage) (*mgmt.Response, error) {
	return t.post(ctx, mgmt.PathTSDeclare, decl)
}
