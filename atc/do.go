package atc

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
)

// DO is the Declarative Onboarding extension.
type DO struct {
	service
}

// NewDO returns a DO wrapper.
func NewDO(doer mgmt.Doer, f *jobs.Follower, info Info) *DO {
	return &DO{service{doer: doer, follow: f.With(doResult), info: info}}
}

// Get returns the last applied declaration.
func (d *DO) Get(ctx context.Context) (*mgmt.Response, error) {
	return d.get(ctx, mgmt.PathDO)
}

// Inspect returns the device configuration as DO sees it.
func (d *DO) Inspect(ctx context.Context) (*mgmt.Response, error) {
	return d.get(ctx, mgmt.PathDOInspect)
}

// Post submits decl and follows the onboarding task.
func (d *DO) Post(ctx context.Context, decl json.RawMessage) (*jobs.Result, error) {
	resp, err := d.post(ctx, mgmt.PathDO, decl)
	if err != nil {
		return nil, err
	}
	return d.followTask(ctx, d.follow, mgmt.PathDOTask, resp)
}

// Tasks lists onboarding tasks.
func (d *DO) Tasks(ctx context.Context) (*mgmt.Response, error) {
	return d.get(ctx, mgmt.PathDOTask)
}

// Task returns one onboarding task.
func (d *DO) Task(ctx context.Context, id string) (*mgmt.Response, error) {
	return d.get(ctx, mgmt.PathDOTask+"/"+url.PathEscape(id))
}

// doResult reads result.status: OK succeeds, ERROR fails.
func doResult(resp *mgmt.Response) jobs.Outcome {
	result, _ := resp.Map()["result"].(map[string]any)
	switch result["status"] {
	case "OK":
		return jobs.Succeed
	case "ERROR":
		return jobs.Fail
	}
	return jobs.Continue
}
