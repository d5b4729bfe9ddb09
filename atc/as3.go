package atc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
)

// AS3 is the Application Services 3 extension.
type AS3 struct {
	service
}

// NewAS3 returns an AS3 wrapper. info is what Probe reported.
func NewAS3(doer mgmt.Doer, f *jobs.Follower, info Info) *AS3 {
	return &AS3{service{doer: doer, follow: f.With(as3ResultFailed), info: info}}
}

// Get returns the declaration of tenant, or of every tenant when tenant is
// empty.
func (a *AS3) Get(ctx context.Context, tenant string) (*mgmt.Response, error) {
	uri := mgmt.PathAS3Declare
	if tenant != "" {
		uri += "/" + url.PathEscape(tenant)
	}
	return a.get(ctx, uri)
}

// Post submits decl asynchronously and follows the resulting task.
func (a *AS3) Post(ctx context.Context, decl json.RawMessage) (*jobs.Result, error) {
	resp, err := a.post(ctx, mgmt.PathAS3Declare+"?async=true", decl)
	if err != nil {
		return nil, err
	}
	return a.followTask(ctx, a.follow, mgmt.PathAS3Task, resp)
}

// Delete removes the named tenants.
func (a *AS3) Delete(ctx context.Context, tenants ...string) (*mgmt.Response, error) {
	escaped := make([]string, len(tenants))
	for i, t := range tenants {
		escaped[i] = url.PathEscape(t)
	}
	return mgmt.Call(ctx, a.doer, http.MethodDelete, mgmt.PathAS3Declare+"/"+strings.Join(escaped, ","), nil)
}

// Tasks lists recent AS3 tasks.
func (a *AS3) Tasks(ctx context.Context) (*mgmt.Response, error) {
	return a.get(ctx, mgmt.PathAS3Task)
}

// Task returns one AS3 task.
func (a *AS3) Task(ctx context.Context, id string) (*mgmt.Response, error) {
	return a.get(ctx, mgmt.PathAS3Task+"/"+url.PathEscape(id))
}

// as3ResultFailed fails a task once any tenant result carries an error code.
func as3ResultFailed(resp *mgmt.Response) jobs.Outcome {
	results, _ := resp.Map()["results"].([]any)
	for _, r := range results {
		m, _ := r.(map[string]any)
		if code, ok := m["code"].(float64); ok && code >= 400 {
			return jobs.Fail
		}
	}
	return jobs.Continue
}
