package atc

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
)

// FAST is the F5 Application Services Templates extension.
type FAST struct {
	service
}

// NewFAST returns a FAST wrapper.
func NewFAST(doer mgmt.Doer, f *jobs.Follower, info Info) *FAST {
	return &FAST{service{doer: doer, follow: f.With(fastTask), info: info}}
}

// Deployment names a template and its parameters.
type Deployment struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// TemplateSets lists installed template sets.
func (f *FAST) TemplateSets(ctx context.Context) (*mgmt.Response, error) {
	return f.get(ctx, mgmt.PathFASTTemplateSets)
}

// Applications lists deployed applications.
func (f *FAST) Applications(ctx context.Context) (*mgmt.Response, error) {
	return f.get(ctx, mgmt.PathFASTApplications)
}

// Deploy renders a template into an application and follows the task.
func (f *FAST) Deploy(ctx context.Context, dep Deployment) (*jobs.Result, error) {
	resp, err := f.post(ctx, mgmt.PathFASTApplications, dep)
	if err != nil {
		return nil, err
	}
	return f.followTask(ctx, f.follow, mgmt.PathFASTTasks, resp)
}

// DeleteApplication removes tenant/app and follows the task.
func (f *FAST) DeleteApplication(ctx context.Context, tenant, app string) (*jobs.Result, error) {
	uri := mgmt.PathFASTApplications + "/" + url.PathEscape(tenant) + "/" + url.PathEscape(app)
	resp, err := mgmt.Call(ctx, f.doer, http.MethodDelete, uri, nil)
	if err != nil {
		return nil, err
	}
	return f.followTask(ctx, f.follow, mgmt.PathFASTTasks, resp)
}

// fastTask succeeds on message "success" and fails on an error code or a
// message starting with "Error".
func fastTask(resp *mgmt.Response) jobs.Outcome {
	m := resp.Map()
	msg, _ := m["message"].(string)
	if msg == "success" {
		return jobs.Succeed
	}
	if code, ok := m["code"].(float64); ok && code >= 400 {
		return jobs.Fail
	}
	if strings.HasPrefix(strings.ToLower(msg), "error") {
		return jobs.Fail
	}
	return jobs.Continue
}
