package atc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
)

// ErrNoTaskID is returned when a job-starting call is accepted but the
// response does not name the task to follow.
var ErrNoTaskID = errors.New("response carries no task id")

// Info is what a service reports on its info endpoint.
type Info struct {
	Version       string `json:"version"`
	Release       string `json:"release"`
	SchemaCurrent string `json:"schemaCurrent"`
	SchemaMinimum string `json:"schemaMinimum"`

	// Raw is the undecoded info body.
	Raw json.RawMessage `json:"-"`
}

// String returns "version-release".
func (i Info) String() string {
	if i.Release == "" {
		return i.Version
	}
	return i.Version + "-" + i.Release
}

// Probe reads the info endpoint at path. A non-2xx answer means the service
// is not installed and yields (nil, nil); transport and decode errors are
// returned.
func Probe(ctx context.Context, d mgmt.Doer, path string) (*Info, error) {
	resp, err := mgmt.Call(ctx, d, http.MethodGet, path, nil)
	if err != nil {
		var re *mgmt.RequestError
		if errors.As(err, &re) && !re.IsAuthFailure() {
			return nil, nil
		}
		return nil, err
	}
	return decodeInfo(resp.Body)
}

// decodeInfo accepts an object or, as DO answers, an array of objects.
func decodeInfo(body []byte) (*Info, error) {
	raw := bytes.TrimSpace(body)
	info := &Info{Raw: json.RawMessage(append([]byte(nil), body...))}
	if len(raw) > 0 && raw[0] == '[' {
		var list []Info
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode info: %w", err)
		}
		if len(list) == 0 {
			return nil, errors.New("decode info: empty list")
		}
		list[0].Raw = info.Raw
		return &list[0], nil
	}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, fmt.Errorf("decode info: %w", err)
	}
	return info, nil
}

// service carries what every wrapper needs.
type service struct {
	doer   mgmt.Doer
	follow *jobs.Follower
	info   Info
}

// Info returns what the service reported when it was probed.
func (s *service) Info() Info { return s.info }

func (s *service) get(ctx context.Context, uri string) (*mgmt.Response, error) {
	return mgmt.Call(ctx, s.doer, http.MethodGet, uri, nil)
}

func (s *service) post(ctx context.Context, uri string, body any) (*mgmt.Response, error) {
	return mgmt.Call(ctx, s.doer, http.MethodPost, uri, body)
}

// followTask follows base/{id}, with id taken from resp.
func (s *service) followTask(ctx context.Context, f *jobs.Follower, base string, resp *mgmt.Response) (*jobs.Result, error) {
	id := taskID(resp)
	if id == "" {
		return nil, fmt.Errorf("%s %s: %w", resp.Method, resp.URL, ErrNoTaskID)
	}
	return f.Follow(ctx, base+"/"+id)
}

// taskID finds a task id at the top level, in message.id or in
// message[0].id.
func taskID(resp *mgmt.Response) string {
	m := resp.Map()
	if id, ok := m["id"].(string); ok {
		return id
	}
	switch msg := m["message"].(type) {
	case map[string]any:
		id, _ := msg["id"].(string)
		return id
	case []any:
		if len(msg) == 0 {
			return ""
		}
		first, _ := msg[0].(map[string]any)
		id, _ := first["id"].(string)
		return id
	}
	return ""
}
