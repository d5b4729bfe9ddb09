package atc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggoodman/f5-conx-go/internal/fakebigip"
	"github.com/ggoodman/f5-conx-go/internal/testlog"
	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
	"github.com/ggoodman/f5-conx-go/transfer"
	"github.com/stretchr/testify/require"
)

type env struct {
	dev    *fakebigip.Device
	client *mgmt.Client
	follow *jobs.Follower
}

func newEnv(t *testing.T) *env {
	t.Helper()
	d := fakebigip.New(t, fakebigip.Options{})
	c, err := mgmt.NewClient(mgmt.Config{
		Host:       d.URL(),
		User:       "admin",
		Password:   "admin",
		LogHandler: testlog.Handler(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	sched := make(jobs.Schedule, 5)
	for i := range sched {
		sched[i] = time.Millisecond
	}
	return &env{dev: d, client: c, follow: jobs.New(c, jobs.WithSchedule(sched))}
}

// capture records the JSON body and raw query of each request to path.
func (e *env) capture(method, path string, reply fakebigip.Reply) <-chan captured {
	ch := make(chan captured, 8)
	e.dev.Handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{Query: r.URL.RawQuery, Body: body}
		data, _ := json.Marshal(reply.Body)
		w.Header().Set("Content-Type", "application/json")
		status := reply.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write(data)
	})
	return ch
}

type captured struct {
	Query string
	Body  []byte
}

func TestProbe(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.dev.Script(http.MethodGet, mgmt.PathAS3Info, fakebigip.Reply{Body: map[string]any{
		"version": "3.50.0", "release": "5", "schemaCurrent": "3.50.0", "schemaMinimum": "3.0.0",
	}})
	e.dev.Script(http.MethodGet, mgmt.PathDOInfo, fakebigip.Reply{Body: []map[string]any{
		{"id": 0, "version": "1.40.0", "release": "8"},
	}})

	info, err := Probe(ctx, e.client, mgmt.PathAS3Info)
	require.NoError(t, err)
	require.Equal(t, "3.50.0-5", info.String())
	require.Equal(t, "3.0.0", info.SchemaMinimum)
	require.NotEmpty(t, info.Raw)

	info, err = Probe(ctx, e.client, mgmt.PathDOInfo)
	require.NoError(t, err)
	require.Equal(t, "1.40.0", info.Version)

	info, err = Probe(ctx, e.client, mgmt.PathTSInfo)
	require.NoError(t, err)
	require.Nil(t, info, "a 404 means the service is not installed")
}

func TestTaskID(t *testing.T) {
	for body, want := range map[string]string{
		`{"id":"top"}`:                          "top",
		`{"message":{"id":"obj"}}`:              "obj",
		`{"code":202,"message":[{"id":"arr"}]}`: "arr",
		`{"message":[]}`:                        "",
		`not json`:                              "",
	} {
		require.Equal(t, want, taskID(&mgmt.Response{Body: []byte(body)}), body)
	}
}

func TestAS3PostFollowsTask(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	posts := e.capture(http.MethodPost, mgmt.PathAS3Declare, fakebigip.Reply{
		Status: http.StatusAccepted,
		Body:   map[string]any{"id": "t-1", "results": []any{map[string]any{"message": "Declaration successfully submitted"}}},
	})
	e.dev.Script(http.MethodGet, mgmt.PathAS3Task+"/t-1",
		fakebigip.Reply{Body: map[string]any{"id": "t-1", "results": []any{map[string]any{"message": "in progress"}}}},
		fakebigip.Reply{Body: map[string]any{"id": "t-1", "results": []any{map[string]any{"message": "success", "code": 200, "tenant": "tenant1"}}}},
	)

	as3 := NewAS3(e.client, e.follow, Info{Version: "3.50.0"})
	res, err := as3.Post(ctx, json.RawMessage(`{"class":"AS3","declaration":{"class":"ADC"}}`))
	require.NoError(t, err)
	require.Equal(t, 2, res.Polls())
	require.False(t, res.Exhausted)

	got := <-posts
	require.Equal(t, "async=true", got.Query)
	require.JSONEq(t, `{"class":"AS3","declaration":{"class":"ADC"}}`, string(got.Body))
	require.Equal(t, "3.50.0", as3.Info().Version)
}

func TestAS3PostFailure(t *testing.T) {
	e := newEnv(t)
	e.dev.Script(http.MethodPost, mgmt.PathAS3Declare, fakebigip.Reply{Status: http.StatusAccepted, Body: map[string]any{"id": "t-2"}})
	e.dev.Script(http.MethodGet, mgmt.PathAS3Task+"/t-2", fakebigip.Reply{Body: map[string]any{
		"results": []any{map[string]any{"message": "declaration failed", "code": 422}},
	}})

	_, err := NewAS3(e.client, e.follow, Info{}).Post(context.Background(), json.RawMessage(`{}`))
	var fe *jobs.FailedError
	require.ErrorAs(t, err, &fe)
	require.Contains(t, fe.URL, "t-2")
}

func TestAS3PostWithoutTaskID(t *testing.T) {
	e := newEnv(t)
	e.dev.Script(http.MethodPost, mgmt.PathAS3Declare, fakebigip.Reply{Status: http.StatusAccepted, Body: map[string]any{}})

	_, err := NewAS3(e.client, e.follow, Info{}).Post(context.Background(), json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrNoTaskID)
}

func TestAS3GetAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.dev.Script(http.MethodGet, mgmt.PathAS3Declare+"/tenant1", fakebigip.Reply{Body: map[string]any{"class": "ADC"}})
	e.dev.Script(http.MethodDelete, mgmt.PathAS3Declare+"/a,b", fakebigip.Reply{Body: map[string]any{"results": []any{}}})
	e.dev.Script(http.MethodGet, mgmt.PathAS3Task+"/x", fakebigip.Reply{Body: map[string]any{"id": "x"}})

	as3 := NewAS3(e.client, e.follow, Info{})
	resp, err := as3.Get(ctx, "tenant1")
	require.NoError(t, err)
	require.Equal(t, "ADC", resp.Map()["class"])

	_, err = as3.Delete(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, 1, e.dev.Hits(http.MethodDelete, mgmt.PathAS3Declare+"/a,b"))

	_, err = as3.Task(ctx, "x")
	require.NoError(t, err)

	_, err = as3.Get(ctx, "missing")
	require.True(t, mgmt.IsNotFound(err))
}

func TestDOPost(t *testing.T) {
	e := newEnv(t)
	e.dev.Script(http.MethodPost, mgmt.PathDO, fakebigip.Reply{Status: http.StatusAccepted, Body: map[string]any{
		"id": "do-1", "result": map[string]any{"status": "RUNNING", "code": 202},
	}})
	e.dev.Script(http.MethodGet, mgmt.PathDOTask+"/do-1",
		fakebigip.Reply{Status: http.StatusAccepted, Body: map[string]any{"result": map[string]any{"status": "RUNNING"}}},
		fakebigip.Reply{Status: http.StatusAccepted, Body: map[string]any{"result": map[string]any{"status": "RUNNING"}}},
		fakebigip.Reply{Body: map[string]any{"result": map[string]any{"status": "OK", "message": "success"}}},
	)

	res, err := NewDO(e.client, e.follow, Info{}).Post(context.Background(), json.RawMessage(`{"class":"DO"}`))
	require.NoError(t, err)
	require.Equal(t, 3, res.Polls())
	require.Len(t, res.Async, 2)
}

func TestDOPostError(t *testing.T) {
	e := newEnv(t)
	e.dev.Script(http.MethodPost, mgmt.PathDO, fakebigip.Reply{Status: http.StatusAccepted, Body: map[string]any{"id": "do-2"}})
	e.dev.Script(http.MethodGet, mgmt.PathDOTask+"/do-2", fakebigip.Reply{Body: map[string]any{
		"result": map[string]any{"status": "ERROR", "message": "invalid config"},
	}})

	_, err := NewDO(e.client, e.follow, Info{}).Post(context.Background(), json.RawMessage(`{}`))
	var fe *jobs.FailedError
	require.ErrorAs(t, err, &fe)
}

func TestDOClassifierOutcomes(t *testing.T) {
	for body, want := range map[string]jobs.Outcome{
		`{"result":{"status":"OK"}}`:           jobs.Succeed,
		`{"result":{"status":"ERROR"}}`:        jobs.Fail,
		`{"result":{"status":"ROLLING_BACK"}}`: jobs.Continue,
		`{}`:                                   jobs.Continue,
	} {
		require.Equal(t, want, doResult(&mgmt.Response{Body: []byte(body)}), body)
	}
}

func TestTSAndCF(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tsPosts := e.capture(http.MethodPost, mgmt.PathTSDeclare, fakebigip.Reply{Body: map[string]any{"message": "success"}})
	triggers := e.capture(http.MethodPost, mgmt.PathCFTrigger, fakebigip.Reply{Body: map[string]any{"taskState": "SUCCEEDED"}})
	resets := e.capture(http.MethodPost, mgmt.PathCFReset, fakebigip.Reply{Body: map[string]any{"message": "success"}})
	e.dev.Script(http.MethodGet, mgmt.PathCFInspect, fakebigip.Reply{Body: map[string]any{"instance": "i-1"}})

	ts := NewTS(e.client, e.follow, Info{})
	resp, err := ts.Post(ctx, json.RawMessage(`{"class":"Telemetry"}`))
	require.NoError(t, err)
	require.Equal(t, "success", resp.Map()["message"])
	require.JSONEq(t, `{"class":"Telemetry"}`, string((<-tsPosts).Body))

	cf := NewCF(e.client, e.follow, Info{})
	_, err = cf.Trigger(ctx, true)
	require.NoError(t, err)
	require.JSONEq(t, `{"action":"dry-run"}`, string((<-triggers).Body))
	_, err = cf.Trigger(ctx, false)
	require.NoError(t, err)
	require.JSONEq(t, `{"action":"execute"}`, string((<-triggers).Body))

	_, err = cf.Reset(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"resetStateFile":true}`, string((<-resets).Body))

	resp, err = cf.Inspect(ctx)
	require.NoError(t, err)
	require.Equal(t, "i-1", resp.Map()["instance"])
}

func TestFASTDeploy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	posts := e.capture(http.MethodPost, mgmt.PathFASTApplications, fakebigip.Reply{
		Status: http.StatusAccepted,
		Body:   map[string]any{"code": 202, "message": []any{map[string]any{"id": "f-1", "name": "examples/simple_http"}}},
	})
	e.dev.Script(http.MethodGet, mgmt.PathFASTTasks+"/f-1",
		fakebigip.Reply{Body: map[string]any{"id": "f-1", "code": 0, "message": "in progress"}},
		fakebigip.Reply{Body: map[string]any{"id": "f-1", "code": 200, "message": "success"}},
	)

	fast := NewFAST(e.client, e.follow, Info{})
	res, err := fast.Deploy(ctx, Deployment{
		Name:       "examples/simple_http",
		Parameters: map[string]any{"tenant_name": "t1", "application_name": "app1"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Polls())

	var sent Deployment
	require.NoError(t, json.Unmarshal((<-posts).Body, &sent))
	require.Equal(t, "examples/simple_http", sent.Name)
	require.Equal(t, "t1", sent.Parameters["tenant_name"])
}

func TestFASTDeleteApplicationFails(t *testing.T) {
	e := newEnv(t)
	e.dev.Script(http.MethodDelete, mgmt.PathFASTApplications+"/t1/app1", fakebigip.Reply{
		Status: http.StatusAccepted, Body: map[string]any{"code": 202, "message": map[string]any{"id": "f-2"}},
	})
	e.dev.Script(http.MethodGet, mgmt.PathFASTTasks+"/f-2", fakebigip.Reply{Body: map[string]any{
		"id": "f-2", "code": 422, "message": "Error: tenant not found",
	}})

	_, err := NewFAST(e.client, e.follow, Info{}).DeleteApplication(context.Background(), "t1", "app1")
	var fe *jobs.FailedError
	require.ErrorAs(t, err, &fe)
	require.Contains(t, fe.Error(), "tenant not found")
}

func TestPackageInstall(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rpm := filepath.Join(t.TempDir(), "f5-appsvcs-3.50.0-5.noarch.rpm")
	require.NoError(t, os.WriteFile(rpm, []byte("rpm payload"), 0o600))

	tasks := e.capture(http.MethodPost, mgmt.PathPackageTasks, fakebigip.Reply{
		Status: http.StatusAccepted, Body: map[string]any{"id": "p-1", "status": "CREATED"},
	})
	e.dev.Script(http.MethodGet, mgmt.PathPackageTasks+"/p-1",
		fakebigip.Reply{Body: map[string]any{"id": "p-1", "status": "STARTED"}},
		fakebigip.Reply{Body: map[string]any{"id": "p-1", "status": "FINISHED"}},
	)
	e.dev.Script(http.MethodGet, mgmt.PathRestnoded,
		fakebigip.Reply{Body: map[string]any{"apiRawValues": map[string]any{"apiAnonymous": "restnoded down, 1 seconds\n"}}},
		fakebigip.Reply{Body: map[string]any{"apiRawValues": map[string]any{"apiAnonymous": "restnoded run (pid 42) 1 seconds\n"}}},
	)

	files := transfer.New(e.client, e.client.Policy(), slog.New(testlog.Handler(t)))
	pm := NewPackageManager(e.client, e.follow, files, nil)
	res, err := pm.Install(ctx, rpm)
	require.NoError(t, err)
	require.Equal(t, "FINISHED", res.Map()["status"])

	data, ok := e.dev.File("f5-appsvcs-3.50.0-5.noarch.rpm")
	require.True(t, ok)
	require.Equal(t, "rpm payload", string(data))

	var body map[string]string
	require.NoError(t, json.Unmarshal((<-tasks).Body, &body))
	require.Equal(t, "INSTALL", body["operation"])
	require.Equal(t, "/var/config/rest/downloads/f5-appsvcs-3.50.0-5.noarch.rpm", body["packageFilePath"])
	require.Equal(t, 2, e.dev.Hits(http.MethodGet, mgmt.PathRestnoded))
}

func TestPackageInstallRestnodedNeverReturns(t *testing.T) {
	e := newEnv(t)
	rpm := filepath.Join(t.TempDir(), "pkg.noarch.rpm")
	require.NoError(t, os.WriteFile(rpm, []byte("x"), 0o600))
	e.dev.Script(http.MethodPost, mgmt.PathPackageTasks, fakebigip.Reply{Status: http.StatusAccepted, Body: map[string]any{"id": "p-2"}})
	e.dev.Script(http.MethodGet, mgmt.PathPackageTasks+"/p-2", fakebigip.Reply{Body: map[string]any{"status": "FINISHED"}})
	e.dev.Script(http.MethodGet, mgmt.PathRestnoded, fakebigip.Reply{Body: map[string]any{"apiRawValues": map[string]any{"apiAnonymous": "restnoded down\n"}}})

	files := transfer.New(e.client, e.client.Policy(), nil)
	res, err := NewPackageManager(e.client, e.follow, files, nil).Install(context.Background(), rpm)
	require.ErrorContains(t, err, "restnoded")
	require.NotNil(t, res, "the install task result is still returned")
}

func TestPackageInstallFailed(t *testing.T) {
	e := newEnv(t)
	rpm := filepath.Join(t.TempDir(), "bad.noarch.rpm")
	require.NoError(t, os.WriteFile(rpm, []byte("x"), 0o600))
	e.dev.Script(http.MethodPost, mgmt.PathPackageTasks, fakebigip.Reply{Status: http.StatusAccepted, Body: map[string]any{"id": "p-3"}})
	e.dev.Script(http.MethodGet, mgmt.PathPackageTasks+"/p-3", fakebigip.Reply{Body: map[string]any{
		"status": "FAILED", "errorMessage": "Package f5-appsvcs is already installed",
	}})

	files := transfer.New(e.client, e.client.Policy(), nil)
	_, err := NewPackageManager(e.client, e.follow, files, nil).Install(context.Background(), rpm)
	var fe *jobs.FailedError
	require.True(t, errors.As(err, &fe))
	require.Contains(t, err.Error(), "already installed")
	require.Zero(t, e.dev.Hits(http.MethodGet, mgmt.PathRestnoded))
}

func TestPackagesInstalledAndUninstall(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tasks := e.capture(http.MethodPost, mgmt.PathPackageTasks, fakebigip.Reply{Status: http.StatusAccepted, Body: map[string]any{"id": "q-1"}})
	e.dev.Script(http.MethodGet, mgmt.PathPackageTasks+"/q-1", fakebigip.Reply{Body: map[string]any{
		"status": "FINISHED",
		"queryResponse": []any{map[string]any{
			"name": "f5-appsvcs", "version": "3.50.0", "release": "5", "arch": "noarch",
			"packageName": "f5-appsvcs-3.50.0-5.noarch", "tags": []string{"PLUGIN"},
		}},
	}})
	e.dev.Script(http.MethodGet, mgmt.PathRestnoded, fakebigip.Reply{Body: map[string]any{"apiRawValues": map[string]any{"apiAnonymous": "restnoded run (pid 7)"}}})

	pm := NewPackageManager(e.client, e.follow, nil, nil)
	pkgs, err := pm.Installed(ctx)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	require.Equal(t, "f5-appsvcs-3.50.0-5.noarch", pkgs[0].PackageName)
	require.JSONEq(t, `{"operation":"QUERY"}`, string((<-tasks).Body))

	_, err = pm.Uninstall(ctx, pkgs[0].PackageName)
	require.NoError(t, err)
	require.JSONEq(t, `{"operation":"UNINSTALL","packageName":"f5-appsvcs-3.50.0-5.noarch"}`, string((<-tasks).Body))
}
