package ucs

import (
	"context"
	"encoding/json"
	"io"
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

func newTestClient(t *testing.T) (*Client, *fakebigip.Device) {
	t.Helper()
	d := fakebigip.New(t, fakebigip.Options{})
	mc, err := mgmt.NewClient(mgmt.Config{Host: d.URL(), User: "admin", Password: "admin", LogHandler: testlog.Handler(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mc.Close() })

	f := jobs.New(mc, jobs.WithSchedule(jobs.Schedule{time.Millisecond, time.Millisecond, time.Millisecond}))
	c := New(mc, f, transfer.New(mc, mc.Policy(), mc.Logger()), mc.Logger())
	c.now = func() time.Time { return time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC) }
	return c, d
}

func TestCreateFollowsSelfLink(t *testing.T) {
	c, d := newTestClient(t)
	bodies := make(chan map[string]any, 1)
	d.Handle(http.MethodPost, mgmt.PathBackup, func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &m)
		bodies <- m
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"b-1","status":"CREATED","selfLink":"https://localhost/mgmt/tm/shared/sys/backup/b-1?ver=17.1.0"}`))
	})
	d.Script(http.MethodGet, mgmt.PathBackup+"/b-1",
		fakebigip.Reply{Body: map[string]any{"id": "b-1", "status": "STARTED"}},
		fakebigip.Reply{Body: map[string]any{"id": "b-1", "status": "FINISHED"}},
	)

	res, err := c.Create(context.Background(), "nightly", CreateOptions{Passphrase: "s3cret", NoPrivateKeys: true})
	require.NoError(t, err)
	require.Equal(t, 2, res.Polls())

	got := <-bodies
	require.Equal(t, "nightly.ucs", got["file"])
	require.Equal(t, "BACKUP", got["action"])
	require.Equal(t, "s3cret", got["passphrase"])
	require.Equal(t, true, got["noPrivateKeys"])
}

func TestCreateFailed(t *testing.T) {
	c, d := newTestClient(t)
	d.Script(http.MethodPost, mgmt.PathBackup, fakebigip.Reply{Body: map[string]any{"id": "b-2"}})
	d.Script(http.MethodGet, mgmt.PathBackup+"/b-2", fakebigip.Reply{Body: map[string]any{"status": "FAILED", "errorMessage": "disk full"}})

	_, err := c.Create(context.Background(), "", CreateOptions{})
	var fe *jobs.FailedError
	require.ErrorAs(t, err, &fe)
	require.ErrorContains(t, err, "disk full")
}

func TestCreateExhausted(t *testing.T) {
	c, d := newTestClient(t)
	d.Script(http.MethodPost, mgmt.PathBackup, fakebigip.Reply{Body: map[string]any{"id": "b-3"}})
	d.Script(http.MethodGet, mgmt.PathBackup+"/b-3", fakebigip.Reply{Body: map[string]any{"status": "STARTED"}})

	res, err := c.Create(context.Background(), "slow", CreateOptions{})
	require.Error(t, err)
	require.True(t, res.Exhausted)
	require.Equal(t, 3, res.Polls())
}

func TestDownload(t *testing.T) {
	c, d := newTestClient(t)
	d.PutFile("nightly.ucs", []byte("archive bytes"))
	dir := t.TempDir()

	res, err := c.Download(context.Background(), "nightly", dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "nightly.ucs"), res.Path)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, "archive bytes", string(data))
	require.Equal(t, 1, d.Hits(http.MethodGet, mgmt.PathUCSDownloads+"/nightly.ucs"))
}

func TestListAndDelete(t *testing.T) {
	c, d := newTestClient(t)
	ctx := context.Background()
	d.Script(http.MethodGet, mgmt.PathUCS, fakebigip.Reply{Body: map[string]any{
		"kind": "tm:sys:ucs:ucscollectionstate",
		"items": []any{map[string]any{"apiRawValues": map[string]any{
			"filename":          "/var/local/ucs/nightly.ucs",
			"file_size":         "4521984 (in bytes)",
			"file_created_date": "2026-10-17T08:30:00Z",
			"version":           "17.1.0",
			"encrypted":         "true",
		}}},
	}})
	d.Script(http.MethodDelete, mgmt.PathUCS+"/nightly.ucs", fakebigip.Reply{})

	files, err := c.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []File{{
		Name:      "nightly.ucs",
		Path:      "/var/local/ucs/nightly.ucs",
		Size:      4521984,
		Created:   "2026-10-17T08:30:00Z",
		Version:   "17.1.0",
		Encrypted: true,
	}}, files)

	_, err = c.Delete(ctx, "nightly")
	require.NoError(t, err)
	require.Equal(t, 1, d.Hits(http.MethodDelete, mgmt.PathUCS+"/nightly.ucs"))
}

func TestFileName(t *testing.T) {
	now := time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
	require.Equal(t, "a.ucs", FileName("a", now))
	require.Equal(t, "a.ucs", FileName("a.ucs", now))
	require.Equal(t, "20261017T083000Z.ucs", FileName("", now))
	require.EqualValues(t, 0, parseSize(""))
	require.EqualValues(t, 12, parseSize("12 (in bytes)"))
}
