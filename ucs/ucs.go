// Package ucs creates, lists, fetches and removes UCS archives, the full
// configuration backups of a BIG-IP.
package ucs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
	"github.com/ggoodman/f5-conx-go/transfer"
)

// Ext is appended to archive names that lack it.
const Ext = ".ucs"

// CreateOptions tune a backup.
type CreateOptions struct {
	// Passphrase encrypts the archive.
	Passphrase string
	// NoPrivateKeys leaves SSL private keys out of the archive.
	NoPrivateKeys bool
}

// File is an archive stored on the device.
type File struct {
	Name      string
	Path      string
	Size      int64
	Created   string
	Version   string
	Encrypted bool
}

// Client manages UCS archives on one device.
type Client struct {
	doer   mgmt.Doer
	follow *jobs.Follower
	files  *transfer.Client
	log    *slog.Logger
	now    func() time.Time
}

// New returns a Client.
func New(doer mgmt.Doer, f *jobs.Follower, files *transfer.Client, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{doer: doer, follow: f, files: files, log: log, now: time.Now}
}

// Create builds an archive called name and waits for the backup task to
// finish. An empty name is replaced by a timestamp.
func (c *Client) Create(ctx context.Context, name string, opts CreateOptions) (*jobs.Result, error) {
	name = FileName(name, c.now())
	body := map[string]any{"file": name, "action": "BACKUP"}
	if opts.Passphrase != "" {
		body["passphrase"] = opts.Passphrase
	}
	if opts.NoPrivateKeys {
		body["noPrivateKeys"] = true
	}

	c.log.InfoContext(ctx, "ucs.create", slog.String("file", name))
	resp, err := mgmt.Call(ctx, c.doer, http.MethodPost, mgmt.PathBackup, body)
	if err != nil {
		return nil, err
	}

	var task struct {
		ID       string `json:"id"`
		SelfLink string `json:"selfLink"`
	}
	if err := resp.Decode(&task); err != nil {
		return nil, fmt.Errorf("decode backup task: %w", err)
	}
	target := task.SelfLink
	if target == "" {
		if task.ID == "" {
			return nil, fmt.Errorf("backup %s: response names no task", name)
		}
		target = mgmt.PathBackup + "/" + task.ID
	}

	res, err := c.follow.Follow(ctx, target)
	if err != nil {
		return nil, err
	}
	if res.Exhausted {
		return res, fmt.Errorf("backup %s did not finish after %d polls", name, res.Polls())
	}
	return res, nil
}

// Download fetches the archive name into dest, a file or a directory.
func (c *Client) Download(ctx context.Context, name, dest string) (*transfer.DownloadResult, error) {
	return c.files.Download(ctx, FileName(name, c.now()), dest, mgmt.KindUCS)
}

// List returns the archives on the device.
func (c *Client) List(ctx context.Context) ([]File, error) {
	resp, err := mgmt.Call(ctx, c.doer, http.MethodGet, mgmt.PathUCS, nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Items []struct {
			APIRawValues struct {
				Filename  string `json:"filename"`
				FileSize  string `json:"file_size"`
				Created   string `json:"file_created_date"`
				Version   string `json:"version"`
				Encrypted string `json:"encrypted"`
			} `json:"apiRawValues"`
		} `json:"items"`
	}
	if err := resp.Decode(&list); err != nil {
		return nil, fmt.Errorf("decode ucs list: %w", err)
	}

	out := make([]File, 0, len(list.Items))
	for _, it := range list.Items {
		v := it.APIRawValues
		out = append(out, File{
			Name:      path.Base(v.Filename),
			Path:      v.Filename,
			Size:      parseSize(v.FileSize),
			Created:   v.Created,
			Version:   v.Version,
			Encrypted: v.Encrypted == "true",
		})
	}
	return out, nil
}

// Delete removes the archive name.
func (c *Client) Delete(ctx context.Context, name string) (*mgmt.Response, error) {
	return mgmt.Call(ctx, c.doer, http.MethodDelete, mgmt.PathUCS+"/"+url.PathEscape(FileName(name, c.now())), nil)
}

// FileName returns name with the archive extension, or a timestamped name
// taken from now when name is empty.
func FileName(name string, now time.Time) string {
	if name == "" {
		name = now.UTC().Format("20060102T150405Z")
	}
	if !strings.HasSuffix(name, Ext) {
		name += Ext
	}
	return name
}

// parseSize reads sizes reported as "123456 (in bytes)".
func parseSize(s string) int64 {
	f := strings.Fields(s)
	if len(f) == 0 {
		return 0
	}
	n, _ := strconv.ParseInt(f[0], 10, 64)
	return n
}
