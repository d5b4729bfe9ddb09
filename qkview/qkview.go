// Package qkview drives the qkview diagnostic bundle endpoints: generation,
// listing, download and removal.
package qkview

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
	"github.com/ggoodman/f5-conx-go/transfer"
)

// Ext is appended to bundle names that lack it.
const Ext = ".qkview"

// Qkview is a bundle known to the device.
type Qkview struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Generation int64  `json:"generation"`
	SelfLink   string `json:"selfLink"`
}

// Client manages qkviews on one device.
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

// Create generates a bundle called name and waits until the device reports
// it SUCCEEDED. An empty name is replaced by a timestamp. Generation can
// take several minutes.
func (c *Client) Create(ctx context.Context, name string) (*Qkview, *jobs.Result, error) {
	if name == "" {
		name = c.now().UTC().Format("20060102T150405Z")
	}
	if !strings.HasSuffix(name, Ext) {
		name += Ext
	}

	c.log.InfoContext(ctx, "qkview.create", slog.String("file", name))
	resp, err := mgmt.Call(ctx, c.doer, http.MethodPost, mgmt.PathQkview, map[string]string{"name": name})
	if err != nil {
		return nil, nil, err
	}
	var qv Qkview
	if err := resp.Decode(&qv); err != nil {
		return nil, nil, fmt.Errorf("decode qkview task: %w", err)
	}
	if qv.ID == "" {
		return nil, nil, fmt.Errorf("qkview %s: response carries no id", name)
	}

	res, err := c.follow.Follow(ctx, mgmt.PathQkview+"/"+url.PathEscape(qv.ID))
	if err != nil {
		return nil, nil, err
	}
	if err := res.Decode(&qv); err != nil {
		return nil, res, fmt.Errorf("decode qkview status: %w", err)
	}
	if res.Exhausted {
		return &qv, res, fmt.Errorf("qkview %s still %s after %d polls", name, qv.Status, res.Polls())
	}
	return &qv, res, nil
}

// Download fetches the bundle name into dest, a file or a directory.
func (c *Client) Download(ctx context.Context, name, dest string) (*transfer.DownloadResult, error) {
	return c.files.Download(ctx, name, dest, mgmt.KindQkview)
}

// List returns the bundles the device knows about.
func (c *Client) List(ctx context.Context) ([]Qkview, error) {
	resp, err := mgmt.Call(ctx, c.doer, http.MethodGet, mgmt.PathQkview, nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Items []Qkview `json:"items"`
	}
	if err := resp.Decode(&list); err != nil {
		return nil, fmt.Errorf("decode qkview list: %w", err)
	}
	return list.Items, nil
}

// Delete removes the bundle with the given id.
func (c *Client) Delete(ctx context.Context, id string) (*mgmt.Response, error) {
	return mgmt.Call(ctx, c.doer, http.MethodDelete, mgmt.PathQkview+"/"+url.PathEscape(id), nil)
}
