package atc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"

	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
	"github.com/ggoodman/f5-conx-go/transfer"
)

// Package is an installed iControl LX package.
type Package struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Release     string   `json:"release"`
	Arch        string   `json:"arch"`
	PackageName string   `json:"packageName"`
	Tags        []string `json:"tags"`
}

// PackageManager installs and removes RPM packages through the
// package-management-tasks endpoint. Installing or removing a package
// restarts restnoded; both calls wait for it to come back.
type PackageManager struct {
	doer   mgmt.Doer
	follow *jobs.Follower
	files  *transfer.Client
	log    *slog.Logger
}

// NewPackageManager returns a PackageManager. files uploads the RPM.
func NewPackageManager(doer mgmt.Doer, f *jobs.Follower, files *transfer.Client, log *slog.Logger) *PackageManager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &PackageManager{doer: doer, follow: f, files: files, log: log}
}

// Install uploads the RPM at rpmPath, installs it and waits for restnoded.
// The returned result is the install task.
func (p *PackageManager) Install(ctx context.Context, rpmPath string) (*jobs.Result, error) {
	up, err := p.files.Upload(ctx, rpmPath, mgmt.KindFile)
	if err != nil {
		return nil, fmt.Errorf("upload package: %w", err)
	}
	remote := path.Join(mgmt.RemoteDownloadsDir, up.FileName)
	p.log.InfoContext(ctx, "package.install", slog.String("file", remote))

	res, err := p.task(ctx, map[string]string{"operation": "INSTALL", "packageFilePath": remote})
	if err != nil {
		return nil, err
	}
	if _, err := p.WaitRestnoded(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Uninstall removes packageName, as reported by Installed, and waits for
// restnoded.
func (p *PackageManager) Uninstall(ctx context.Context, packageName string) (*jobs.Result, error) {
	p.log.InfoContext(ctx, "package.uninstall", slog.String("package", packageName))
	res, err := p.task(ctx, map[string]string{"operation": "UNINSTALL", "packageName": packageName})
	if err != nil {
		return nil, err
	}
	if _, err := p.WaitRestnoded(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Installed lists installed packages.
func (p *PackageManager) Installed(ctx context.Context) ([]Package, error) {
	res, err := p.task(ctx, map[string]string{"operation": "QUERY"})
	if err != nil {
		return nil, err
	}
	var out struct {
		QueryResponse []Package `json:"queryResponse"`
	}
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode package query: %w", err)
	}
	return out.QueryResponse, nil
}

// WaitRestnoded polls the restnoded service stats until it reports running.
func (p *PackageManager) WaitRestnoded(ctx context.Context) (*jobs.Result, error) {
	res, err := p.follow.Follow(ctx, mgmt.PathRestnoded)
	if err != nil {
		return nil, fmt.Errorf("wait for restnoded: %w", err)
	}
	if res.Exhausted {
		return res, fmt.Errorf("wait for restnoded: still down after %d polls", res.Polls())
	}
	return res, nil
}

func (p *PackageManager) task(ctx context.Context, body map[string]string) (*jobs.Result, error) {
	resp, err := mgmt.Call(ctx, p.doer, http.MethodPost, mgmt.PathPackageTasks, body)
	if err != nil {
		return nil, err
	}
	id := taskID(resp)
	if id == "" {
		return nil, fmt.Errorf("%s task: %w", body["operation"], ErrNoTaskID)
	}
	res, err := p.follow.Follow(ctx, mgmt.PathPackageTasks+"/"+id)
	if err != nil {
		return nil, err
	}
	if res.Exhausted {
		return res, fmt.Errorf("%s task %s did not finish after %d polls", body["operation"], id, res.Polls())
	}
	return res, nil
}
