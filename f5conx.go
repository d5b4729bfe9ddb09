package f5conx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/f5-conx-go/atc"
	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/mgmt"
	"github.com/ggoodman/f5-conx-go/qkview"
	"github.com/ggoodman/f5-conx-go/releases"
	"github.com/ggoodman/f5-conx-go/storage"
	"github.com/ggoodman/f5-conx-go/storage/memory"
	"github.com/ggoodman/f5-conx-go/storage/redis"
	"github.com/ggoodman/f5-conx-go/transfer"
	"github.com/ggoodman/f5-conx-go/ucs"
	"golang.org/x/sync/errgroup"
)

// DeviceInfo is what the device reports about itself.
type DeviceInfo struct {
	Hostname              string `json:"hostname"`
	Version               string `json:"version"`
	Build                 string `json:"build"`
	Edition               string `json:"edition"`
	Product               string `json:"product"`
	PlatformMarketingName string `json:"platformMarketingName"`
	ManagementAddress     string `json:"managementAddress"`
	MachineID             string `json:"machineId"`
	BaseMac               string `json:"baseMac"`
	RestFrameworkVersion  string `json:"restFrameworkVersion"`
	PhysicalMemory        int64  `json:"physicalMemory"`
}

// IsBIGIQ reports whether the device is a BIG-IQ.
func (d DeviceInfo) IsBIGIQ() bool { return d.Product == "BIG-IQ" }

// F5Client is a connection to one BIG-IP or BIG-IQ. It is safe for
// concurrent use.
type F5Client struct {
	mgmt     *mgmt.Client
	files    *transfer.Client
	follow   *jobs.Follower
	log      *slog.Logger
	ucs      *ucs.Client
	qkview   *qkview.Client
	packages *atc.PackageManager
	releases *releases.Client

	store     storage.Storage
	ownsStore bool

	mu     sync.RWMutex
	device *DeviceInfo
	as3    *atc.AS3
	do     *atc.DO
	ts     *atc.TS
	cf     *atc.CF
	fast   *atc.FAST
}

// New builds an F5Client. No request is sent until the first call; Connect
// discovers the device and its services.
func New(cfg Config, opts ...Option) (*F5Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	h := o.logHandler
	if h == nil && cfg.LogLevel != "" {
		lvl, _ := cfg.level()
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}

	policy := cfg.Policy()
	policy.TickInterval = o.tickInterval
	mc, err := mgmt.NewClient(mgmt.Config{
		Host:       cfg.Host,
		Port:       cfg.Port,
		User:       cfg.User,
		Password:   cfg.Password,
		Provider:   cfg.Provider,
		Policy:     policy,
		HTTPClient: o.httpClient,
		Events:     o.events,
		LogHandler: h,
	})
	if err != nil {
		return nil, err
	}
	log := mc.Logger()

	c := &F5Client{mgmt: mc, log: log}
	if err := c.openStore(cfg, o); err != nil {
		_ = mc.Close()
		return nil, err
	}

	jobOpts := []jobs.Option{jobs.WithLogger(log)}
	if o.schedule != nil {
		jobOpts = append(jobOpts, jobs.WithSchedule(o.schedule))
	}
	c.follow = jobs.New(mc, jobOpts...).With(o.classifiers...)
	c.files = transfer.New(mc, mc.Policy(), log)
	c.ucs = ucs.New(mc, c.follow, c.files, log)
	c.qkview = qkview.New(mc, c.follow, c.files, log)
	c.packages = atc.NewPackageManager(mc, c.follow, c.files, log)

	c.releases, err = releases.New(releases.Config{FeedURL: o.feedURL, Store: c.store, Logger: log})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewFromEnv builds an F5Client from LoadConfig.
func NewFromEnv(opts ...Option) (*F5Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

func (c *F5Client) openStore(cfg Config, o options) error {
	switch {
	case o.store != nil:
		c.store = o.store
		return nil
	case cfg.Cache != "":
		ctx, cancel := context.WithTimeout(context.Background(), c.mgmt.Policy().TCPTimeout)
		defer cancel()
		s, err := redis.NewFromAddr(ctx, cfg.Cache)
		if err != nil {
			return fmt.Errorf("release cache: %w", err)
		}
		c.store, c.ownsStore = s, true
		return nil
	default:
		s, err := memory.New(64)
		if err != nil {
			return err
		}
		c.store, c.ownsStore = s, true
		return nil
	}
}

// Connect logs in, reads the device info and probes every ATC service. A
// service whose info endpoint answers with a non-2xx status is left unset.
func (c *F5Client) Connect(ctx context.Context) (*DeviceInfo, error) {
	ctx = c.mgmt.WithDevice(ctx)
	if _, err := c.mgmt.Session().Token(ctx); err != nil {
		return nil, err
	}

	resp, err := c.mgmt.Get(ctx, mgmt.PathDeviceInfo)
	if err != nil {
		return nil, fmt.Errorf("device info: %w", err)
	}
	var info DeviceInfo
	if err := resp.Decode(&info); err != nil {
		return nil, fmt.Errorf("device info: %w", err)
	}

	var as3, do, ts, cf, fast *atc.Info
	g, gctx := errgroup.WithContext(ctx)
	for path, dst := range map[string]**atc.Info{
		mgmt.PathAS3Info:  &as3,
		mgmt.PathDOInfo:   &do,
		mgmt.PathTSInfo:   &ts,
		mgmt.PathCFInfo:   &cf,
		mgmt.PathFASTInfo: &fast,
	} {
		g.Go(func() error {
			i, err := atc.Probe(gctx, c.mgmt, path)
			if err != nil {
				return fmt.Errorf("probe %s: %w", path, err)
			}
			*dst = i
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.device = &info
	c.as3, c.do, c.ts, c.cf, c.fast = nil, nil, nil, nil, nil
	if as3 != nil {
		c.as3 = atc.NewAS3(c.mgmt, c.follow, *as3)
	}
	if do != nil {
		c.do = atc.NewDO(c.mgmt, c.follow, *do)
	}
	if ts != nil {
		c.ts = atc.NewTS(c.mgmt, c.follow, *ts)
	}
	if cf != nil {
		c.cf = atc.NewCF(c.mgmt, c.follow, *cf)
	}
	if fast != nil {
		c.fast = atc.NewFAST(c.mgmt, c.follow, *fast)
	}

	c.log.InfoContext(ctx, "connected",
		slog.String("product", info.Product),
		slog.String("version", info.Version),
		slog.Bool("as3", as3 != nil),
		slog.Bool("do", do != nil),
		slog.Bool("ts", ts != nil),
		slog.Bool("cf", cf != nil),
		slog.Bool("fast", fast != nil),
	)
	return &info, nil
}

// Device returns the info read by the last Connect, or nil.
func (c *F5Client) Device() *DeviceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// Upload sends a local file to the upload endpoint of kind.
func (c *F5Client) Upload(ctx context.Context, localPath string, kind mgmt.Kind) (*transfer.UploadResult, error) {
	return c.files.Upload(c.mgmt.WithDevice(ctx), localPath, kind)
}

// Download fetches fileName from the download endpoint of kind into dest,
// a file or a directory.
func (c *F5Client) Download(ctx context.Context, fileName, dest string, kind mgmt.Kind) (*transfer.DownloadResult, error) {
	return c.files.Download(c.mgmt.WithDevice(ctx), fileName, dest, kind)
}

// FollowAsync polls a job URL until it completes.
func (c *F5Client) FollowAsync(ctx context.Context, url string) (*jobs.Result, error) {
	return c.follow.Follow(c.mgmt.WithDevice(ctx), url)
}

// Do issues a raw request through the session.
func (c *F5Client) Do(ctx context.Context, req *mgmt.Request) (*mgmt.Response, error) {
	return c.mgmt.Do(c.mgmt.WithDevice(ctx), req)
}

// Clear discards the held token and returns the countdown value it had.
func (c *F5Client) Clear() int {
	return c.mgmt.Session().Invalidate()
}

// Close discards the token and releases the release cache when the client
// opened it.
func (c *F5Client) Close() error {
	err := c.mgmt.Close()
	if c.ownsStore && c.store != nil {
		if cerr := c.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Mgmt returns the underlying request executor.
func (c *F5Client) Mgmt() *mgmt.Client { return c.mgmt }

// AS3 returns the AS3 service, or nil when Connect did not find it.
func (c *F5Client) AS3() *atc.AS3 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.as3
}

// DO returns the Declarative Onboarding service, or nil.
func (c *F5Client) DO() *atc.DO {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.do
}

// TS returns the Telemetry Streaming service, or nil.
func (c *F5Client) TS() *atc.TS {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ts
}

// CF returns the Cloud Failover service, or nil.
func (c *F5Client) CF() *atc.CF {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cf
}

// FAST returns the FAST service, or nil.
func (c *F5Client) FAST() *atc.FAST {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fast
}

// UCS returns the UCS archive manager.
func (c *F5Client) UCS() *ucs.Client { return c.ucs }

// Qkview returns the qkview manager.
func (c *F5Client) Qkview() *qkview.Client { return c.qkview }

// Packages returns the package manager.
func (c *F5Client) Packages() *atc.PackageManager { return c.packages }

// Releases returns the ATC release lookup.
func (c *F5Client) Releases() *releases.Client { return c.releases }
