// Package transfer moves files between the local filesystem and a device
// using the iControl REST content-range protocol.
//
// Uploads POST the file to {uploadBase}/{name} in sequential windows, each
// carrying a "content-range: start-end/total" header. Downloads GET
// {downloadBase}/{name} window by window, learning the total size from the
// first response. Chunks are strictly sequential: each request completes
// before the next one is issued.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/f5-conx-go/internal/logctx"
	"github.com/ggoodman/f5-conx-go/mgmt"
)

// IntegrityError reports a download whose size on disk differs from the size
// the device announced.
type IntegrityError struct {
	Path string
	Want int64
	Got  int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("download %s: %d bytes on disk, device reported %d", e.Path, e.Got, e.Want)
}

// UploadInfo is the device's account of an upload in progress.
type UploadInfo struct {
	RemainingByteCount int64            `json:"remainingByteCount"`
	UsedChunks         map[string]int64 `json:"usedChunks"`
	TotalByteCount     int64            `json:"totalByteCount"`
	LocalFilePath      string           `json:"localFilePath"`
	TemporaryFilePath  string           `json:"temporaryFilePath"`
	Generation         int64            `json:"generation"`
	LastUpdateMicros   int64            `json:"lastUpdateMicros"`
}

// UploadResult is the last response of an upload, annotated with the file
// that was sent.
type UploadResult struct {
	*mgmt.Response
	FileName string
	Bytes    int64
	Requests int
	// Info is decoded from the last response when the device sent one.
	Info *UploadInfo
}

// DownloadResult is the last response of a download, annotated with where
// the file was written.
type DownloadResult struct {
	*mgmt.Response
	FileName string
	Path     string
	Bytes    int64
	Requests int
}

// Client runs transfers through a request executor.
type Client struct {
	doer   mgmt.Doer
	policy mgmt.Policy
	log    *slog.Logger
}

// New returns a Client. Zero chunk sizes in policy fall back to the
// defaults. A nil log discards output.
func New(doer mgmt.Doer, policy mgmt.Policy, log *slog.Logger) *Client {
	def := mgmt.DefaultPolicy()
	if policy.UploadChunkSize <= 0 {
		policy.UploadChunkSize = def.UploadChunkSize
	}
	if policy.AltUploadChunkSize <= 0 {
		policy.AltUploadChunkSize = def.AltUploadChunkSize
	}
	if policy.DownloadChunkSize <= 0 {
		policy.DownloadChunkSize = def.DownloadChunkSize
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{doer: doer, policy: policy, log: log}
}

// Upload sends the file at localPath to the upload endpoint for kind, using
// the chunk size the policy assigns to that kind.
func (c *Client) Upload(ctx context.Context, localPath string, kind mgmt.Kind) (*UploadResult, error) {
	base, err := mgmt.UploadPath(kind)
	if err != nil {
		return nil, err
	}
	return c.UploadTo(ctx, localPath, base, c.policy.UploadChunkFor(kind))
}

// UploadTo sends the file at localPath to {base}/{file name} in windows of
// chunk bytes.
func (c *Client) UploadTo(ctx context.Context, localPath, base string, chunk int64) (*UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", localPath)
	}

	name := filepath.Base(localPath)
	ranges, err := UploadRanges(st.Size(), chunk)
	if err != nil {
		return nil, err
	}
	uri := strings.TrimSuffix(base, "/") + "/" + name
	ctx = logctx.WithTransferData(ctx, &logctx.TransferData{File: name, Direction: "upload"})
	c.log.InfoContext(ctx, "upload.start", slog.Int64("size", st.Size()), slog.Int("chunks", len(ranges)))
	start := time.Now()

	var last *mgmt.Response
	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := r.Len()
		var body io.Reader = http.NoBody
		if n > 0 {
			body = io.NewSectionReader(f, r.Start, n)
		}
		resp, err := c.doer.Do(ctx, &mgmt.Request{
			Method: http.MethodPost,
			URI:    uri,
			Header: http.Header{
				"Content-Type":  {"application/octet-stream"},
				"Content-Range": {r.String()},
			},
			Body:          body,
			ContentLength: n,
		})
		if err != nil {
			c.log.ErrorContext(ctx, "upload.chunk_failed", slog.String("range", r.String()), slog.String("err", err.Error()))
			return nil, fmt.Errorf("upload %s range %s: %w", name, r, err)
		}
		c.log.DebugContext(ctx, "upload.chunk", slog.String("range", r.String()))
		last = resp
	}

	res := &UploadResult{
		Response: last,
		FileName: name,
		Bytes:    st.Size(),
		Requests: len(ranges),
	}
	if last.IsJSON() {
		if info, err := DecodeUploadInfo(last.Body); err == nil {
			res.Info = info
		}
	}
	c.log.InfoContext(ctx, "upload.done", slog.Int64("bytes", res.Bytes), slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// Download fetches fileName from the download endpoint for kind into dest.
// A dest that names a directory, or ends in a path separator, gets fileName
// appended. An empty dest writes into the working directory.
func (c *Client) Download(ctx context.Context, fileName, dest string, kind mgmt.Kind) (*DownloadResult, error) {
	base, err := mgmt.DownloadPath(kind)
	if err != nil {
		return nil, err
	}
	return c.DownloadFrom(ctx, strings.TrimSuffix(base, "/")+"/"+fileName, dest, c.policy.DownloadChunkSize)
}

// DownloadFrom fetches uri window by window into dest. The partial file is
// removed when the download fails or ctx is cancelled.
func (c *Client) DownloadFrom(ctx context.Context, uri, dest string, chunk int64) (res *DownloadResult, err error) {
	if chunk <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunk)
	}
	name := pathBase(uri)
	if name == "" {
		return nil, fmt.Errorf("no file name in %q", uri)
	}
	target, err := resolveDest(dest, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(target)
	if err != nil {
		return nil, err
	}
	cw := &countingWriter{w: f}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(target)
		}
	}()

	ctx = logctx.WithTransferData(ctx, &logctx.TransferData{File: name, Direction: "download"})
	c.log.InfoContext(ctx, "download.start", slog.String("dest", target))
	start := time.Now()

	var (
		last     *mgmt.Response
		total    int64 = -1
		requests int
	)
	for total < 0 || cw.n < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		window := "0-" + strconv.FormatInt(chunk, 10) + "/0"
		if total >= 0 {
			window = nextDownloadWindow(cw.n, total, chunk).String()
		}
		before := cw.n

		resp, err := c.doer.Do(ctx, &mgmt.Request{
			Method: http.MethodGet,
			URI:    uri,
			Header: http.Header{"Content-Range": {window}},
			Sink:   cw,
		})
		if err != nil {
			c.log.ErrorContext(ctx, "download.chunk_failed", slog.String("range", window), slog.String("err", err.Error()))
			return nil, fmt.Errorf("download %s range %s: %w", name, window, err)
		}
		requests++
		last = resp

		cr := resp.Header.Get("Content-Range")
		if cr == "" {
			// Served whole, without a window.
			if total < 0 {
				total = cw.n
			}
		} else {
			r, err := ParseContentRange(cr)
			if err != nil {
				return nil, err
			}
			if r.Start != before {
				return nil, fmt.Errorf("%w: got %s after %d bytes", ErrInvalidRange, cr, before)
			}
			total = r.Total
		}
		c.log.DebugContext(ctx, "download.chunk", slog.String("range", cr), slog.Int64("bytes", resp.Written))

		if cw.n < total && cw.n == before {
			return nil, fmt.Errorf("download %s: no data for range %s", name, window)
		}
	}

	if err := f.Close(); err != nil {
		return nil, err
	}
	st, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if st.Size() != total {
		return nil, &IntegrityError{Path: target, Want: total, Got: st.Size()}
	}

	c.log.InfoContext(ctx, "download.done", slog.Int64("bytes", cw.n), slog.Duration("elapsed", time.Since(start)))
	return &DownloadResult{
		Response: last,
		FileName: name,
		Path:     target,
		Bytes:    cw.n,
		Requests: requests,
	}, nil
}

// DecodeUploadInfo parses an upload response body.
func DecodeUploadInfo(body []byte) (*UploadInfo, error) {
	var info UploadInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func resolveDest(dest, name string) (string, error) {
	if dest == "" {
		return name, nil
	}
	if strings.HasSuffix(dest, string(filepath.Separator)) || strings.HasSuffix(dest, "/") {
		return filepath.Join(dest, name), nil
	}
	st, err := os.Stat(dest)
	switch {
	case err == nil && st.IsDir():
		return filepath.Join(dest, name), nil
	case err == nil, errors.Is(err, os.ErrNotExist):
		return dest, nil
	default:
		return "", err
	}
}

func pathBase(uri string) string {
	p, _, _ := strings.Cut(uri, "?")
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
