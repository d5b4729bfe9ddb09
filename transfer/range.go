package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRange is returned for malformed or out-of-sequence content-range
// headers.
var ErrInvalidRange = errors.New("invalid content-range")

// Range is one content-range window. End is inclusive. A zero Total means
// the size is not known yet.
type Range struct {
	Start int64
	End   int64
	Total int64
}

// Len returns the number of bytes covered by r.
func (r Range) Len() int64 {
	if r.Total == 0 && r.End == 0 {
		return 0
	}
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d/%d", r.Start, r.End, r.Total)
}

// ParseContentRange parses "start-end/total", with or without a leading
// "bytes " unit.
func ParseContentRange(v string) (Range, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "bytes "))
	span, size, ok := strings.Cut(raw, "/")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, v)
	}
	s, e, ok := strings.Cut(span, "-")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, v)
	}
	var r Range
	var err error
	if r.Start, err = strconv.ParseInt(s, 10, 64); err != nil {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, v)
	}
	if r.End, err = strconv.ParseInt(e, 10, 64); err != nil {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, v)
	}
	if r.Total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, v)
	}
	if r.Start < 0 || r.End < r.Start || r.Total < 0 {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, v)
	}
	if r.Total > 0 && r.End >= r.Total {
		return Range{}, fmt.Errorf("%w: %q ends past the total", ErrInvalidRange, v)
	}
	if r.Total == 0 && (r.Start != 0 || r.End != 0) {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, v)
	}
	return r, nil
}

// UploadRanges splits a file of total bytes into sequential windows of at
// most chunk bytes. The last window is clamped to the file size. An empty
// file yields the single window 0-0/0.
func UploadRanges(total, chunk int64) ([]Range, error) {
	if chunk <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunk)
	}
	if total < 0 {
		return nil, fmt.Errorf("negative size %d", total)
	}
	if total == 0 {
		return []Range{{}}, nil
	}
	out := make([]Range, 0, (total+chunk-1)/chunk)
	for start := int64(0); start < total; start += chunk {
		out = append(out, Range{Start: start, End: min(start+chunk-1, total-1), Total: total})
	}
	return out, nil
}

// nextDownloadWindow returns the content-range to request once written bytes
// of a total-byte file are on disk.
func nextDownloadWindow(written, total, chunk int64) Range {
	end := written + chunk - 1
	if written+chunk >= total {
		end = total - 1
	}
	return Range{Start: written, End: end, Total: total}
}
