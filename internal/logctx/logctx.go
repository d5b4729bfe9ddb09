package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the device, request and transfer data
// carried by the record's context.
type Handler struct {
	slog.Handler
}

// NewLogger wraps h in a Handler. A nil h discards everything.
func NewLogger(h slog.Handler) *slog.Logger {
	if h == nil {
		h = slog.DiscardHandler
	}
	return slog.New(Handler{Handler: h})
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if dd, ok := ctx.Value(deviceDataKey{}).(*DeviceData); ok {
		r.AddAttrs(slog.Group("device",
			slog.String("host", dd.Host),
			slog.String("user", dd.User),
		))
	}

	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.ID),
			slog.String("method", rd.Method),
			slog.String("uri", rd.URI),
		))
	}

	if td, ok := ctx.Value(transferDataKey{}).(*TransferData); ok {
		r.AddAttrs(slog.Group("xfer",
			slog.String("file", td.File),
			slog.String("direction", td.Direction),
		))
	}

	if jd, ok := ctx.Value(jobDataKey{}).(*JobData); ok {
		r.AddAttrs(slog.Group("job",
			slog.String("url", jd.URL),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type deviceDataKey struct{}

type DeviceData struct {
	Host string
	User string
}

func WithDeviceData(ctx context.Context, data *DeviceData) context.Context {
	return context.WithValue(ctx, deviceDataKey{}, data)
}

type requestDataKey struct{}

type RequestData struct {
	ID     string
	Method string
	URI    string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type transferDataKey struct{}

type TransferData struct {
	File      string
	Direction string
}

func WithTransferData(ctx context.Context, data *TransferData) context.Context {
	return context.WithValue(ctx, transferDataKey{}, data)
}

type jobDataKey struct{}

type JobData struct {
	URL string
}

func WithJobData(ctx context.Context, data *JobData) context.Context {
	return context.WithValue(ctx, jobDataKey{}, data)
}
