package f5conx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/f5-conx-go/hooks"
	"github.com/ggoodman/f5-conx-go/jobs"
	"github.com/ggoodman/f5-conx-go/storage"
)

// Option customizes an F5Client.
type Option func(*options)

type options struct {
	logHandler   slog.Handler
	events       hooks.Events
	httpClient   *http.Client
	schedule     jobs.Schedule
	classifiers  []jobs.Classifier
	tickInterval time.Duration
	store        storage.Storage
	feedURL      string
}

// WithLogHandler sets the slog handler. It takes precedence over
// Config.LogLevel.
func WithLogHandler(h slog.Handler) Option {
	return func(o *options) { o.logHandler = h }
}

// WithEvents sets the lifecycle event receiver.
func WithEvents(ev hooks.Events) Option {
	return func(o *options) { o.events = ev }
}

// WithHTTPClient replaces the transport built from the config.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithSchedule replaces the job polling schedule.
func WithSchedule(s jobs.Schedule) Option {
	return func(o *options) { o.schedule = s }
}

// WithClassifiers adds job classifiers ahead of the defaults.
func WithClassifiers(cs ...jobs.Classifier) Option {
	return func(o *options) { o.classifiers = append(o.classifiers, cs...) }
}

// WithTickInterval sets the token countdown period.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.tickInterval = d }
}

// WithReleaseStore sets the release cache. The client does not close it.
func WithReleaseStore(s storage.Storage) Option {
	return func(o *options) { o.store = s }
}

// WithReleaseFeed points release lookups at another feed.
func WithReleaseFeed(url string) Option {
	return func(o *options) { o.feedURL = url }
}
