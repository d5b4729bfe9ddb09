package f5conx

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/f5-conx-go/mgmt"
	"github.com/joeshaw/envdecode"
)

// Config describes one device connection. Every field can be loaded from
// the environment with LoadConfig.
type Config struct {
	// Host is a hostname or address, optionally with a port. ENV: F5_HOST
	Host string `env:"F5_HOST"`
	// Port is used when Host carries none. ENV: F5_PORT
	Port int `env:"F5_PORT,default=443"`
	// ENV: F5_USER
	User string `env:"F5_USER"`
	// ENV: F5_PASS
	Password string `env:"F5_PASS"`
	// Provider is the login provider. ENV: F5_PROVIDER
	Provider string `env:"F5_PROVIDER,default=tmos"`

	// ENV: F5_CONX_CORE_TCP_TIMEOUT
	TCPTimeout time.Duration `env:"F5_CONX_CORE_TCP_TIMEOUT,default=10s"`
	// ENV: F5_CONX_CORE_REJECT_UNAUTHORIZED
	RejectUnauthorized bool `env:"F5_CONX_CORE_REJECT_UNAUTHORIZED,default=false"`
	// ENV: F5_CONX_CORE_TOKEN_THRESHOLD
	TokenThreshold int `env:"F5_CONX_CORE_TOKEN_THRESHOLD,default=10"`
	// ENV: F5_CONX_CORE_UPLOAD_CHUNK
	UploadChunk int64 `env:"F5_CONX_CORE_UPLOAD_CHUNK,default=1048576"`
	// ENV: F5_CONX_CORE_DOWNLOAD_CHUNK
	DownloadChunk int64 `env:"F5_CONX_CORE_DOWNLOAD_CHUNK,default=1048576"`

	// Cache is the address of a redis server for the release cache. When
	// empty an in-memory cache is used. ENV: F5_CONX_CORE_CACHE
	Cache string `env:"F5_CONX_CORE_CACHE"`
	// LogLevel enables text logging to stderr at the given level when no
	// log handler is supplied. ENV: F5_CONX_CORE_LOG_LEVEL
	LogLevel string `env:"F5_CONX_CORE_LOG_LEVEL"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Validate reports missing or out of range settings.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.UploadChunk < 0 || c.DownloadChunk < 0 {
		errs = append(errs, errors.New("chunk sizes must not be negative"))
	}
	if c.LogLevel != "" {
		if _, err := c.level(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Policy returns the connection policy. Zero fields take the defaults of
// mgmt.DefaultPolicy.
func (c Config) Policy() mgmt.Policy {
	return mgmt.Policy{
		TCPTimeout:         c.TCPTimeout,
		RejectUnauthorized: c.RejectUnauthorized,
		TokenThreshold:     c.TokenThreshold,
		UploadChunkSize:    c.UploadChunk,
		DownloadChunkSize:  c.DownloadChunk,
	}
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
