package mgmt

import "time"

// Policy holds the tunable constants of a device connection.
type Policy struct {
	// TCPTimeout bounds connection establishment and the TLS handshake.
	TCPTimeout time.Duration
	// RejectUnauthorized enables TLS certificate verification. Devices
	// usually present self-signed certificates, so it is off by default.
	RejectUnauthorized bool

	// TokenThreshold is the countdown value at which a token is discarded
	// pre-emptively.
	TokenThreshold int
	// TickInterval is the token countdown period.
	TickInterval time.Duration

	UploadChunkSize int64
	// AltUploadChunkSize is used for software image (ISO) uploads.
	AltUploadChunkSize int64
	DownloadChunkSize  int64
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		TCPTimeout:         10 * time.Second,
		TokenThreshold:     10,
		TickInterval:       time.Second,
		UploadChunkSize:    1 << 20,
		AltUploadChunkSize: 512 << 10,
		DownloadChunkSize:  1 << 20,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.TCPTimeout == 0 {
		p.TCPTimeout = d.TCPTimeout
	}
	if p.TokenThreshold == 0 {
		p.TokenThreshold = d.TokenThreshold
	}
	if p.TickInterval == 0 {
		p.TickInterval = d.TickInterval
	}
	if p.UploadChunkSize == 0 {
		p.UploadChunkSize = d.UploadChunkSize
	}
	if p.AltUploadChunkSize == 0 {
		p.AltUploadChunkSize = d.AltUploadChunkSize
	}
	if p.DownloadChunkSize == 0 {
		p.DownloadChunkSize = d.DownloadChunkSize
	}
	return p
}

// UploadChunkFor returns the upload chunk size for k.
func (p Policy) UploadChunkFor(k Kind) int64 {
	if k == KindISO {
		return p.AltUploadChunkSize
	}
	return p.UploadChunkSize
}
