package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Request describes one call to the device.
type Request struct {
	Method string
	// URI is a path relative to the device base URL. Absolute URLs, such as
	// selfLinks that name "localhost", are re-targeted at the device.
	URI    string
	Header http.Header

	// Body is sent as is. When nil and JSON is set, JSON is marshalled and
	// sent with an application/json content type.
	Body          io.Reader
	ContentLength int64
	JSON          any

	// Sink, when set, receives the body of a successful response instead of
	// it being buffered in Response.Body.
	Sink io.Writer
}

// Response is a fully resolved device response.
type Response struct {
	ID       string
	Method   string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Written  int64 // bytes copied to Request.Sink
	Duration time.Duration
}

// ErrEmptyBody is returned by Decode when the response has no body.
var ErrEmptyBody = errors.New("response has no body")

// IsJSON reports whether the response declares a JSON media type.
func (r *Response) IsJSON() bool {
	mt := contenttype.NewMediaType(r.Header.Get("Content-Type"))
	return mt.Matches(jsonMediaType)
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return ErrEmptyBody
	}
	return json.Unmarshal(r.Body, v)
}

// Map decodes a JSON object body. Non-JSON or empty bodies yield nil.
func (r *Response) Map() map[string]any {
	if len(r.Body) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(r.Body, &m); err != nil {
		return nil
	}
	return m
}

// Call issues a single request through d. A non-nil body is sent as JSON.
func Call(ctx context.Context, d Doer, method, uri string, body any) (*Response, error) {
	return d.Do(ctx, &Request{Method: method, URI: uri, JSON: body})
}
