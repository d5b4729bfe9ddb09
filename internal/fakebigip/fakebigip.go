// Package fakebigip is an in-process stand-in for the iControl REST surface
// used by this module's tests: login, token checks, the chunked
// file-transfer endpoints and scripted job endpoints.
package fakebigip

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

const (
	loginPath   = "/mgmt/shared/authn/login"
	tokenHeader = "X-F5-Auth-Token"
)

var uploadBases = []string{
	"/mgmt/shared/file-transfer/uploads",
	"/mgmt/shared/file-transfer/ucs-uploads",
	"/mgmt/cm/autodeploy/software-image-uploads",
}

var downloadBases = []string{
	"/mgmt/shared/file-transfer/downloads",
	"/mgmt/shared/file-transfer/ucs-downloads",
	"/mgmt/cm/autodeploy/qkview-downloads",
	"/mgmt/cm/autodeploy/software-image-downloads",
}

// AuthFailedBody is the body the device sends with a 401.
const AuthFailedBody = `{"code":401,"message":"Authentication failed.","errorStack":[],"apiError":1}`

// Options configures a Device.
type Options struct {
	User     string // default "admin"
	Password string // default "admin"
	// Timeout is reported as token.timeout. Default 1200.
	Timeout int
	// LoginDelay holds every login response back by this long.
	LoginDelay time.Duration
}

// Call is one request observed by the device.
type Call struct {
	Method string
	Path   string
	Header http.Header
	Length int64
}

// Reply is a canned response.
type Reply struct {
	Status int
	Header http.Header
	Body   any // []byte and string are sent as is, everything else as JSON
}

// Device is a fake BIG-IP served over httptest.
type Device struct {
	Server *httptest.Server

	opts Options

	mu       sync.Mutex
	tokens   map[string]bool
	logins   int
	calls    []Call
	files    map[string][]byte
	uploads  map[string][]string
	scripts  map[string][]Reply
	hits     map[string]int
	handlers map[string]http.HandlerFunc
}

// New starts a Device that is shut down when t finishes.
func New(t testing.TB, opts Options) *Device {
	t.Helper()
	if opts.User == "" {
		opts.User = "admin"
	}
	if opts.Password == "" {
		opts.Password = "admin"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 1200
	}
	d := &Device{
		opts:     opts,
		tokens:   map[string]bool{},
		files:    map[string][]byte{},
		uploads:  map[string][]string{},
		scripts:  map[string][]Reply{},
		hits:     map[string]int{},
		handlers: map[string]http.HandlerFunc{},
	}
	d.Server = httptest.NewServer(http.HandlerFunc(d.serveHTTP))
	t.Cleanup(d.Server.Close)
	return d
}

// URL returns the base URL of the device.
func (d *Device) URL() string { return d.Server.URL }

// Logins returns the number of successful logins.
func (d *Device) Logins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logins
}

// Calls returns every request received, logins included.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Hits returns how often method+path was served.
func (d *Device) Hits(method, p string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits[method+" "+p]
}

// RevokeAll invalidates every issued token, as a device restart would.
func (d *Device) RevokeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = map[string]bool{}
}

// Valid reports whether token is currently accepted.
func (d *Device) Valid(token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tokens[token]
}

// PutFile makes data downloadable as name from every download endpoint.
func (d *Device) PutFile(name string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[name] = append([]byte(nil), data...)
}

// File returns the content stored under name.
func (d *Device) File(name string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.files[name]
	return append([]byte(nil), b...), ok
}

// UploadRanges returns the content-range headers received for name, in order.
func (d *Device) UploadRanges(name string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.uploads[name]...)
}

// Script queues replies for method+path. Each request consumes one reply;
// the last one repeats.
func (d *Device) Script(method, p string, replies ...Reply) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[method+" "+p] = append([]Reply(nil), replies...)
}

// Handle routes method+path to h. Handlers see only authenticated requests.
func (d *Device) Handle(method, p string, h http.HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method+" "+p] = h
}

func (d *Device) serveHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	d.mu.Lock()
	d.calls = append(d.calls, Call{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Length: r.ContentLength})
	d.hits[key]++
	d.mu.Unlock()

	if r.Method == http.MethodPost && r.URL.Path == loginPath {
		d.login(w, r)
		return
	}

	if !d.Valid(r.Header.Get(tokenHeader)) {
		writeRaw(w, http.StatusUnauthorized, "application/json", []byte(AuthFailedBody))
		return
	}

	d.mu.Lock()
	h := d.handlers[key]
	reply, scripted := d.nextReplyLocked(key)
	d.mu.Unlock()

	switch {
	case h != nil:
		h(w, r)
		return
	case scripted:
		writeReply(w, reply)
		return
	}

	if r.Method == http.MethodPost {
		for _, base := range uploadBases {
			if name, ok := under(base, r.URL.Path); ok {
				d.upload(w, r, name)
				return
			}
		}
	}
	if r.Method == http.MethodGet {
		for _, base := range downloadBases {
			if name, ok := under(base, r.URL.Path); ok {
				d.download(w, r, name)
				return
			}
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]any{
		"code":    404,
		"message": fmt.Sprintf("URI path %s not registered", r.URL.Path),
	})
}

func (d *Device) nextReplyLocked(key string) (Reply, bool) {
	q := d.scripts[key]
	if len(q) == 0 {
		return Reply{}, false
	}
	r := q[0]
	if len(q) > 1 {
		d.scripts[key] = q[1:]
	}
	return r, true
}

func (d *Device) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username          string `json:"username"`
		Password          string `json:"password"`
		LoginProviderName string `json:"loginProviderName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "message": err.Error()})
		return
	}
	if d.opts.LoginDelay > 0 {
		time.Sleep(d.opts.LoginDelay)
	}
	if body.Username != d.opts.User || body.Password != d.opts.Password {
		writeRaw(w, http.StatusUnauthorized, "application/json", []byte(AuthFailedBody))
		return
	}

	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	d.mu.Lock()
	d.tokens[token] = true
	d.logins++
	d.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"username":       body.Username,
		"loginReference": map[string]any{"link": "https://localhost/mgmt/cm/system/authn/providers/tmos/1f44a60e/login"},
		"token": map[string]any{
			"token":            token,
			"name":             token,
			"userName":         body.Username,
			"authProviderName": body.LoginProviderName,
			"timeout":          d.opts.Timeout,
			"selfLink":         "https://localhost/mgmt/shared/authz/tokens/" + token,
		},
	})
}

func (d *Device) upload(w http.ResponseWriter, r *http.Request, name string) {
	cr := r.Header.Get("Content-Range")
	start, end, total, err := parseRange(cr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "message": err.Error()})
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "message": err.Error()})
		return
	}
	if total > 0 && int64(len(data)) != end-start+1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":    400,
			"message": fmt.Sprintf("content-range %s does not match %d body bytes", cr, len(data)),
		})
		return
	}

	d.mu.Lock()
	cur := d.files[name]
	if start == 0 {
		cur = nil
	}
	if int64(len(cur)) != start {
		d.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "message": "chunk out of order"})
		return
	}
	d.files[name] = append(cur, data...)
	d.uploads[name] = append(d.uploads[name], cr)
	have := int64(len(d.files[name]))
	d.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"remainingByteCount": total - have,
		"usedChunks":         map[string]any{strconv.FormatInt(start, 10): len(data)},
		"totalByteCount":     total,
		"localFilePath":      "/var/config/rest/downloads/" + name,
		"temporaryFilePath":  "/var/config/rest/downloads/tmp/" + name,
		"generation":         0,
		"lastUpdateMicros":   time.Now().UnixMicro(),
	})
}

func (d *Device) download(w http.ResponseWriter, r *http.Request, name string) {
	data, ok := d.File(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "message": "file not found: " + name})
		return
	}
	start, end, _, err := parseRange(r.Header.Get("Content-Range"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "message": err.Error()})
		return
	}
	size := int64(len(data))
	if size == 0 {
		w.Header().Set("Content-Range", "0-0/0")
		writeRaw(w, http.StatusOK, "application/octet-stream", nil)
		return
	}
	if start >= size {
		writeJSON(w, http.StatusRequestedRangeNotSatisfiable, map[string]any{"code": 416, "message": "range not satisfiable"})
		return
	}
	end = min(end, size-1)
	w.Header().Set("Content-Range", fmt.Sprintf("%d-%d/%d", start, end, size))
	writeRaw(w, http.StatusPartialContent, "application/octet-stream", data[start:end+1])
}

func under(base, p string) (string, bool) {
	rest, ok := strings.CutPrefix(p, base+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return path.Base(rest), true
}

func parseRange(v string) (start, end, total int64, err error) {
	span, size, ok := strings.Cut(v, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed content-range %q", v)
	}
	s, e, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed content-range %q", v)
	}
	if start, err = strconv.ParseInt(s, 10, 64); err != nil {
		return 0, 0, 0, err
	}
	if end, err = strconv.ParseInt(e, 10, 64); err != nil {
		return 0, 0, 0, err
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, err
	}
	return start, end, total, nil
}

func writeReply(w http.ResponseWriter, r Reply) {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	switch b := r.Body.(type) {
	case nil:
		w.WriteHeader(status)
	case []byte:
		writeRaw(w, status, "application/octet-stream", b)
	case string:
		writeRaw(w, status, "text/plain", []byte(b))
	default:
		writeJSON(w, status, b)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, "application/json; charset=UTF-8", data)
}

func writeRaw(w http.ResponseWriter, status int, contentType string, data []byte) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
