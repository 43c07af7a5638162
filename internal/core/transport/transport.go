package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Default Procare Connect hosts.
const (
	DefaultAuthHost = "https://online-auth.procareconnect.com"
	DefaultAPIHost  = "https://api-school.procareconnect.com"
	DefaultWebHost  = "https://schools.procareconnect.com"
)

// DefaultTimeout bounds every request made through a Session.
const DefaultTimeout = 20 * time.Second

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"

// ErrClosed is returned by Do after the session has been released.
var ErrClosed = errors.New("transport: session closed")

// Hosts groups the three Procare hosts.
// Auth issues tokens, API serves data, Web hosts the browser login page.
type Hosts struct {
	Auth string
	API  string
	Web  string
}

// DefaultHosts returns the production hosts.
func DefaultHosts() Hosts {
	return Hosts{Auth: DefaultAuthHost, API: DefaultAPIHost, Web: DefaultWebHost}
}

// Endpoints holds the resolved URLs the client talks to.
type Endpoints struct {
	WebLogin   string
	Login      string
	Kids       string
	Activities string
}

// EndpointsFor resolves the endpoint URLs for the given hosts.
func EndpointsFor(h Hosts) Endpoints {
	return Endpoints{
		WebLogin:   trimHost(h.Web) + "/login",
		Login:      trimHost(h.Auth) + "/sessions/",
		Kids:       trimHost(h.API) + "/api/web/parent/kids/",
		Activities: trimHost(h.API) + "/api/web/parent/daily_activities/",
	}
}

func trimHost(h string) string {
	return strings.TrimRight(h, "/")
}

// Options configures a Session.
type Options struct {
	Hosts   Hosts
	Timeout time.Duration
	// Client overrides the underlying HTTP client. Its Jar is replaced when nil.
	Client *http.Client
}

// Session is the long-lived network session shared by one configured account.
// It carries cookies across requests and the browser-emulation header set.
type Session struct {
	client    *http.Client
	headers   http.Header
	endpoints Endpoints
	closed    atomic.Bool
	log       *slog.Logger
}

// NewSession creates a session with a cookie jar and a bounded request timeout.
func NewSession(opts Options, log *slog.Logger) (*Session, error) {
	if opts.Hosts == (Hosts{}) {
		opts.Hosts = DefaultHosts()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("transport: cookie jar: %w", err)
		}
		client.Jar = jar
	}
	if client.Timeout == 0 {
		client.Timeout = opts.Timeout
	}

	return &Session{
		client:    client,
		headers:   browserHeaders(opts.Hosts.Web),
		endpoints: EndpointsFor(opts.Hosts),
		log:       log,
	}, nil
}

func browserHeaders(webHost string) http.Header {
	web := trimHost(webHost)
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Origin", web)
	h.Set("Referer", web+"/")
	h.Set("User-Agent", userAgent)
	h.Set("sec-ch-ua", `"Chromium";v="140", "Not=A?Brand";v="24", "Google Chrome";v="140"`)
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-platform", `"Windows"`)
	h.Set("sec-fetch-dest", "empty")
	h.Set("sec-fetch-mode", "cors")
	h.Set("sec-fetch-site", "same-site")
	return h
}

// Headers returns a copy of the base header set.
func (s *Session) Headers() http.Header {
	return s.headers.Clone()
}

// Endpoints returns the resolved endpoint URLs.
func (s *Session) Endpoints() Endpoints {
	return s.endpoints
}

// NewRequest builds a request carrying the given headers.
func (s *Session) NewRequest(ctx context.Context, method, url string, header http.Header, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("transport: new request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = append([]string(nil), v...)
	}
	return req, nil
}

// Do sends a request through the shared client.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.log.Debug("http request", "method", req.Method, "url", req.URL.Redacted())
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

// Close releases the session. Idle connections are dropped and later
// requests fail with ErrClosed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.client.CloseIdleConnections()
	s.log.Debug("network session released")
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
