package mixanalytic

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// baseHeaders are the browser-ish defaults applied to every request in a
// session: CSRF fetch, upload and polling alike. Keep-Alive helps with some
// CDNs.
var baseHeaders = map[string]string{
	"User-Agent":      "MixAnalyzerService/1.0 (+go; gin client)",
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "en-GB,en;q=0.9",
	"Connection":      "keep-alive",
}

// session carries cookies and default headers across the multi-step remote
// protocol. One session per analyze call; never shared or pooled across
// requests.
type session struct {
	http    *http.Client
	headers map[string]string
}

func newSession() *session {
	jar, _ := cookiejar.New(nil)
	s := &session{
		http:    &http.Client{Jar: jar},
		headers: make(map[string]string, len(baseHeaders)),
	}
	for k, v := range baseHeaders {
		s.headers[k] = v
	}
	return s
}

// response is a fully-read remote reply. Every step of the protocol needs
// the whole body, so the session drains it eagerly and the connection can
// go back to the pool.
type response struct {
	status int
	header http.Header
	body   []byte
}

// do executes one request bounded by timeout, applying the session default
// headers first and per-request headers on top.
func (s *session) do(method, url string, headers map[string]string, body io.Reader, timeout time.Duration) (*response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: b}, nil
}

// Close releases the session's idle connections. Runs on every exit path
// of an analyze call.
func (s *session) Close() {
	s.http.CloseIdleConnections()
}
