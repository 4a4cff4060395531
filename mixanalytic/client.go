package mixanalytic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"mix-analyzer-service/config"
	"mix-analyzer-service/metrics"
	"mix-analyzer-service/models"

	"github.com/apex/log"
)

const (
	csrfTokenPath   = "/csrf-token"
	uploadFieldName = "file"
	defaultMimeType = "audio/mpeg"

	defaultTimeout     = 180 * time.Second
	csrfTimeoutCap     = 20 * time.Second
	pollRequestTimeout = 15 * time.Second

	overloadBackoff  = 2 * time.Second
	transientBackoff = 2 * time.Second
	notReadyBackoff  = 3 * time.Second

	maxUploadErrorBody = 4000
)

// visualizationNames are the eight images the remote site renders for every
// upload, usually well before the JSON results land.
var visualizationNames = []string{
	"waveform",
	"spectrogram",
	"spectrum",
	"chromagram",
	"stereo_field",
	"vectorscope",
	"dynamic_range",
	"spatial_field",
}

// Client talks the mixanalytic.com upload/CSRF/polling protocol. The remote
// contract is undocumented and unversioned, so every path and field name it
// relies on lives either in configuration or in this package.
type Client struct {
	baseURL     string
	uploadPath  string
	resultsPath string // contains a {file_id} placeholder
}

// Options controls a single AnalyzeTrack call.
type Options struct {
	// Instrumental marks the upload as an instrumental-only mix.
	Instrumental bool
	// Timeout bounds the result polling phase. Zero means 180s.
	Timeout time.Duration
	// RetryCSRF enables the single token-refresh retry on 401/403.
	RetryCSRF bool
}

// NewClient creates a client for the configured remote host
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:     cfg.MixBaseURL,
		uploadPath:  cfg.MixUploadPath,
		resultsPath: cfg.MixResultsPath,
	}
}

// AnalyzeTrack uploads an audio file to the remote host and returns either
// the full JSON results (immediate or polled) or a visuals-only payload as
// a fallback. Once a file_id has been obtained the call cannot fail:
// polling degradation always resolves to the fallback.
func (c *Client) AnalyzeTrack(fileBytes []byte, filename string, opts Options) (models.AnalysisResult, error) {
	if len(fileBytes) == 0 {
		return nil, inputErr("uploaded file is empty")
	}
	if filename == "" {
		filename = "upload.mp3"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s := newSession()
	defer s.Close()

	csrf, err := c.fetchCSRF(s, minDuration(csrfTimeoutCap, timeout))
	if err != nil {
		return nil, err
	}

	resp, err := c.uploadWithRetry(s, fileBytes, filename, csrf, opts.Instrumental, timeout, opts.RetryCSRF)
	if err != nil {
		return nil, err
	}

	if resp.status != http.StatusOK {
		return nil, upstreamErr(resp.status, "upload failed (%d): %s", resp.status, truncate(string(resp.body), maxUploadErrorBody))
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return nil, protocolErr("upload did not return a JSON object: %s", truncate(string(resp.body), 500))
	}

	// Cached uploads come back with results immediately; no polling.
	if nonEmpty(parsed["results"]) {
		return models.AnalysisResult(parsed), nil
	}

	fileID, _ := parsed["file_id"].(string)
	if fileID == "" {
		return nil, protocolErr("no file_id in upload response: %s", truncate(string(resp.body), 500))
	}

	if results := c.pollResults(s, fileID, timeout); results != nil {
		if _, ok := results["file_id"]; !ok {
			results["file_id"] = fileID
		}
		if _, ok := results["filename"]; !ok {
			results["filename"] = filename
		}
		return results, nil
	}

	// Visuals are usually ready long before the JSON, so degrade to them
	// rather than failing.
	metrics.VisualsFallbackTotal.Inc()
	log.WithFields(log.Fields{
		"file_id":  fileID,
		"filename": filename,
	}).Info("results JSON not ready in time, returning visuals fallback")
	return c.visualsFallback(fileID, filename), nil
}

// fetchCSRF fetches the anti-forgery token. The remote has answered with
// both csrf_token and csrfToken over time; accept either. The token is also
// stashed as a session header because some backends expect it echoed on
// upload.
func (c *Client) fetchCSRF(s *session, timeout time.Duration) (string, error) {
	resp, err := s.do(http.MethodGet, c.baseURL+csrfTokenPath, map[string]string{"Accept": "application/json"}, nil, timeout)
	if err != nil {
		return "", requestErr(err, "csrf token fetch failed: %v", err)
	}
	if resp.status < 200 || resp.status >= 300 {
		return "", upstreamErr(resp.status, "csrf token fetch returned %d", resp.status)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(resp.body, &data); err != nil {
		return "", protocolErr("could not parse CSRF response as JSON: %s", truncate(string(resp.body), 300))
	}

	token, _ := data["csrf_token"].(string)
	if token == "" {
		token, _ = data["csrfToken"].(string)
	}
	if token == "" {
		return "", protocolErr("could not fetch CSRF token: payload keys=%v", sortedKeys(data))
	}

	s.headers["X-CSRFToken"] = token
	return token, nil
}

// postHeaders mimic the site's own AJAX upload: Origin/Referer, the XHR
// marker and the CSRF token echo.
func (c *Client) postHeaders(csrf string) map[string]string {
	return map[string]string{
		"Origin":           c.baseURL,
		"Referer":          c.baseURL + "/",
		"X-Requested-With": "XMLHttpRequest",
		"X-CSRFToken":      csrf,
		"Accept":           "application/json, text/plain, */*",
	}
}

// uploadWithRetry POSTs the multipart upload. On 401/403 the token may have
// rotated: refresh it once and re-POST, swallowing any failure during the
// refresh so the original response stands. Independently, an overload
// status gets one brief backoff and re-POST. At most one retry per
// condition, never a loop.
func (c *Client) uploadWithRetry(s *session, fileBytes []byte, filename, csrf string, instrumental bool, timeout time.Duration, retryCSRF bool) (*response, error) {
	uploadURL := c.baseURL + c.uploadPath
	token := csrf

	post := func() (*response, error) {
		body, contentType, err := uploadBody(filename, fileBytes, token, instrumental)
		if err != nil {
			return nil, requestErr(err, "building upload body: %v", err)
		}
		headers := c.postHeaders(token)
		headers["Content-Type"] = contentType
		resp, err := s.do(http.MethodPost, uploadURL, headers, body, timeout)
		if err != nil {
			return nil, requestErr(err, "upload request failed: %v", err)
		}
		return resp, nil
	}

	resp, err := post()
	if err != nil {
		return nil, err
	}

	if (resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden) && retryCSRF {
		if fresh, ferr := c.fetchCSRF(s, minDuration(csrfTimeoutCap, timeout)); ferr == nil {
			metrics.UploadRetriesTotal.WithLabelValues("csrf_refresh").Inc()
			log.Warnf("upload rejected with %d, retrying with refreshed CSRF token", resp.status)
			token = fresh
			if retried, rerr := post(); rerr == nil {
				resp = retried
			}
		}
	}

	switch resp.status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		metrics.UploadRetriesTotal.WithLabelValues("overload").Inc()
		log.Warnf("upload returned %d, backing off %s before retry", resp.status, overloadBackoff)
		time.Sleep(overloadBackoff)
		retried, rerr := post()
		if rerr != nil {
			return nil, rerr
		}
		resp = retried
	}

	return resp, nil
}

// pollResults polls the deterministic results URL until the JSON shows up
// or the wall-clock timeout elapses. It never fails: transport errors and
// unexpected statuses just mean "not ready yet".
func (c *Client) pollResults(s *session, fileID string, timeout time.Duration) models.AnalysisResult {
	jsonURL := c.baseURL + strings.Replace(c.resultsPath, "{file_id}", fileID, 1)

	start := time.Now()
	for time.Since(start) < timeout {
		metrics.PollAttemptsTotal.Inc()
		resp, err := s.do(http.MethodGet, jsonURL, nil, nil, pollRequestTimeout)
		if err != nil {
			time.Sleep(transientBackoff)
			continue
		}

		switch {
		case resp.status == http.StatusOK:
			if strings.HasPrefix(resp.header.Get("Content-Type"), "application/json") {
				var out models.AnalysisResult
				if err := json.Unmarshal(resp.body, &out); err == nil && out != nil {
					return out
				}
				time.Sleep(transientBackoff)
			}
		case resp.status == http.StatusNotFound || resp.status == http.StatusForbidden:
			// Job not yet ready or not yet authorized.
			time.Sleep(notReadyBackoff)
		default:
			time.Sleep(transientBackoff)
		}
	}
	return nil
}

func (c *Client) visualsFallback(fileID, filename string) models.AnalysisResult {
	static := fmt.Sprintf("%s/static/uploads/%s", c.baseURL, fileID)
	visuals := make(map[string]interface{}, len(visualizationNames))
	for _, name := range visualizationNames {
		visuals[name] = fmt.Sprintf("%s/%s.png", static, name)
	}
	return models.AnalysisResult{
		"file_id":        fileID,
		"filename":       filename,
		"status":         "visuals_ready_only",
		"visualizations": visuals,
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, `\"`)

// uploadBody builds the multipart form the site's own uploader sends. The
// instrumental flag goes out under both key names the backend has been seen
// accepting.
func uploadBody(filename string, fileBytes []byte, csrf string, instrumental bool) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadFieldName, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", guessMimeType(filename))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(fileBytes); err != nil {
		return nil, "", fmt.Errorf("failed to copy file data: %w", err)
	}

	flag := strconv.FormatBool(instrumental)
	for _, field := range []struct{ k, v string }{
		{"csrf_token", csrf},
		{"is_instrumental", flag},
		{"instrumental", flag},
	} {
		if err := w.WriteField(field.k, field.v); err != nil {
			return nil, "", fmt.Errorf("failed to write %s field: %w", field.k, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func guessMimeType(filename string) string {
	if mt := mime.TypeByExtension(filepath.Ext(filename)); mt != "" {
		return mt
	}
	return defaultMimeType
}

// nonEmpty reports whether a decoded JSON value counts as a present,
// non-empty results field.
func nonEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// truncate cuts s to at most max bytes, backing up to a rune boundary so
// the appended ellipsis never follows a broken character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
