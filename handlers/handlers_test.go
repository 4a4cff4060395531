package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"mix-analyzer-service/config"
	"mix-analyzer-service/mixanalytic"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(cfg *config.Config) *AnalyzeHandler {
	gin.SetMode(gin.TestMode)
	return NewAnalyzeHandler(cfg, mixanalytic.NewClient(cfg))
}

// multipartRequest builds a POST /analyze body with a song file and extra
// form fields.
func multipartRequest(t *testing.T, filename string, audio []byte, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile("song", filename)
		require.NoError(t, err)
		_, err = part.Write(audio)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/analyze", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealthCheck(t *testing.T) {
	cfg := &config.Config{MixBaseURL: "https://mixanalytic.com"}
	handler := newTestHandler(cfg)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health", nil)

	handler.HealthCheck(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "https://mixanalytic.com", body["base"])
}

func TestVersion(t *testing.T) {
	handler := newTestHandler(&config.Config{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/version", nil)

	handler.Version(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mix-analyzer-service")
}

func TestAnalyze_MissingFile(t *testing.T) {
	handler := newTestHandler(&config.Config{DefaultTimeoutSeconds: 180})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartRequest(t, "", nil, map[string]string{"instrumental": "false"})

	handler.Analyze(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze_EmptyFile(t *testing.T) {
	handler := newTestHandler(&config.Config{
		MixBaseURL:            "http://127.0.0.1:1", // must never be contacted
		DefaultTimeoutSeconds: 180,
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartRequest(t, "song.mp3", nil, nil)

	handler.Analyze(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "InputError: uploaded file is empty", body["detail"])
}

func TestAnalyze_InvalidTimeout(t *testing.T) {
	handler := newTestHandler(&config.Config{DefaultTimeoutSeconds: 180})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartRequest(t, "song.mp3", []byte("audio"), map[string]string{"timeout": "soon"})

	handler.Analyze(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze_InvalidInstrumental(t *testing.T) {
	handler := newTestHandler(&config.Config{DefaultTimeoutSeconds: 180})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartRequest(t, "song.mp3", []byte("audio"), map[string]string{"instrumental": "maybe"})

	handler.Analyze(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze_RelaysCachedResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/csrf-token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"csrf_token":"tok"}`))
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"file_id":"f9","results":{"bpm":120}}`))
	})
	remote := httptest.NewServer(mux)
	defer remote.Close()

	handler := newTestHandler(&config.Config{
		MixBaseURL:            remote.URL,
		MixUploadPath:         "/upload",
		MixResultsPath:        "/api/results/{file_id}.json",
		DefaultTimeoutSeconds: 180,
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartRequest(t, "song.mp3", []byte("audio"), map[string]string{"instrumental": "true"})

	handler.Analyze(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "f9", body["file_id"])
	results, ok := body["results"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(120), results["bpm"])
}

func TestAnalyze_UpstreamFailureBecomes500(t *testing.T) {
	handler := newTestHandler(&config.Config{
		MixBaseURL:            "http://127.0.0.1:1", // nothing listening
		MixUploadPath:         "/upload",
		MixResultsPath:        "/api/results/{file_id}.json",
		DefaultTimeoutSeconds: 180,
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartRequest(t, "song.mp3", []byte("audio"), nil)

	handler.Analyze(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["detail"], "RequestError:")
}
