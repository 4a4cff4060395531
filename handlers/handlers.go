package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"mix-analyzer-service/config"
	"mix-analyzer-service/metrics"
	"mix-analyzer-service/middleware"
	"mix-analyzer-service/mixanalytic"
	"mix-analyzer-service/models"
	"mix-analyzer-service/version"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// AnalyzeHandler serves the upload relay endpoints
type AnalyzeHandler struct {
	config *config.Config
	client *mixanalytic.Client
}

func NewAnalyzeHandler(cfg *config.Config, client *mixanalytic.Client) *AnalyzeHandler {
	return &AnalyzeHandler{
		config: cfg,
		client: client,
	}
}

// HealthCheck reports liveness and the configured remote host. It never
// touches the remote, so it succeeds regardless of its reachability.
func (h *AnalyzeHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"base": h.config.MixBaseURL,
	})
}

// Version returns build information
func (h *AnalyzeHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get("mix-analyzer-service"))
}

// Analyze receives a multipart audio upload and relays it to the remote
// analysis site. It returns either full JSON results or a visuals-only
// payload as a fallback; every client failure becomes a 500 carrying the
// error kind and message.
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	start := time.Now()
	reqLog := log.WithField("request_id", c.GetString(middleware.RequestIDKey))

	fh, err := c.FormFile("song")
	if err != nil {
		reqLog.Warnf("missing song upload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "song file is required"})
		return
	}

	instrumental := false
	if raw := c.PostForm("instrumental"); raw != "" {
		instrumental, err = strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "instrumental must be a boolean"})
			return
		}
	}

	timeoutSeconds := h.config.DefaultTimeoutSeconds
	if raw := c.PostForm("timeout"); raw != "" {
		timeoutSeconds, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout must be an integer number of seconds"})
			return
		}
	}

	audio, err := readUpload(fh)
	if err != nil {
		reqLog.Errorf("failed to read upload: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Detail: mixanalytic.Detail(err)})
		return
	}

	reqLog.WithFields(log.Fields{
		"filename":     fh.Filename,
		"size":         len(audio),
		"instrumental": instrumental,
		"timeout":      timeoutSeconds,
	}).Info("analyze.request")

	result, err := h.client.AnalyzeTrack(audio, fh.Filename, mixanalytic.Options{
		Instrumental: instrumental,
		Timeout:      time.Duration(timeoutSeconds) * time.Second,
		RetryCSRF:    true,
	})
	if err != nil {
		metrics.AnalyzeRequestsTotal.WithLabelValues("error").Inc()
		metrics.AnalyzeDurationSeconds.WithLabelValues("error").Observe(time.Since(start).Seconds())
		reqLog.WithError(err).Error("analyze.failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Detail: mixanalytic.Detail(err)})
		return
	}

	metrics.AnalyzeRequestsTotal.WithLabelValues("ok").Inc()
	metrics.AnalyzeDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	reqLog.WithField("duration", time.Since(start).String()).Info("analyze.success")
	c.JSON(http.StatusOK, result)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
