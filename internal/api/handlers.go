package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fmueller/voxserve/internal/intake"
	"github.com/fmueller/voxserve/internal/transcription"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type handlers struct {
	appName string
	version string
	svc     Transcriber
	logger  *zap.Logger
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail"`
	Timestamp string `json:"timestamp"`
}

type HealthResponse struct {
	Status             string   `json:"status"`
	Version            string   `json:"version"`
	ModelLoaded        bool     `json:"model_loaded"`
	Device             string   `json:"device"`
	SupportedLanguages []string `json:"supported_languages"`
}

type ModelInfoResponse struct {
	ModelName          string   `json:"model_name"`
	Engine             string   `json:"engine"`
	Device             string   `json:"device"`
	ComputeType        string   `json:"compute_type"`
	Loaded             bool     `json:"loaded"`
	SupportedLanguages []string `json:"supported_languages"`
}

func (h *handlers) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Welcome to " + h.appName,
		"version": h.version,
		"health":  "/api/v1/speech/health",
		"metrics": "/metrics",
	})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}

func (h *handlers) transcribe(c *gin.Context) {
	up, closeUpload, ok := h.readUpload(c)
	if !ok {
		return
	}
	defer closeUpload()

	res, err := h.svc.Transcribe(c.Request.Context(), up, c.PostForm("language"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) fileInfo(c *gin.Context) {
	up, closeUpload, ok := h.readUpload(c)
	if !ok {
		return
	}
	defer closeUpload()

	info, err := h.svc.FileInfo(c.Request.Context(), up)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handlers) languages(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Languages())
}

func (h *handlers) modelInfo(c *gin.Context) {
	info := h.svc.ModelInfo()
	c.JSON(http.StatusOK, ModelInfoResponse{
		ModelName:          info.Name,
		Engine:             info.Engine,
		Device:             string(info.Device),
		ComputeType:        string(info.ComputeType),
		Loaded:             info.Loaded,
		SupportedLanguages: h.svc.Languages(),
	})
}

func (h *handlers) speechHealth(c *gin.Context) {
	info := h.svc.ModelInfo()
	langs := h.svc.Languages()
	if len(langs) > 10 {
		langs = langs[:10]
	}

	status := "unhealthy"
	if info.Loaded {
		status = "healthy"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:             status,
		Version:            h.version,
		ModelLoaded:        info.Loaded,
		Device:             string(info.Device),
		SupportedLanguages: langs,
	})
}

// readUpload pulls the "file" part out of the multipart body. It writes the
// error response itself when ok is false. The whole body is parsed before
// intake sees it: parts beyond MaxMultipartMemory spill to os.TempDir, not
// UPLOAD_DIR, and net/http removes them when the request ends.
func (h *handlers) readUpload(c *gin.Context) (intake.Upload, func(), bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge), strings.Contains(err.Error(), "request body too large"):
			writeErrorBody(c, http.StatusRequestEntityTooLarge, string(transcription.CodeFileTooLarge), "File too large")
		case errors.Is(err, http.ErrMissingFile):
			writeErrorBody(c, http.StatusBadRequest, string(transcription.CodeMissingFilename), "No file provided")
		default:
			writeErrorBody(c, http.StatusBadRequest, "invalid_request", "Expected a multipart form with a file field")
		}
		_ = c.Error(err)
		return intake.Upload{}, nil, false
	}

	f, err := fh.Open()
	if err != nil {
		h.logger.Error("open multipart file", zap.Error(err))
		writeErrorBody(c, http.StatusInternalServerError, string(transcription.CodeInternal), "Internal server error")
		return intake.Upload{}, nil, false
	}

	up := intake.Upload{
		Filename:    fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Content:     f,
	}
	return up, func() { _ = f.Close() }, true
}

func (h *handlers) writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	e, ok := transcription.AsError(err)
	if !ok {
		h.logger.Error("unclassified error", zap.Error(err))
		writeErrorBody(c, http.StatusInternalServerError, string(transcription.CodeInternal), "Internal server error")
		return
	}
	writeErrorBody(c, StatusFor(e), string(e.Code), e.Message)
}

// StatusFor maps a pipeline error onto an HTTP status.
func StatusFor(e *transcription.Error) int {
	switch e.Kind {
	case transcription.KindValidation:
		if e.Code == transcription.CodeFileTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case transcription.KindFormat:
		return http.StatusBadRequest
	case transcription.KindResource:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErrorBody(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Detail:    detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
