package api

import (
	"context"
	"net/http"

	"github.com/fmueller/voxserve/internal/intake"
	"github.com/fmueller/voxserve/internal/transcription"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// multipartOverhead covers form boundaries and the language field on top of the file.
const multipartOverhead = 1 << 20

// Transcriber is what the HTTP layer needs from the pipeline.
type Transcriber interface {
	Transcribe(ctx context.Context, up intake.Upload, hint string) (transcription.Result, error)
	FileInfo(ctx context.Context, up intake.Upload) (transcription.FileInfo, error)
	Languages() []string
	ModelInfo() whisper.ModelInfo
	MaxUploadSize() int64
}

type Options struct {
	AppName string
	Version string
	Service Transcriber
	Logger  *zap.Logger
	// Metrics defaults to the prometheus default registry handler.
	Metrics http.Handler
}

func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(RequestLogger(opts.Logger), Recoverer(opts.Logger), CORS())

	h := &handlers{
		appName: opts.AppName,
		version: opts.Version,
		svc:     opts.Service,
		logger:  opts.Logger,
	}

	r.GET("/", h.root)
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(opts.Metrics))

	speech := r.Group("/api/v1/speech")
	upload := LimitBody(opts.Service.MaxUploadSize() + multipartOverhead)
	speech.POST("/transcribe", upload, h.transcribe)
	speech.POST("/file-info", upload, h.fileInfo)
	speech.GET("/languages", h.languages)
	speech.GET("/model-info", h.modelInfo)
	speech.GET("/health", h.speechHealth)

	r.NoRoute(func(c *gin.Context) {
		writeErrorBody(c, http.StatusNotFound, "not_found", "Not found")
	})

	return r
}
