package api

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"call-insights-go/internal/logger"
	"call-insights-go/internal/processor"
	"call-insights-go/internal/storage"
	"call-insights-go/internal/types"
)

// Ingester accepts uploads. *processor.Processor implements it.
type Ingester interface {
	Ingest(ctx context.Context, p types.TranscriptPayload) (processor.Result, error)
}

type Options struct {
	AllowedOrigins []string
	// UploadTimeout bounds a synchronous upload including its model calls.
	UploadTimeout time.Duration
}

type Router struct {
	engine *gin.Engine
}

func NewRouter(ing Ingester, store storage.Store, log *logger.Logger, opts Options) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	log = log.WithComponent("api")

	engine.Use(gin.Recovery())
	engine.Use(processTime())
	engine.Use(requestLogger(log))
	if cc := corsConfig(opts.AllowedOrigins); cc.AllowAllOrigins || len(cc.AllowOrigins) > 0 {
		engine.Use(cors.New(cc))
	}

	h := &handler{ingester: ing, store: store, log: log, uploadTimeout: opts.UploadTimeout}

	engine.GET("/healthz", h.health)

	engine.POST("/upload_transcript", h.uploadTranscript)
	engine.POST("/initialize-client", h.initializeClient)
	engine.GET("/client-config", h.clientConfigs)

	engine.POST("/fetch-aggregated-totals", h.aggregatedTotals)
	engine.POST("/time-series-data", h.timeSeries)
	engine.POST("/recent-conversations", h.recentConversations)

	engine.POST("/conversation-insights", h.conversationInsights)
	engine.GET("/conversation-insights/export", h.exportInsights)
	engine.POST("/insights-summary", h.insightsSummary)

	return &Router{engine: engine}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
