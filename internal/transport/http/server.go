package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/flopchat-server/internal/auth"
	"github.com/vovakirdan/flopchat-server/internal/config"
	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/relay"
	"github.com/vovakirdan/flopchat-server/internal/session"
)

// Deps are the collaborators shared by every route.
type Deps struct {
	Router    *relay.Router
	Registry  session.Membership
	Validator auth.Validator
	Config    config.Config
	Logger    *zerolog.Logger
	Metrics   *core.Metrics
	// Gatherer serves /metrics when non-nil.
	Gatherer prometheus.Gatherer
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds an HTTP server with the health, metrics and WebSocket routes.
// WebSocket endpoints sit on the stdlib mux so the upgrade can hijack the
// raw connection; everything else goes through gin.
func NewServer(deps Deps) *stdhttp.Server {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(deps.Logger))

	engine.GET("/health", healthHandler)
	if deps.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	mux := stdhttp.NewServeMux()
	mux.Handle("GET /ws/chat/{room}", NewWSHandler(deps.Router.Handler(relay.ChannelChat), deps))
	mux.Handle("GET /ws/notification", NewWSHandler(deps.Router.Handler(relay.ChannelNotification), deps))
	mux.Handle("GET /ws/call/{room}", NewWSHandler(deps.Router.Handler(relay.ChannelSignal), deps))
	mux.Handle("/", engine)

	return &stdhttp.Server{
		Addr:              deps.Config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: deps.Config.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
