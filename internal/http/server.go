package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"bordereau/internal/config"
	"bordereau/internal/domain/bsd"
	"bordereau/internal/http/auth"
	"bordereau/internal/http/common"
	dochttp "bordereau/internal/http/documents"
	revisionhttp "bordereau/internal/http/revisions"
	tracehttp "bordereau/internal/http/traceability"
	"bordereau/internal/infra/ratelimit"
	"bordereau/internal/usecase"
)

type Server struct {
	cfg           config.Config
	r             *gin.Engine
	deps          ServerDeps
	authenticator common.Authenticator
	authorizer    bsd.Authorizer
	log           logrus.FieldLogger
}

type ServerDeps struct {
	Documents     *usecase.DocumentService
	Transporters  *usecase.TransporterService
	Graph         *usecase.GraphService
	Revisions     *usecase.RevisionService
	Events        *usecase.EventLog
	Authenticator common.Authenticator
	Authorizer    bsd.Authorizer
	// RateLimiter throttles mutating routes when cfg.RateLimitRequests > 0.
	RateLimiter ratelimit.Limiter
	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
	Logger   logrus.FieldLogger
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:           cfg,
		r:             r,
		deps:          deps,
		authenticator: deps.Authenticator,
		authorizer:    deps.Authorizer,
		log:           deps.Logger,
	}
	if s.authenticator == nil {
		s.authenticator = auth.NewHeaderAuthenticator()
	}
	if s.authorizer == nil {
		s.authorizer = auth.NewAuthorizer()
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	r.Use(s.accessLog())
	s.routes()
	return s
}

// Handler exposes the router, mostly for httptest.
func (s *Server) Handler() *gin.Engine {
	return s.r
}

func (s *Server) Run() error {
	addr := s.cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	s.log.WithField("addr", addr).Info("bsd-api listening")
	return s.r.Run(addr)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if id := common.RequestID(c); id != "" {
			entry = entry.WithField("request_id", id)
		}
		if c.Writer.Status() >= 500 {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	if s.deps.Registry != nil && s.cfg.MetricsEnabled {
		s.r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))
	}

	docs := dochttp.NewHandler(s.deps.Documents, s.deps.Transporters, s.deps.Events)
	trace := tracehttp.NewHandler(s.deps.Graph, s.deps.Documents)
	revisions := revisionhttp.NewHandler(s.deps.Revisions, s.deps.Documents)

	v1 := s.r.Group("/v1")
	{
		throttle := common.RateLimitPolicy{
			Limiter:    s.deps.RateLimiter,
			Requests:   s.cfg.RateLimitRequests,
			Window:     s.cfg.RateLimitWindow,
			FailClosed: s.cfg.RateLimitFailClosed,
		}
		read := func(permission string, handler gin.HandlerFunc) gin.HandlersChain {
			return gin.HandlersChain{
				common.AuthMiddleware(s.authenticator, s.authorizer, permission, false),
				handler,
			}
		}
		write := func(permission string, handler gin.HandlerFunc) gin.HandlersChain {
			return gin.HandlersChain{
				common.AuthMiddleware(s.authenticator, s.authorizer, permission, true),
				common.RateLimit(throttle, permission),
				handler,
			}
		}

		v1.POST("/documents", write(bsd.PermDocumentWrite, docs.HandleCreate)...)
		v1.GET("/documents", read(bsd.PermDocumentRead, docs.HandleList)...)
		v1.GET("/documents/:id", read(bsd.PermDocumentRead, docs.HandleGet)...)
		v1.PATCH("/documents/:id", write(bsd.PermDocumentWrite, docs.HandleUpdate)...)
		v1.DELETE("/documents/:id", write(bsd.PermDocumentWrite, docs.HandleDelete)...)
		v1.POST("/documents/:id/sign", write(bsd.PermDocumentSign, docs.HandleSign)...)
		v1.GET("/documents/:id/events", read(bsd.PermDocumentRead, docs.HandleEvents)...)
		v1.GET("/documents/:id/packagings", read(bsd.PermDocumentRead, docs.HandlePackagings)...)

		v1.POST("/transporters", write(bsd.PermDocumentWrite, docs.HandleCreateTransporter)...)
		v1.GET("/documents/:id/transporters", read(bsd.PermDocumentRead, docs.HandleLegs)...)
		v1.POST("/documents/:id/transporters/:leg_id", write(bsd.PermDocumentWrite, docs.HandleConnect)...)
		v1.DELETE("/documents/:id/transporters/:leg_id", write(bsd.PermDocumentWrite, docs.HandleDisconnect)...)

		v1.GET("/documents/:id/grouping", read(bsd.PermDocumentRead, trace.HandleGrouping)...)
		v1.GET("/documents/:id/synthesizing", read(bsd.PermDocumentRead, trace.HandleSynthesizing)...)
		v1.GET("/documents/:id/forwarded-by", read(bsd.PermDocumentRead, trace.HandleForwardedBy)...)
		v1.POST("/documents/:id/group", write(bsd.PermDocumentWrite, trace.HandleGroup)...)
		v1.POST("/documents/:id/synthesize", write(bsd.PermDocumentWrite, trace.HandleSynthesize)...)
		v1.POST("/documents/:id/forward", write(bsd.PermDocumentWrite, trace.HandleForward)...)
		v1.GET("/packagings/:id/forward", read(bsd.PermDocumentRead, trace.HandlePackagingForward)...)
		v1.POST("/packagings/backward", read(bsd.PermDocumentRead, trace.HandlePackagingBackward)...)
		v1.POST("/packagings/:id/next", write(bsd.PermDocumentWrite, trace.HandleLinkPackaging)...)

		v1.POST("/documents/:id/revisions", write(bsd.PermRevisionWrite, revisions.HandleCreate)...)
		v1.GET("/documents/:id/revisions", read(bsd.PermDocumentRead, revisions.HandleList)...)
		v1.GET("/revisions/:id", read(bsd.PermDocumentRead, revisions.HandleGet)...)
		v1.POST("/revisions/:id/cancel", write(bsd.PermRevisionWrite, revisions.HandleCancel)...)
		v1.POST("/approvals/:id/approve", write(bsd.PermRevisionWrite, revisions.HandleApprove)...)
		v1.POST("/approvals/:id/refuse", write(bsd.PermRevisionWrite, revisions.HandleRefuse)...)
	}
}
