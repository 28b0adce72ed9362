package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/courier/internal/config"
)

// Signature headers, checked in order.
const (
	SignatureHeader    = "X-Webhook-Signature"
	AltSignatureHeader = "X-Signature-256"
)

// maxBodyBytes caps an inbound payload.
const maxBodyBytes = 1 << 20

// Server is the HTTP front end for the correlator.
type Server struct {
	correlator *Correlator
	engine     *gin.Engine
	httpServer *http.Server
	requests   *prometheus.CounterVec
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	routes     []func(gin.IRouter)
}

// WithRegistry registers and serves metrics from reg instead of the
// global registry.
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(o *serverOptions) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// WithRoutes mounts extra handlers on the same router, such as the
// session intake API.
func WithRoutes(register func(gin.IRouter)) ServerOption {
	return func(o *serverOptions) {
		o.routes = append(o.routes, register)
	}
}

// NewServer builds the router: POST cfg.Path for callbacks, GET /healthz
// and GET /metrics.
func NewServer(cfg config.WebhookConfig, correlator *Correlator, opts ...ServerOption) *Server {
	options := &serverOptions{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(options)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		correlator: correlator,
		engine:     engine,
		requests:   mustRequestCounter(options.registerer),
	}

	path := cfg.Path
	if path == "" {
		path = config.Default().Webhook.Path
	}
	engine.POST(path, s.handleWebhook)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(options.gatherer, promhttp.HandlerOpts{})))
	for _, register := range options.routes {
		register(engine)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func mustRequestCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Inbound webhook requests by outcome.",
	}, []string{"outcome"})
	if err := reg.Register(requests); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		requests = already.ExistingCollector.(*prometheus.CounterVec)
	}
	return requests
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until Shutdown. It returns nil on graceful shutdown.
func (s *Server) ListenAndServe() error {
	log.Printf("[webhook] listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		s.requests.WithLabelValues("read_error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading body"})
		return
	}

	signature := c.GetHeader(SignatureHeader)
	if signature == "" {
		signature = c.GetHeader(AltSignatureHeader)
	}
	if !s.correlator.Verify(body, signature) {
		s.requests.WithLabelValues("bad_signature").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	ev, err := s.correlator.Validate(body)
	if err != nil {
		s.requests.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	processed := s.correlator.Process(ev)
	if processed.Duplicate {
		s.requests.WithLabelValues("duplicate").Inc()
	} else {
		s.correlator.Dispatch(c.Request.Context(), *processed)
		s.requests.WithLabelValues("accepted").Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"duplicate": processed.Duplicate,
		"notify":    processed.ShouldNotify,
	})
}
