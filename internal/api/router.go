// Package api exposes the directory and the call ledger over HTTP.
package api

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/asterisk-ledger/internal/store"
)

// Store is the part of *store.Store the API serves.
type Store interface {
	Ping(ctx context.Context) error

	FindContact(ctx context.Context, number string) (*store.Contact, error)
	UpsertContact(ctx context.Context, c store.Contact) error
	ListContacts(ctx context.Context) ([]store.Contact, error)
	IncompleteContacts(ctx context.Context) ([]store.Contact, error)
	DeleteContact(ctx context.Context, number string) error

	ListCalls(ctx context.Context) ([]store.Call, error)
	CallByID(ctx context.Context, id int64) (*store.Call, error)
	CallsByNumber(ctx context.Context, number string) ([]store.Call, error)
	LatestCallBetween(ctx context.Context, caller, callee string) (*store.Call, error)
	UpdateCallExtra(ctx context.Context, id int64, extra string) error
	DeleteCallByKey(ctx context.Context, key string) error
}

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "asterisk_ledger",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests served, by route and status.",
}, []string{"route", "status"})

// Server holds the handler dependencies.
type Server struct {
	store       Store
	logger      *slog.Logger
	activeCalls func() int
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithActiveCalls reports the correlator's session count on /healthz.
func WithActiveCalls(f func() int) Option {
	return func(s *Server) { s.activeCalls = f }
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(st Store, opts ...Option) *gin.Engine {
	s := &Server{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	call := r.Group("/api/call")
	call.GET("/test-connection", s.testConnection)
	call.GET("/get-all-calls", s.getAllCalls)
	call.GET("/find-contact", s.findContact)
	call.GET("/all-contacts", s.allContacts)
	call.POST("/add-contact", s.addContact)
	call.GET("/find-call", s.findCall)
	call.PUT("/update-call-location", s.updateCallLocation)
	call.GET("/get-calls-by-number", s.getCallsByNumber)
	call.GET("/get-incomplete-contacts", s.getIncompleteContacts)
	call.DELETE("/delete-contact", s.deleteContact)
	call.DELETE("/delete-call", s.deleteCall)
	call.DELETE("/delete-call-by-id", s.deleteCallByID)

	return r
}

const requestIDKey = "request_id"

// requestID echoes X-Request-ID, generating one when absent.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set(requestIDKey, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.logger.Debug("http request",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
		)
	}
}

func (s *Server) log(c *gin.Context) *slog.Logger {
	return s.logger.With("request_id", c.GetString(requestIDKey))
}
