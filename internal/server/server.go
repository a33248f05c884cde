package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WIZARDISHUNGRY/samask/internal/logger"
	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/WIZARDISHUNGRY/samask/internal/masker"
	"github.com/WIZARDISHUNGRY/samask/internal/scratch"
	"github.com/WIZARDISHUNGRY/samask/pkg/fetch"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

// Server answers mask requests over HTTP.
type Server struct {
	masker    *masker.Masker
	params    mask.Params
	log       *logrus.Logger
	scratch   scratch.Factory
	client    *http.Client
	maxUpload int64
	state     func() string
	cacheName string
	stop      func()
	stopOnce  sync.Once
	engine    *gin.Engine
}

type Option func(*Server) error

// New builds a server. params supplies the seed, thread count and model
// for every request; its paths are filled in per request.
func New(m *masker.Masker, params mask.Params, mk scratch.Factory, opts ...Option) (*Server, error) {
	s := &Server{
		masker:    m,
		params:    params,
		log:       logrus.StandardLogger(),
		scratch:   mk,
		client:    fetch.NewPublicClient(fetch.DefaultMaxBytes, fetch.DefaultTTL),
		maxUpload: 32 << 20,
		state:     func() string { return "unknown" },
		cacheName: "none",
		stop:      func() {},
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	s.params.InputPath, s.params.OutputPath = "", ""

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logMiddleware(s.log), gin.Recovery())
	r.MaxMultipartMemory = s.maxUpload
	r.POST("/generate_mask", s.generateMask)
	r.GET("/stop", s.handleStop)
	r.GET("/healthz", s.healthz)
	s.engine = r
	return s, nil
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Server) error {
		s.log = l
		return nil
	}
}

// WithFetchClient sets the client used for image_url requests. The default
// only reaches public addresses.
func WithFetchClient(c *http.Client) Option {
	return func(s *Server) error {
		s.client = c
		return nil
	}
}

func WithMaxUpload(n int64) Option {
	return func(s *Server) error {
		if n <= 0 {
			return errors.Errorf("max upload %d <= 0", n)
		}
		s.maxUpload = n
		return nil
	}
}

// WithState reports the worker state on /healthz.
func WithState(state func() string) Option {
	return func(s *Server) error {
		s.state = state
		return nil
	}
}

func WithCacheName(name string) Option {
	return func(s *Server) error {
		s.cacheName = name
		return nil
	}
}

// WithStop is called once when a client requests /stop.
func WithStop(stop func()) Option {
	return func(s *Server) error {
		s.stop = stop
		return nil
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "ListenAndServe")
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "Shutdown")
	}
	return nil
}

func logMiddleware(l *logrus.Logger) gin.HandlerFunc {
	var counter uint64
	return func(c *gin.Context) {
		start := time.Now()
		e := logrus.NewEntry(l).WithFields(logrus.Fields{
			"request": atomic.AddUint64(&counter, 1),
			"path":    c.Request.URL.Path,
		})
		c.Request = c.Request.WithContext(logger.WithLogEntry(c.Request.Context(), e))
		c.Next()
		e.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Info(c.Request.Method)
	}
}
