package vsource

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bluenviron/demuxcheck/pkg/logger"
	"github.com/bluenviron/demuxcheck/pkg/metrics"
)

// Server exposes a Source over HTTP.
type Server struct {
	//
	// parameters (all optional except Source)
	//
	// listen address.
	// It defaults to ":8888".
	Address string
	// base URL that is prepended to request paths in order to obtain URIs of the source.
	// It defaults to "http://unit.test".
	BaseURL string
	// source.
	Source *Source
	// when set, metrics are exposed on /metrics.
	Metrics *metrics.Metrics
	// log function.
	Log logger.Func

	//
	// private
	//

	ln         net.Listener
	httpServer *http.Server
	done       chan struct{}
}

// Initialize initializes the Server and starts listening.
func (s *Server) Initialize() error {
	if s.Source == nil {
		return errors.New("source not provided")
	}
	if s.Address == "" {
		s.Address = ":8888"
	}
	if s.BaseURL == "" {
		s.BaseURL = "http://unit.test"
	}
	if s.Log == nil {
		s.Log = logger.Default
	}

	var err error
	s.ln, err = net.Listen("tcp", s.Address)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.done = make(chan struct{})

	go s.run()

	s.Log(logger.LevelInfo, "listener opened on %s", s.ln.Addr())

	return nil
}

// Close closes the Server.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx) //nolint:errcheck
	<-s.done
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) run() {
	defer close(s.done)

	err := s.httpServer.Serve(s.ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.Log(logger.LevelError, "%v", err)
	}
}

// Handler returns the HTTP handler of the Server.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck

	if s.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	router.NoRoute(s.onRequest)

	return router
}

func (s *Server) onRequest(ctx *gin.Context) {
	u, err := url.Parse(strings.TrimSuffix(s.BaseURL, "/") + ctx.Request.URL.RequestURI())
	if err != nil {
		ctx.Status(http.StatusBadRequest)
		return
	}

	req := ctx.Request.Clone(ctx.Request.Context())
	req.URL = u
	req.Body = nil

	res, err := s.Source.RoundTrip(req)
	if err != nil {
		ctx.Status(http.StatusInternalServerError)
		return
	}
	defer res.Body.Close()

	for k, vals := range res.Header {
		for _, v := range vals {
			ctx.Writer.Header().Add(k, v)
		}
	}
	ctx.Status(res.StatusCode)

	_, err = io.Copy(ctx.Writer, res.Body)
	if err != nil {
		s.Log(logger.LevelWarn, "%s: %v", u, err)
	}
}
