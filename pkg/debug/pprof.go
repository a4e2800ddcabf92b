// Package debug provides tools for inspecting the profiler itself: hook
// overhead timing, event tracing, raw frame dumps and a pprof endpoint.
package debug

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPprofAddr is used when StartPprofServer is given no address.
const DefaultPprofAddr = "localhost:6060"

// StartPprofServer serves net/http/pprof on addr until the returned stop
// function is called. Bind errors are returned immediately.
func StartPprofServer(addr string, logger *logrus.Logger) (stop func(), err error) {
	if addr == "" {
		addr = DefaultPprofAddr
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("cannot listen for pprof on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log := logger.WithField("addr", ln.Addr().String())

	go func() {
		log.Info("pprof server listening")
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("pprof server stopped")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("pprof server shutdown")
		}
	}, nil
}
