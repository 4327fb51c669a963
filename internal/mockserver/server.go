// Package mockserver serves a stand-in key service for trying out load tests
// locally.
package mockserver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// KeyPath is the route that hands out keys.
const KeyPath = "/get-key"

// Config tunes the mock responses.
type Config struct {
	// Latency is added before every key response
	Latency time.Duration

	// Jitter adds a random extra delay in [0, jitter)
	Jitter time.Duration

	// FailureRate is the fraction of key requests answered with 500
	FailureRate float64

	// EmptyRate is the fraction of key requests answered with 200 and no body
	EmptyRate float64

	Logger logrus.FieldLogger
}

// Validate checks the rates are fractions.
func (c Config) Validate() error {
	if c.Latency < 0 || c.Jitter < 0 {
		return errors.New("latency and jitter must not be negative")
	}
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return fmt.Errorf("failure rate %v is not between 0 and 1", c.FailureRate)
	}
	if c.EmptyRate < 0 || c.EmptyRate > 1 {
		return fmt.Errorf("empty rate %v is not between 0 and 1", c.EmptyRate)
	}
	return nil
}

// Server is a key service answering GET /get-key with a fresh plain-text key.
type Server struct {
	cfg    Config
	logger logrus.FieldLogger

	served atomic.Int64
	failed atomic.Int64
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Server{cfg: cfg, logger: logger}, nil
}

// Served returns the number of keys handed out.
func (s *Server) Served() int64 {
	return s.served.Load()
}

// Failed returns the number of injected failures.
func (s *Server) Failed() int64 {
	return s.failed.Load()
}

// Handler returns the HTTP handler with the key and health routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(KeyPath, s.getKey)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	})
	return mux
}

func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.delay(r.Context()) {
		return
	}

	w.Header().Set("Content-Type", "text/plain")

	if s.cfg.FailureRate > 0 && rand.Float64() < s.cfg.FailureRate {
		s.failed.Add(1)
		http.Error(w, "key pool unavailable", http.StatusInternalServerError)
		return
	}
	if s.cfg.EmptyRate > 0 && rand.Float64() < s.cfg.EmptyRate {
		s.failed.Add(1)
		w.WriteHeader(http.StatusOK)
		return
	}

	key := uuid.NewString()
	s.served.Add(1)
	s.logger.WithField("key", key).Debug("Provided key")

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, key)
}

// delay sleeps for the configured latency. It returns false if the client
// went away first.
func (s *Server) delay(ctx context.Context) bool {
	d := s.cfg.Latency
	if s.cfg.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(s.cfg.Jitter)))
	}
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Serve runs the handler on every listener until ctx is done, then shuts the
// servers down.
func (s *Server) Serve(ctx context.Context, listeners ...net.Listener) error {
	if len(listeners) == 0 {
		return errors.New("no listeners")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ln := range listeners {
		ln := ln
		srv := &http.Server{
			Handler:           s.Handler(),
			ReadHeaderTimeout: 2 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		g.Go(func() error {
			s.logger.WithField("addr", ln.Addr().String()).Info("Mock key server listening")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", ln.Addr(), err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// Listen opens a TCP listener on every port of host.
func Listen(host string, ports []int) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(ports))
	for _, port := range ports {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err != nil {
			for _, open := range listeners {
				open.Close()
			}
			return nil, fmt.Errorf("listen on port %d: %w", port, err)
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}
