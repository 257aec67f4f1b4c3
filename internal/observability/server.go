// Package observability serves metrics, a liveness probe and pprof over HTTP.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "ghwatch/internal/runtime/supervisor"
	logx "ghwatch/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9090"

// ErrInsecureBind is returned when a non-loopback address is configured without a token.
var ErrInsecureBind = errors.New("observability: non-loopback addr requires a token")

type Config struct {
	Enabled bool
	Addr    string
	Token   string
}

// Server is optional; a failure here never stops the bot.
type Server struct {
	metrics http.Handler
	status  func() any
	log     logx.Logger

	mu   sync.Mutex
	cfg  Config
	sup  *rtsup.Supervisor
	addr string
}

type Option func(*Server)

// WithStatus exposes fn's result as JSON on /status.
func WithStatus(fn func() any) Option { return func(s *Server) { s.status = fn } }

func New(cfg Config, metrics http.Handler, log logx.Logger, opts ...Option) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, metrics: metrics, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Addr returns the bound address while serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start launches the server under a restart loop. It is a no-op when disabled
// or already running.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup = sup
	sup.GoRestart("observability.serve", s.serveOnce,
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("observability stop timed out", logx.Err(err))
		return
	}
	s.log.Info("observability stopped")
}

// Reconfigure restarts the server when the address or token changed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !running:
		s.Start(ctx)
	case prev.Addr != cfg.Addr || prev.Token != cfg.Token:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Handler builds the routed handler for cfg's token.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	token := s.cfg.Token
	s.mu.Unlock()

	wrap := func(h http.Handler) http.Handler { return withAuth(token, h) }
	mux := http.NewServeMux()
	mux.Handle("/healthz", wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})))
	if s.metrics != nil {
		mux.Handle("/metrics", wrap(s.metrics))
	}
	if s.status != nil {
		mux.Handle("/status", wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(s.status())
		})))
	}
	mux.Handle("/debug/pprof/", wrap(http.HandlerFunc(hpprof.Index)))
	mux.Handle("/debug/pprof/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
	mux.Handle("/debug/pprof/profile", wrap(http.HandlerFunc(hpprof.Profile)))
	mux.Handle("/debug/pprof/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
	mux.Handle("/debug/pprof/trace", wrap(http.HandlerFunc(hpprof.Trace)))
	return mux
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if strings.TrimSpace(cur.Token) == "" && !isLoopbackAddr(addr) {
		s.log.Error("observability refused to start", logx.String("addr", addr))
		return ErrInsecureBind
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// pprof profile and trace stream for up to 30s by default.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.addr = ""
		s.mu.Unlock()
	}()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("observability started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("observability server exited unexpectedly")
	}
	return err
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
