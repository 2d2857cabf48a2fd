package sms

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/mobilivr/fabric/internal/federation"
)

// InboundNotifier is the subset of federation.Node the receive
// endpoint needs: routing a freshly arrived message into the cluster.
type InboundNotifier interface {
	NotifyEvent(ctx context.Context, event federation.Event) (federation.RouteResult, error)
}

// Server is the HTTP endpoint Kannel's "GET /?callerid=&message=" hits
// on message arrival (spec.md §6). Mounted at the SMS [receive] port.
type Server struct {
	router   *chi.Mux
	node     InboundNotifier
	logger   *slog.Logger
	limiters *ipRateLimiter
}

// NewServer builds a receive Server wired to node for routing.
func NewServer(node InboundNotifier, logger *slog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		node:     node,
		logger:   logger,
		limiters: newIPRateLimiter(rate.Limit(5), 10),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(s.rateLimit)
	s.router.Get("/", s.handleReceive)
}

// handleReceive implements spec.md §6's SMS receive contract: 200
// "Message received OK" on success, 400 on missing parameters.
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	callerID := r.URL.Query().Get("callerid")
	message := r.URL.Query().Get("message")
	if callerID == "" || message == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("missing callerid or message"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	event := federation.Event{
		Type:     federation.EventTypeSMS,
		CallerID: callerID,
		Extra:    map[string]string{"message": message},
	}
	if _, err := s.node.NotifyEvent(ctx, event); err != nil {
		s.logger.Error("sms receive: routing failed", "error", err, "callerid", callerID)
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Message received OK"))
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !s.limiters.allow(ip) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
