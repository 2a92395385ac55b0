package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/smartbin/internal/auth"
	"github.com/dukerupert/smartbin/internal/claim"
	"github.com/dukerupert/smartbin/internal/handler"
	"github.com/dukerupert/smartbin/internal/identity"
	"github.com/dukerupert/smartbin/internal/metrics"
	"github.com/dukerupert/smartbin/internal/middleware"
	"github.com/dukerupert/smartbin/internal/oauth"
	"github.com/dukerupert/smartbin/internal/points"
	"github.com/dukerupert/smartbin/internal/session"
	ws "github.com/dukerupert/smartbin/internal/websocket"
	"github.com/dukerupert/smartbin/web"
)

const (
	authRateLimit = 10
	scanRateLimit = 30
	rateWindow    = time.Minute
)

// Deps are the services the HTTP layer is built from.
type Deps struct {
	Identity *identity.Service
	Claims   *claim.Service
	Policy   points.Policy
	Sessions *session.Manager
	// Google is nil when Google sign-in is not configured.
	Google        handler.AuthURLSource
	State         *oauth.StateSigner
	SecureCookies bool
	Hub           *ws.Hub
	Limiter       middleware.RateLimiter
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

type Server struct {
	pageH    *handler.PageHandler
	authH    *handler.AuthHandler
	scanH    *handler.ScanHandler
	sessions *session.Manager
	hub      *ws.Hub
	limiter  middleware.RateLimiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(d Deps) (*Server, error) {
	renderer, err := handler.NewRenderer(web.Templates(), d.Logger.With("component", "template"))
	if err != nil {
		return nil, err
	}
	return &Server{
		pageH:    handler.NewPageHandler(d.Claims, d.Policy, renderer, d.Logger.With("component", "pages")),
		authH:    handler.NewAuthHandler(d.Identity, d.Sessions, d.Google, d.State, d.SecureCookies, renderer, d.Metrics, d.Logger.With("component", "auth")),
		scanH:    handler.NewScanHandler(d.Claims, d.Metrics, d.Logger.With("component", "scan")),
		sessions: d.Sessions,
		hub:      d.Hub,
		limiter:  d.Limiter,
		metrics:  d.Metrics,
		logger:   d.Logger,
	}, nil
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /{$}", s.pageH.Index)
	mux.HandleFunc("GET /landing", s.pageH.Landing)
	mux.HandleFunc("GET /health", s.pageH.Health)
	mux.HandleFunc("GET /login", s.authH.LoginPage)
	mux.HandleFunc("POST /login", s.rateLimitedByIP("login", s.authH.Login))
	mux.HandleFunc("GET /signup", s.authH.SignupPage)
	mux.HandleFunc("POST /signup", s.rateLimitedByIP("signup", s.authH.Signup))
	mux.HandleFunc("GET /logout", s.authH.Logout)
	mux.HandleFunc("GET /auth/google", s.authH.GoogleStart)
	mux.HandleFunc("GET /auth/google/callback", s.authH.GoogleCallback)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(web.Static())))

	// Signed-in routes
	mux.Handle("GET /scan", middleware.RequireAuth(http.HandlerFunc(s.pageH.Scan)))
	mux.Handle("POST /api/scan", middleware.RequireAPIAuth(s.rateLimitedByUser("scan", s.scanH.Scan)))
	mux.Handle("GET /api/stats", middleware.RequireAPIAuth(http.HandlerFunc(s.scanH.Stats)))
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))

	// The logger sits directly on the mux so it can read the matched pattern.
	logged := middleware.RequestLogger(s.logger.With("component", "http"), s.metrics)(mux)
	return middleware.LoadSession(s.sessions, s.logger.With("component", "session"))(logged)
}

// MetricsRouter serves /metrics. It is mounted on its own listener so the
// counters stay off the public app port.
func (s *Server) MetricsRouter() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Server) rateLimitedByIP(route string, h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.limiter, s.metrics, route, middleware.RealIP, authRateLimit, rateWindow)
	return rl(h).ServeHTTP
}

func (s *Server) rateLimitedByUser(route string, h http.HandlerFunc) http.Handler {
	keyFunc := func(r *http.Request) string {
		return "user:" + auth.UserID(r.Context())
	}
	return middleware.APIRateLimit(s.limiter, s.metrics, route, keyFunc, scanRateLimit, rateWindow)(h)
}
